// Package pgvector stores transcript chunks in Postgres using the vector
// extension and cosine distance.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MikeSquared-Agency/tutor/internal/vectorindex"
)

// Index is a vectorindex.Index over the transcript_chunks table.
type Index struct {
	pool     *pgxpool.Pool
	embedder vectorindex.Embedder
	dim      int
	logger   *slog.Logger
}

// Open connects to databaseURL, installs the vector extension if needed and
// registers the vector types on every pooled connection.
func Open(ctx context.Context, databaseURL string, embedder vectorindex.Embedder, dim int, logger *slog.Logger) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	x := &Index{pool: pool, embedder: embedder, dim: dim, logger: logger.With("component", "pgvector")}
	if err := x.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return x, nil
}

func (x *Index) Close() {
	x.pool.Close()
}

func (x *Index) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS transcript_chunks (
			id         TEXT PRIMARY KEY,
			course_id  TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, x.dim),
		`CREATE INDEX IF NOT EXISTS transcript_chunks_course_idx ON transcript_chunks (course_id)`,
		`CREATE INDEX IF NOT EXISTS transcript_chunks_metadata_idx ON transcript_chunks USING gin (metadata jsonb_path_ops)`,
		`CREATE INDEX IF NOT EXISTS transcript_chunks_embedding_idx ON transcript_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, s := range stmts {
		if _, err := x.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("migrate transcript_chunks: %w", err)
		}
	}
	return nil
}

func (x *Index) Add(ctx context.Context, docs []vectorindex.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document %d has empty id", i)
		}
		texts[i] = d.Text
	}
	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i, d := range docs {
		if len(vecs[i]) != x.dim {
			return fmt.Errorf("document %q dimension mismatch: expected=%d got=%d", d.ID, x.dim, len(vecs[i]))
		}
		meta := d.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		courseID, _ := meta["courseId"].(string)
		batch.Queue(`
			INSERT INTO transcript_chunks (id, course_id, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET course_id = EXCLUDED.course_id, content = EXCLUDED.content,
			    metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
			d.ID, courseID, d.Text, meta, pgvector.NewVector(vecs[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, text string, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	q, err := vectorindex.EmbedOne(ctx, x.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	containment, err := filterJSON(filter)
	if err != nil {
		return nil, err
	}

	rows, err := x.pool.Query(ctx, `
		SELECT id, content, metadata, embedding <=> $1 AS distance
		FROM transcript_chunks
		WHERE metadata @> $2::jsonb
		ORDER BY distance, id
		LIMIT $3`,
		pgvector.NewVector(q), containment, topK)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []vectorindex.Match
	for rows.Next() {
		var m vectorindex.Match
		if err := rows.Scan(&m.ID, &m.Text, &m.Metadata, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (x *Index) Delete(ctx context.Context, filter vectorindex.Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete without a filter")
	}
	containment, err := filterJSON(filter)
	if err != nil {
		return err
	}
	tag, err := x.pool.Exec(ctx, `DELETE FROM transcript_chunks WHERE metadata @> $1::jsonb`, containment)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	x.logger.Debug("chunks deleted", "rows", tag.RowsAffected())
	return nil
}

func filterJSON(filter vectorindex.Filter) (string, error) {
	if len(filter) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("marshal filter: %w", err)
	}
	return string(b), nil
}

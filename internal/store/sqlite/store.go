// Package sqlite is an embedded course and chat-history store for local
// development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/tutor/internal/course"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements course.Store and course.HistoryStore on SQLite.
// Timestamps are stored as unix nanoseconds.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		stmts, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(stmts)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

const courseColumns = `id, title, transcript, metadata, processing_status, processed_at, created_at, updated_at`

func (s *Store) Create(ctx context.Context, c *course.Course) error {
	meta, err := json.Marshal(orEmpty(c.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	status := c.Status
	if status == "" {
		status = course.StatusPending
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, title, transcript, metadata, processing_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Title, c.Transcript, string(meta), string(status), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Errorf(course.KindConflict, "create course", c.ID, "course already exists")
	}
	c.Status = status
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*course.Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	c, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, course.E(course.KindNotFound, "get course", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status course.Status, processedAt *time.Time) error {
	var processed sql.NullInt64
	if processedAt != nil {
		processed = sql.NullInt64{Int64: processedAt.UnixNano(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE courses SET processing_status = ?, processed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(status), processed, s.now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update course status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.E(course.KindNotFound, "update course status", id, nil)
	}
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from []course.Status, to course.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{string(to), s.now().UnixNano(), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE courses SET processing_status = ?, updated_at = ?
		WHERE id = ? AND processing_status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition course status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition course status: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...course.Status) ([]*course.Course, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+courseColumns+` FROM courses
		WHERE processing_status IN (`+placeholders(len(statuses))+`)
		ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var out []*course.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Append(ctx context.Context, courseID string, role course.Role, content string) (*course.ChatMessage, error) {
	ts := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (course_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		courseID, string(role), content, ts.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("chat message id: %w", err)
	}
	return &course.ChatMessage{ID: id, CourseID: courseID, Role: role, Content: content, Timestamp: ts}, nil
}

func (s *Store) List(ctx context.Context, courseID string) ([]course.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, role, content, timestamp
		FROM chat_history WHERE course_id = ?
		ORDER BY timestamp, id`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	defer rows.Close()

	out := []course.ChatMessage{}
	for rows.Next() {
		var m course.ChatMessage
		var role string
		var ts int64
		if err := rows.Scan(&m.ID, &m.CourseID, &role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Role = course.Role(role)
		m.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCourse(row scanner) (*course.Course, error) {
	var (
		c         course.Course
		meta      string
		status    string
		processed sql.NullInt64
		created   int64
		updated   int64
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Transcript, &meta, &status, &processed, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	c.Status = course.Status(status)
	if processed.Valid {
		t := time.Unix(0, processed.Int64).UTC()
		c.ProcessedAt = &t
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return &c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

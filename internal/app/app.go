// Package app builds the process-wide service graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/tutor/internal/chunker"
	"github.com/MikeSquared-Agency/tutor/internal/config"
	"github.com/MikeSquared-Agency/tutor/internal/course"
	"github.com/MikeSquared-Agency/tutor/internal/embedding"
	"github.com/MikeSquared-Agency/tutor/internal/hermes"
	"github.com/MikeSquared-Agency/tutor/internal/ingest"
	"github.com/MikeSquared-Agency/tutor/internal/llm/anthropic"
	"github.com/MikeSquared-Agency/tutor/internal/llm/openai"
	"github.com/MikeSquared-Agency/tutor/internal/lock"
	"github.com/MikeSquared-Agency/tutor/internal/query"
	"github.com/MikeSquared-Agency/tutor/internal/store"
	"github.com/MikeSquared-Agency/tutor/internal/store/sqlite"
	"github.com/MikeSquared-Agency/tutor/internal/vectorindex"
	"github.com/MikeSquared-Agency/tutor/internal/vectorindex/memory"
	"github.com/MikeSquared-Agency/tutor/internal/vectorindex/pgvector"
	"github.com/MikeSquared-Agency/tutor/internal/vectorindex/qdrant"
)

// Records is what both store backends provide.
type Records interface {
	course.Store
	course.HistoryStore
	Migrate(ctx context.Context) error
}

// App owns every long-lived dependency. Build it once per process and Close
// it on shutdown.
type App struct {
	Config   config.Config
	Courses  course.Store
	History  course.HistoryStore
	Index    vectorindex.Index
	Pipeline *ingest.Pipeline
	Engine   *query.Engine
	// Events is nil when NATS_URL is unset.
	Events *hermes.Client

	records Records
	logger  *slog.Logger
	closers []func()
}

type Option func(*options)

type options struct {
	completer query.Completer
	embedder  vectorindex.Embedder
	noEvents  bool
}

// WithCompleter overrides the configured chat model.
func WithCompleter(c query.Completer) Option { return func(o *options) { o.completer = c } }

// WithEmbedder overrides the configured embedding model.
func WithEmbedder(e vectorindex.Embedder) Option { return func(o *options) { o.embedder = e } }

// WithoutEvents skips the NATS connection even when NATS_URL is set. CLI
// one-shot commands use it.
func WithoutEvents() Option { return func(o *options) { o.noEvents = true } }

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, logger: logger}

	if err := a.build(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	recs, closeRecords, err := OpenRecords(ctx, cfg.DatabaseURL, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeRecords)
	a.records, a.Courses, a.History = recs, recs, recs

	llmClient, embedder, err := a.models(o)
	if err != nil {
		return err
	}

	if a.Index, err = a.openIndex(ctx, embedder); err != nil {
		return err
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return err
	}

	pipelineOpts := []ingest.Option{}
	if cfg.RedisAddr != "" {
		rl, err := lock.NewRedis(ctx, cfg.RedisAddr, cfg.LockTTL, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = rl.Close() })
		pipelineOpts = append(pipelineOpts, ingest.WithLocker(rl))
		a.logger.Info("redis lock ready", "addr", cfg.RedisAddr)
	}
	if cfg.NatsURL != "" && !o.noEvents {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, a.logger)
		if err != nil {
			return err
		}
		a.Events = hc
		a.closers = append(a.closers, hc.Close)
		pipelineOpts = append(pipelineOpts, ingest.WithPublisher(hc))
		a.logger.Info("NATS connected", "url", cfg.NatsURL)
	}
	a.Pipeline = ingest.New(a.Courses, a.Index, ch, a.logger, pipelineOpts...)

	// The memory index starts empty while the course store may not.
	if cfg.VectorIndex == "memory" {
		if _, err := a.Pipeline.Reindex(ctx); err != nil {
			return fmt.Errorf("reindex completed courses: %w", err)
		}
	}

	strategy, err := a.strategy()
	if err != nil {
		return err
	}
	a.Engine, err = query.New(a.Courses, a.History, a.Index, llmClient, strategy, a.logger)
	return err
}

// OpenRecords opens the course and history store named by databaseURL:
// postgres:// for Postgres, sqlite: for an embedded SQLite file. The
// returned func closes it.
func OpenRecords(ctx context.Context, databaseURL string, logger *slog.Logger) (Records, func(), error) {
	if config.IsPostgresURL(databaseURL) {
		s, err := store.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("database connected", "driver", "postgres")
		return s, s.Close, nil
	}
	path := config.SQLitePath(databaseURL)
	if path == "" {
		return nil, nil, fmt.Errorf("unsupported DATABASE_URL %q", databaseURL)
	}
	s, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("database connected", "driver", "sqlite", "path", path)
	return s, func() { _ = s.Close() }, nil
}

func (a *App) models(o options) (query.Completer, vectorindex.Embedder, error) {
	cfg := a.Config

	var oa *openai.Client
	needOpenAI := (o.completer == nil && cfg.LLMProvider == "openai") ||
		(o.embedder == nil && cfg.EmbeddingProvider == "openai")
	if needOpenAI {
		var err error
		oa, err = openai.NewClient(openai.Config{
			APIKey:            cfg.OpenAIAPIKey,
			BaseURL:           cfg.OpenAIBaseURL,
			ChatModel:         cfg.ChatModel,
			EmbeddingModel:    cfg.EmbeddingModel,
			Temperature:       cfg.LLMTemperature,
			MaxTokens:         cfg.LLMMaxTokens,
			RequestsPerSecond: cfg.LLMRateLimit,
			MaxRetries:        2,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	completer := o.completer
	if completer == nil {
		switch cfg.LLMProvider {
		case "openai":
			completer = oa
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				return nil, nil, errors.New("ANTHROPIC_API_KEY is required")
			}
			completer = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.LLMTemperature, cfg.LLMMaxTokens)
		default:
			return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
		}
		a.logger.Info("chat model ready", "provider", cfg.LLMProvider)
	}

	embedder := o.embedder
	if embedder == nil {
		switch cfg.EmbeddingProvider {
		case "openai":
			embedder = oa
		case "hashing":
			embedder = embedding.NewHashing(cfg.EmbeddingDim)
		default:
			return nil, nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", cfg.EmbeddingProvider)
		}
		a.logger.Info("embedding model ready", "provider", cfg.EmbeddingProvider)
	}
	return completer, embedder, nil
}

func (a *App) openIndex(ctx context.Context, embedder vectorindex.Embedder) (vectorindex.Index, error) {
	cfg := a.Config
	switch cfg.VectorIndex {
	case "memory":
		a.logger.Warn("using in-memory vector index; completed courses are reindexed on every start")
		return memory.New(embedder), nil
	case "qdrant":
		x, err := qdrant.New(qdrant.Config{
			URL:        cfg.QdrantURL(),
			Collection: cfg.VectorIndexCollection,
			VectorDim:  cfg.EmbeddingDim,
		}, embedder, a.logger)
		if err != nil {
			return nil, err
		}
		if err := x.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return x, nil
	case "pgvector":
		x, err := pgvector.Open(ctx, cfg.PgvectorURL, embedder, cfg.EmbeddingDim, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, x.Close)
		return x, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_INDEX %q", cfg.VectorIndex)
	}
}

func (a *App) strategy() (query.Strategy, error) {
	s := query.DefaultStrategy()
	s.TopK = a.Config.RetrievalTopK
	s.RelevanceThreshold = a.Config.RelevanceThreshold
	s.GenerationTimeout = a.Config.GenerationTimeout
	if a.Config.EngineConfigPath == "" {
		return s, nil
	}
	loaded, err := query.LoadStrategy(a.Config.EngineConfigPath, s)
	if err != nil {
		return s, err
	}
	a.logger.Info("engine strategy loaded", "path", a.Config.EngineConfigPath)
	return loaded, nil
}

// Migrate applies the relational schema.
func (a *App) Migrate(ctx context.Context) error {
	return a.records.Migrate(ctx)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

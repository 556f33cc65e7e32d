package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string

	VectorIndex           string
	VectorIndexHost       string
	VectorIndexPort       int
	VectorIndexCollection string
	PgvectorURL           string

	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingDim      int

	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	ChatModel       string
	LLMTemperature  float64
	LLMMaxTokens    int
	LLMRateLimit    float64
	AnthropicAPIKey string
	AnthropicModel  string

	ChunkSize          int
	ChunkOverlap       int
	RetrievalTopK      int
	RelevanceThreshold float64
	GenerationTimeout  time.Duration
	EngineConfigPath   string

	NatsURL      string
	NatsToken    string
	RedisAddr    string
	LockTTL      time.Duration
	SweepOnStart bool
}

func Load() Config {
	databaseURL := envStr("DATABASE_URL", "sqlite:tutor.db")
	return Config{
		Port:        envInt("PORT", 3001),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		DatabaseURL: databaseURL,

		VectorIndex:           strings.ToLower(envStr("VECTOR_INDEX", "memory")),
		VectorIndexHost:       envStr("VECTOR_INDEX_HOST", "localhost"),
		VectorIndexPort:       envInt("VECTOR_INDEX_PORT", 6333),
		VectorIndexCollection: envStr("VECTOR_INDEX_COLLECTION", "course_transcripts"),
		PgvectorURL:           envStr("PGVECTOR_URL", databaseURL),

		EmbeddingProvider: strings.ToLower(envStr("EMBEDDING_PROVIDER", "openai")),
		EmbeddingModel:    envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:      envInt("EMBEDDING_DIM", 1536),

		LLMProvider:     strings.ToLower(envStr("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", ""),
		ChatModel:       envStr("CHAT_MODEL", "gpt-3.5-turbo"),
		LLMTemperature:  envFloat("LLM_TEMPERATURE", 0.6),
		LLMMaxTokens:    envInt("LLM_MAX_TOKENS", 1024),
		LLMRateLimit:    envFloat("LLM_RATE_LIMIT", 0),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),

		ChunkSize:          envInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       envInt("CHUNK_OVERLAP", 200),
		RetrievalTopK:      envInt("RETRIEVAL_TOP_K", 5),
		RelevanceThreshold: envFloat("RELEVANCE_THRESHOLD", 0.8),
		GenerationTimeout:  envDuration("GENERATION_TIMEOUT", 60*time.Second),
		EngineConfigPath:   envStr("TUTOR_ENGINE_CONFIG", ""),

		NatsURL:      envStr("NATS_URL", ""),
		NatsToken:    envStr("NATS_TOKEN", ""),
		RedisAddr:    envStr("REDIS_ADDR", ""),
		LockTTL:      envDuration("LOCK_TTL", 10*time.Minute),
		SweepOnStart: envBool("SWEEP_ON_START", true),
	}
}

// Validate rejects provider combinations that cannot start.
func (c Config) Validate() error {
	switch c.VectorIndex {
	case "memory", "qdrant", "pgvector":
	default:
		return fmt.Errorf("unknown VECTOR_INDEX %q", c.VectorIndex)
	}
	switch c.EmbeddingProvider {
	case "hashing":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for openai embeddings")
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai chat model")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic chat model")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.VectorIndex == "pgvector" && !IsPostgresURL(c.PgvectorURL) {
		return fmt.Errorf("PGVECTOR_URL must be a postgres url, got %q", c.PgvectorURL)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("invalid chunking: size %d overlap %d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// QdrantURL is the REST endpoint of the configured Qdrant host.
func (c Config) QdrantURL() string {
	host := c.VectorIndexHost
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimRight(host, "/"), c.VectorIndexPort)
	}
	return fmt.Sprintf("http://%s:%d", host, c.VectorIndexPort)
}

func IsPostgresURL(u string) bool {
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// SQLitePath extracts the file path from a sqlite: url, or returns "" when
// the url does not name a SQLite database.
func SQLitePath(u string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:", "file:"} {
		if strings.HasPrefix(u, prefix) {
			return strings.TrimPrefix(u, prefix)
		}
	}
	return ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Vector backends.
const (
	BackendPgvector = "pgvector"
	BackendMemory   = "memory"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	// DatabaseURL is required by the pgvector backend only.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"pgvector"`
	// IndexDir persists the memory backend between runs when set.
	IndexDir string `envconfig:"INDEX_DIR"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"tender-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	GroqAPIKey        string `envconfig:"GROQ_API_KEY"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	HuggingFaceAPIKey string `envconfig:"HUGGINGFACE_API_KEY"`

	DefaultModel    string        `envconfig:"DEFAULT_MODEL"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"60s"`
	// ProviderRPS caps outbound calls per provider; 0 disables the limiter.
	ProviderRPS float64 `envconfig:"PROVIDER_RPS" default:"0"`

	EmbeddingMode  string        `envconfig:"EMBEDDING_MODE" default:"openai"`
	QueryCacheSize int           `envconfig:"QUERY_CACHE_SIZE" default:"512"`
	QueryCacheTTL  time.Duration `envconfig:"QUERY_CACHE_TTL" default:"15m"`

	IngestPollInterval    time.Duration `envconfig:"INGEST_POLL_INTERVAL" default:"10s"`
	EvaluationConcurrency int           `envconfig:"EVALUATION_CONCURRENCY" default:"1"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("TENDER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks combinations envconfig tags cannot express.
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case BackendPgvector:
		if c.DatabaseURL == "" {
			return fmt.Errorf("TENDER_DATABASE_URL is required for the %s backend", BackendPgvector)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown vector backend %q", c.VectorBackend)
	}
	if c.EvaluationConcurrency < 1 {
		return fmt.Errorf("TENDER_EVALUATION_CONCURRENCY must be at least 1")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.VectorBackend == BackendPgvector && c.DatabaseURL != ""
}

// HasProvider reports whether any LLM provider has credentials.
func (c *Config) HasProvider() bool {
	return c.GroqAPIKey != "" || c.OpenAIAPIKey != "" || c.GeminiAPIKey != "" || c.HuggingFaceAPIKey != ""
}

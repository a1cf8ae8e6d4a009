package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Blob storage settings
	Storage StorageConfig

	// External parser service
	Parser ParserConfig

	// Embedding provider
	Embeddings EmbeddingsConfig

	// Pipeline worker and queue tuning
	Pipeline PipelineConfig

	// Admin/ops API
	Admin AdminConfig

	// OpenTelemetry
	Otel OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"coverline"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database        string        `env:"POSTGRES_DB" envDefault:"coverline"`
	SSLMode         string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MinConns        int           `env:"DB_MIN_CONNS" envDefault:"5"`
	MaxConns        int           `env:"DB_MAX_CONNS" envDefault:"20"`
	MaxIdleTime     time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	StatementTimout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"30s"`
	QueryDebug      bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// StorageConfig holds storage (MinIO/S3) configuration.
type StorageConfig struct {
	// Endpoint is the MinIO/S3 endpoint URL
	Endpoint string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	// AccessKeyID is the access key ID
	AccessKeyID string `env:"MINIO_ACCESS_KEY" envDefault:""`
	// SecretAccessKey is the secret access key
	SecretAccessKey string `env:"MINIO_SECRET_KEY" envDefault:""`
	// RawBucket holds uploaded originals
	RawBucket string `env:"STORAGE_RAW_BUCKET" envDefault:"raw"`
	// ParsedBucket holds normalized markdown artifacts
	ParsedBucket string `env:"STORAGE_PARSED_BUCKET" envDefault:"parsed"`
	// UseSSL determines if SSL should be used
	UseSSL bool `env:"MINIO_USE_SSL" envDefault:"false"`
	// Region is the bucket region (for S3 compatibility)
	Region string `env:"MINIO_REGION" envDefault:"us-east-1"`
	// SignedURLTTL bounds client-facing presigned URLs
	SignedURLTTL time.Duration `env:"STORAGE_SIGNED_URL_TTL" envDefault:"5m"`
}

// IsConfigured returns true if storage is configured.
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// ParserConfig holds the external document parser configuration.
type ParserConfig struct {
	// ServiceURL is the parser service base URL
	ServiceURL string `env:"PARSER_SERVICE_URL" envDefault:"http://localhost:8000"`
	// APIKey authenticates against the parser, if it requires one
	APIKey string `env:"PARSER_API_KEY" envDefault:""`
	// TimeoutMs is the per-call timeout in milliseconds (default 60s)
	TimeoutMs int `env:"PARSER_TIMEOUT_MS" envDefault:"60000"`
	// MaxFileSizeMB is the largest file the parser accepts
	MaxFileSizeMB int `env:"PARSER_MAX_FILE_SIZE_MB" envDefault:"100"`
}

// Timeout returns the per-call timeout as a Duration.
func (p *ParserConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// EmbeddingsConfig holds the embedding provider configuration.
type EmbeddingsConfig struct {
	// BaseURL is the provider endpoint; empty disables embeddings
	BaseURL string `env:"EMBEDDING_BASE_URL" envDefault:""`
	// APIKey authenticates against the provider
	APIKey string `env:"EMBEDDING_API_KEY" envDefault:""`
	// Model is the embedding model name
	Model string `env:"EMBEDDING_MODEL" envDefault:"text-embed-insurance"`
	// ModelVersion is stamped on every committed vector
	ModelVersion string `env:"EMBEDDING_MODEL_VERSION" envDefault:"1"`
	// Dimension is the vector length (must match the chunks schema)
	Dimension int `env:"EMBEDDING_DIMENSION" envDefault:"1536"`
	// TimeoutMs is the per-batch timeout in milliseconds
	TimeoutMs int `env:"EMBEDDING_TIMEOUT_MS" envDefault:"60000"`
	// RequestsPerSecond caps outbound calls; zero disables throttling
	RequestsPerSecond float64 `env:"EMBEDDING_RPS" envDefault:"5"`
	// Burst is the token bucket burst size
	Burst int `env:"EMBEDDING_BURST" envDefault:"5"`
	// NetworkDisabled disables provider calls (for testing)
	NetworkDisabled bool `env:"EMBEDDINGS_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if an embedding provider is configured.
func (e *EmbeddingsConfig) IsEnabled() bool {
	if e.NetworkDisabled {
		return false
	}
	return e.BaseURL != ""
}

// Timeout returns the per-batch timeout as a Duration.
func (e *EmbeddingsConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// PipelineConfig tunes the job queue and worker runtime.
type PipelineConfig struct {
	// Parallelism is the number of concurrently executing stage tasks
	Parallelism int `env:"PIPELINE_PARALLELISM" envDefault:"4"`
	// PollIntervalMs is the claim loop sleep in milliseconds
	PollIntervalMs int `env:"PIPELINE_POLL_INTERVAL_MS" envDefault:"1000"`
	// LeaseTTLSec is how long a claim stays valid without a heartbeat
	LeaseTTLSec int `env:"PIPELINE_LEASE_TTL_SEC" envDefault:"60"`
	// MaxRetries bounds transient-error retries before dead-letter
	MaxRetries int `env:"PIPELINE_MAX_RETRIES" envDefault:"3"`
	// RetryBaseSec is the backoff base in seconds
	RetryBaseSec int `env:"PIPELINE_RETRY_BASE_SEC" envDefault:"3"`
	// RetryCapSec caps the backoff in seconds
	RetryCapSec int `env:"PIPELINE_RETRY_CAP_SEC" envDefault:"300"`
	// EmbedBatchMax bounds one embedding provider call
	EmbedBatchMax int `env:"PIPELINE_EMBED_BATCH_MAX" envDefault:"256"`
	// ShutdownGraceSec bounds the drain window on shutdown; zero means lease TTL
	ShutdownGraceSec int `env:"PIPELINE_SHUTDOWN_GRACE_SEC" envDefault:"0"`
	// ParsePollDelaySec is the requeue delay while the parser is still running
	ParsePollDelaySec int `env:"PIPELINE_PARSE_POLL_DELAY_SEC" envDefault:"5"`
	// ParseStageBudgetSec bounds total wall time in the parsing stage
	ParseStageBudgetSec int `env:"PIPELINE_PARSE_STAGE_BUDGET_SEC" envDefault:"900"`
}

// PollInterval returns the claim loop sleep as a Duration.
func (p *PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// LeaseTTL returns the lease TTL as a Duration.
func (p *PipelineConfig) LeaseTTL() time.Duration {
	return time.Duration(p.LeaseTTLSec) * time.Second
}

// ShutdownGrace returns the drain window, defaulting to the lease TTL.
func (p *PipelineConfig) ShutdownGrace() time.Duration {
	if p.ShutdownGraceSec > 0 {
		return time.Duration(p.ShutdownGraceSec) * time.Second
	}
	return p.LeaseTTL()
}

// ParsePollDelay returns the parser requeue delay as a Duration.
func (p *PipelineConfig) ParsePollDelay() time.Duration {
	return time.Duration(p.ParsePollDelaySec) * time.Second
}

// ParseStageBudget returns the parse stage wall-time budget as a Duration.
func (p *PipelineConfig) ParseStageBudget() time.Duration {
	return time.Duration(p.ParseStageBudgetSec) * time.Second
}

// AdminConfig holds the operational API configuration.
type AdminConfig struct {
	// APIKey is the static key for the admin endpoints (X-API-Key header)
	APIKey string `env:"ADMIN_API_KEY" envDefault:""`
}

// IsConfigured returns true if the admin API is usable.
func (a *AdminConfig) IsConfigured() bool {
	return a.APIKey != ""
}

// NewConfig loads configuration from environment variables.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("parser_url", cfg.Parser.ServiceURL),
	)

	return cfg, nil
}

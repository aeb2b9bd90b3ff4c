// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration values (spec.md §6.4 key table).
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080

	DefaultLogLevel  = "INFO"
	DefaultLogFormat = LogFormat("pretty")

	DefaultEmbedProvider = "openai"
	DefaultEmbedModel    = "text-embedding-3-small"
	DefaultEmbedDim      = 1536

	DefaultWDoc      = 0.6
	DefaultWStep     = 0.4
	DefaultOverfetch = 3

	DefaultIngestChunkSize    = 500
	DefaultIngestParallelism  = 4
	DefaultEmbedBatchSize     = 25
	DefaultEmbedParallelism   = 4

	DefaultSearchTimeout       = 10 * time.Second
	DefaultIngestChunkTimeout  = 60 * time.Second
	DefaultShutdownGrace       = 15 * time.Second
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// FusionWeights holds the linear score-fusion weights for the doc/step
// tiers (spec.md §4.6, W_DOC and W_STEP).
type FusionWeights struct {
	Doc  float64
	Step float64
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qbench"
	}
	return filepath.Join(home, ".qbench")
}

// DefaultLogger returns the default slog logger for library consumers.
func DefaultLogger() *slog.Logger {
	return slog.Default()
}

// PrepareDataDir creates the data directory if it does not exist and returns it.
func PrepareDataDir(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dataDir, nil
}

// AppConfig holds the main application configuration, covering both the
// ambient stack (host/port/logging/API keys) and the domain stack named in
// spec.md §6.4.
type AppConfig struct {
	host      string
	port      int
	dataDir   string
	logLevel  string
	logFormat LogFormat
	apiKeys   []string

	dbURL   string // DB_URL: dialect selector for internal/database.parseDialector
	storeDSN string // STORE_DSN: vector store connection string

	embedProvider string
	embedModel    string
	embedDim      int

	fusion    FusionWeights
	overfetch int

	ingestChunkSize   int
	ingestParallelism int
	embedBatchSize    int
	embedParallelism  int

	checkpointPath string

	searchTimeout      time.Duration
	ingestChunkTimeout time.Duration
	shutdownGrace      time.Duration

	redisURL string
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	dataDir := DefaultDataDir()
	return AppConfig{
		host:      DefaultHost,
		port:      DefaultPort,
		dataDir:   dataDir,
		logLevel:  DefaultLogLevel,
		logFormat: DefaultLogFormat,
		apiKeys:   []string{},

		dbURL:    "sqlite:///" + filepath.Join(dataDir, "qbench.db"),
		storeDSN: "sqlite:///" + filepath.Join(dataDir, "qbench.db"),

		embedProvider: DefaultEmbedProvider,
		embedModel:    DefaultEmbedModel,
		embedDim:      DefaultEmbedDim,

		fusion:    FusionWeights{Doc: DefaultWDoc, Step: DefaultWStep},
		overfetch: DefaultOverfetch,

		ingestChunkSize:   DefaultIngestChunkSize,
		ingestParallelism: DefaultIngestParallelism,
		embedBatchSize:    DefaultEmbedBatchSize,
		embedParallelism:  DefaultEmbedParallelism,

		checkpointPath: filepath.Join(dataDir, "checkpoint.json"),

		searchTimeout:      DefaultSearchTimeout,
		ingestChunkTimeout: DefaultIngestChunkTimeout,
		shutdownGrace:      DefaultShutdownGrace,
	}
}

// Host returns the server host to bind to.
func (c AppConfig) Host() string { return c.host }

// Port returns the server port to listen on.
func (c AppConfig) Port() int { return c.port }

// Addr returns the combined host:port address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// DataDir returns the data directory path.
func (c AppConfig) DataDir() string { return c.dataDir }

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// APIKeys returns the configured API keys.
func (c AppConfig) APIKeys() []string {
	keys := make([]string, len(c.apiKeys))
	copy(keys, c.apiKeys)
	return keys
}

// DBURL returns the dialect-selecting database URL (DB_URL).
func (c AppConfig) DBURL() string { return c.dbURL }

// StoreDSN returns the vector store connection string (STORE_DSN).
func (c AppConfig) StoreDSN() string { return c.storeDSN }

// EmbedProvider returns the embedding backend name (EMBED_PROVIDER).
func (c AppConfig) EmbedProvider() string { return c.embedProvider }

// EmbedModel returns the embedding model identifier (EMBED_MODEL).
func (c AppConfig) EmbedModel() string { return c.embedModel }

// EmbedDim returns the embedding vector dimension (EMBED_DIM).
func (c AppConfig) EmbedDim() int { return c.embedDim }

// Fusion returns the score-fusion weights (W_DOC, W_STEP).
func (c AppConfig) Fusion() FusionWeights { return c.fusion }

// Overfetch returns the step-tier overfetch multiplier (OVERFETCH).
func (c AppConfig) Overfetch() int { return c.overfetch }

// IngestChunkSize returns the ingestion chunk size (B_ingest).
func (c AppConfig) IngestChunkSize() int { return c.ingestChunkSize }

// IngestParallelism returns the ingestion worker count (P_ingest).
func (c AppConfig) IngestParallelism() int { return c.ingestParallelism }

// EmbedBatchSize returns the embedding request batch size (B_embed).
func (c AppConfig) EmbedBatchSize() int { return c.embedBatchSize }

// EmbedParallelism returns the configured embedding request concurrency
// (P_embed). No component reads it: OpenAIProvider.Embed sends all batches
// of a call at once.
func (c AppConfig) EmbedParallelism() int { return c.embedParallelism }

// CheckpointPath returns the ingestion checkpoint file path (CHECKPOINT_PATH).
func (c AppConfig) CheckpointPath() string { return c.checkpointPath }

// SearchTimeout returns the per-search deadline (SEARCH_TIMEOUT).
func (c AppConfig) SearchTimeout() time.Duration { return c.searchTimeout }

// IngestChunkTimeout returns the per-chunk ingest deadline (INGEST_CHUNK_TIMEOUT).
func (c AppConfig) IngestChunkTimeout() time.Duration { return c.ingestChunkTimeout }

// ShutdownGrace returns the graceful shutdown window (SHUTDOWN_GRACE).
func (c AppConfig) ShutdownGrace() time.Duration { return c.shutdownGrace }

// RedisURL returns the optional Redis URL for distributed rate limiting
// (REDIS_URL). Empty means the in-process limiter is used.
func (c AppConfig) RedisURL() string { return c.redisURL }

// EnsureDataDir creates the data directory if it doesn't exist.
func (c AppConfig) EnsureDataDir() error {
	return os.MkdirAll(c.dataDir, 0o755)
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithHost sets the server host.
func WithHost(host string) AppConfigOption {
	return func(c *AppConfig) { c.host = host }
}

// WithPort sets the server port.
func WithPort(port int) AppConfigOption {
	return func(c *AppConfig) { c.port = port }
}

// WithDataDir sets the data directory.
func WithDataDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.dataDir = dir }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithAPIKeys sets the API keys.
func WithAPIKeys(keys []string) AppConfigOption {
	return func(c *AppConfig) {
		c.apiKeys = make([]string, len(keys))
		copy(c.apiKeys, keys)
	}
}

// WithDBURL sets the dialect-selecting database URL.
func WithDBURL(url string) AppConfigOption {
	return func(c *AppConfig) { c.dbURL = url }
}

// WithStoreDSN sets the vector store connection string.
func WithStoreDSN(dsn string) AppConfigOption {
	return func(c *AppConfig) { c.storeDSN = dsn }
}

// WithEmbedProvider sets the embedding backend name.
func WithEmbedProvider(provider string) AppConfigOption {
	return func(c *AppConfig) { c.embedProvider = provider }
}

// WithEmbedModel sets the embedding model identifier.
func WithEmbedModel(model string) AppConfigOption {
	return func(c *AppConfig) { c.embedModel = model }
}

// WithEmbedDim sets the embedding vector dimension.
func WithEmbedDim(dim int) AppConfigOption {
	return func(c *AppConfig) {
		if dim > 0 {
			c.embedDim = dim
		}
	}
}

// WithFusion sets the score-fusion weights.
func WithFusion(f FusionWeights) AppConfigOption {
	return func(c *AppConfig) { c.fusion = f }
}

// WithOverfetch sets the step-tier overfetch multiplier.
func WithOverfetch(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.overfetch = n
		}
	}
}

// WithIngestChunkSize sets the ingestion chunk size.
func WithIngestChunkSize(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.ingestChunkSize = n
		}
	}
}

// WithIngestParallelism sets the ingestion worker count.
func WithIngestParallelism(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.ingestParallelism = n
		}
	}
}

// WithEmbedBatchSize sets the embedding request batch size.
func WithEmbedBatchSize(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.embedBatchSize = n
		}
	}
}

// WithEmbedParallelism sets the embedding request concurrency.
func WithEmbedParallelism(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.embedParallelism = n
		}
	}
}

// WithCheckpointPath sets the ingestion checkpoint file path.
func WithCheckpointPath(path string) AppConfigOption {
	return func(c *AppConfig) { c.checkpointPath = path }
}

// WithSearchTimeout sets the per-search deadline.
func WithSearchTimeout(d time.Duration) AppConfigOption {
	return func(c *AppConfig) {
		if d > 0 {
			c.searchTimeout = d
		}
	}
}

// WithIngestChunkTimeout sets the per-chunk ingest deadline.
func WithIngestChunkTimeout(d time.Duration) AppConfigOption {
	return func(c *AppConfig) {
		if d > 0 {
			c.ingestChunkTimeout = d
		}
	}
}

// WithShutdownGrace sets the graceful shutdown window.
func WithShutdownGrace(d time.Duration) AppConfigOption {
	return func(c *AppConfig) {
		if d > 0 {
			c.shutdownGrace = d
		}
	}
}

// WithRedisURL sets the optional Redis URL backing C8 rate limiting.
func WithRedisURL(url string) AppConfigOption {
	return func(c *AppConfig) { c.redisURL = url }
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a new AppConfig with the given options applied.
// This copies all fields from the receiver and then applies the options,
// making it safe to use when adding new fields to AppConfig.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LogAttrs returns slog attributes for logging the configuration.
// Sensitive values like API keys and DSNs are masked or shown as counts.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("data_dir", c.dataDir),
		slog.String("log_level", c.logLevel),
		slog.String("db_url", maskDSN(c.dbURL)),
		slog.String("store_dsn", maskDSN(c.storeDSN)),
		slog.String("embed_provider", c.embedProvider),
		slog.String("embed_model", c.embedModel),
		slog.Int("embed_dim", c.embedDim),
		slog.Int("api_keys_count", len(c.apiKeys)),
		slog.Float64("w_doc", c.fusion.Doc),
		slog.Float64("w_step", c.fusion.Step),
		slog.Int("overfetch", c.overfetch),
		slog.Duration("search_timeout", c.searchTimeout),
		slog.Duration("ingest_chunk_timeout", c.ingestChunkTimeout),
		slog.Duration("shutdown_grace", c.shutdownGrace),
		slog.Bool("rate_limit_distributed", c.redisURL != ""),
	}
}

func maskDSN(dsn string) string {
	if dsn == "" {
		return "(default)"
	}
	if strings.HasPrefix(dsn, "sqlite:") {
		return dsn
	}
	return "postgres://***@***"
}

// ParseAPIKeys parses a comma-separated string of API keys.
func ParseAPIKeys(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

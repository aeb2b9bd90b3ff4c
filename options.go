package qbench

import (
	"log/slog"
	"path/filepath"

	"github.com/dmason-mlb/mlb-qbench/infrastructure/provider"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/ratelimit"
	"github.com/dmason-mlb/mlb-qbench/internal/config"
)

// databaseType identifies the vector store dialect (spec.md §6.4 DB_URL).
type databaseType int

const (
	databaseUnset databaseType = iota
	databaseSQLite
	databasePostgres
)

// clientConfig holds configuration for Client construction. Use
// newClientConfig() to create with defaults from internal/config.
type clientConfig struct {
	database  databaseType
	dbURL     string
	appConfig config.AppConfig

	embeddingBackend provider.Backend
	cacheSize        int

	rateLimiter ratelimit.Limiter
	searchQPS   float64
	searchBurst int

	version string
	logger  *slog.Logger
}

// newClientConfig creates a clientConfig with defaults from
// internal/config.NewAppConfig, the single source of truth for defaults.
func newClientConfig() *clientConfig {
	return &clientConfig{
		appConfig:   config.NewAppConfig(),
		cacheSize:   1024,
		searchQPS:   1, // 60/min default (spec.md §5)
		searchBurst: 10,
		version:     "dev",
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithSQLite configures SQLite as the vector store dialect. Vectors are
// stored as JSON and cosine similarity is computed in Go (spec.md §4.2).
func WithSQLite(path string) Option {
	return func(c *clientConfig) {
		c.database = databaseSQLite
		c.dbURL = "sqlite:///" + path
	}
}

// WithPostgres configures Postgres with the pgvector extension as the
// vector store dialect (spec.md §4.2).
func WithPostgres(dsn string) Option {
	return func(c *clientConfig) {
		c.database = databasePostgres
		c.dbURL = dsn
	}
}

// WithOpenAI sets OpenAI as the embedding provider (C1).
func WithOpenAI(apiKey string) Option {
	return func(c *clientConfig) {
		c.embeddingBackend = provider.NewOpenAIProvider(apiKey)
	}
}

// WithOpenAIConfig sets OpenAI with custom configuration.
func WithOpenAIConfig(cfg provider.OpenAIConfig) Option {
	return func(c *clientConfig) {
		c.embeddingBackend = provider.NewOpenAIProviderFromConfig(cfg)
	}
}

// WithHugot sets the local/offline ONNX embedding backend (C1's second
// "variant of a single capability", EMBED_PROVIDER=local), loading model
// files from cacheDir.
func WithHugot(cacheDir string) Option {
	return func(c *clientConfig) {
		c.embeddingBackend = provider.NewHugotEmbedding(cacheDir)
	}
}

// WithEmbeddingBackend sets a custom embedding backend.
func WithEmbeddingBackend(b provider.Backend) Option {
	return func(c *clientConfig) {
		c.embeddingBackend = b
	}
}

// WithEmbeddingCacheSize sets the LRU cache capacity (by distinct input
// text) in front of the embedding backend. 0 disables caching.
func WithEmbeddingCacheSize(n int) Option {
	return func(c *clientConfig) {
		c.cacheSize = n
	}
}

// WithAppConfig replaces the resolved AppConfig wholesale, e.g. one loaded
// via config.LoadFromEnv().ToAppConfig() (spec.md §6.4).
func WithAppConfig(cfg config.AppConfig) Option {
	return func(c *clientConfig) {
		c.appConfig = cfg
		if c.dbURL == "" {
			c.dbURL = cfg.StoreDSN()
		}
	}
}

// WithDataDir sets the data directory (created by New) and points the
// checkpoint file at checkpoint.json inside it. The SQLite database path is
// set separately, by WithSQLite.
func WithDataDir(dir string) Option {
	return func(c *clientConfig) {
		c.appConfig = c.appConfig.Apply(config.WithDataDir(dir))
		c.appConfig = c.appConfig.Apply(config.WithCheckpointPath(filepath.Join(dir, "checkpoint.json")))
	}
}

// WithFusionWeights sets the linear score-fusion weights (spec.md §4.6,
// W_DOC/W_STEP).
func WithFusionWeights(wDoc, wStep float64) Option {
	return func(c *clientConfig) {
		c.appConfig = c.appConfig.Apply(config.WithFusion(config.FusionWeights{Doc: wDoc, Step: wStep}))
	}
}

// WithOverfetch sets the step-tier kNN overfetch factor (spec.md
// GLOSSARY, OVERFETCH).
func WithOverfetch(n int) Option {
	return func(c *clientConfig) {
		c.appConfig = c.appConfig.Apply(config.WithOverfetch(n))
	}
}

// WithIngestTunables sets the chunk size and parallelism for the
// ingestion pipeline (spec.md §4.4, B_ingest/P_ingest).
func WithIngestTunables(chunkSize, parallelism int) Option {
	return func(c *clientConfig) {
		c.appConfig = c.appConfig.
			Apply(config.WithIngestChunkSize(chunkSize)).
			Apply(config.WithIngestParallelism(parallelism))
	}
}

// WithCheckpointPath sets the durable ingestion checkpoint file path
// (spec.md §6.5).
func WithCheckpointPath(path string) Option {
	return func(c *clientConfig) {
		c.appConfig = c.appConfig.Apply(config.WithCheckpointPath(path))
	}
}

// WithShutdownGrace sets the graceful-shutdown drain window (spec.md
// §4.8, §5, SHUTDOWN_GRACE).
func WithShutdownGrace(grace config.AppConfigOption) Option {
	return func(c *clientConfig) {
		c.appConfig = c.appConfig.Apply(grace)
	}
}

// WithRateLimiter sets the limiter exposed as Client.RateLimiter (C8).
// Defaults to an in-process token bucket; pass a *ratelimit.RedisLimiter
// to share caps across replicas. The tool handlers do not consult it.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(c *clientConfig) {
		c.rateLimiter = l
	}
}

// WithSearchQPS sets the in-process rate limiter's allowance (requests
// per second, with burst) when no custom limiter is configured (spec.md
// §5, search default 60/min == 1/s).
func WithSearchQPS(rps float64, burst int) Option {
	return func(c *clientConfig) {
		c.searchQPS = rps
		c.searchBurst = burst
	}
}

// WithVersion sets the version string reported by check_health.
func WithVersion(v string) Option {
	return func(c *clientConfig) {
		c.version = v
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// Package config provides application configuration.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration, matching the key
// table in spec.md §6.4 plus the ambient host/port/logging/API-key
// variables.
type EnvConfig struct {
	// Host is the server host to bind to.
	// Env: HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the server port to listen on.
	// Env: PORT (default: 8080)
	Port int `envconfig:"PORT" default:"8080"`

	// DataDir is the data directory path.
	// Env: DATA_DIR
	DataDir string `envconfig:"DATA_DIR"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// APIKeys is a comma-separated list of valid API keys.
	// Env: API_KEYS
	APIKeys string `envconfig:"API_KEYS"`

	// DBURL selects the database dialect (sqlite:// or postgres://), parsed
	// by internal/database.parseDialector.
	// Env: DB_URL
	DBURL string `envconfig:"DB_URL"`

	// StoreDSN is the vector store connection string. Defaults to DBURL
	// when unset, since the common case is one database serving both roles.
	// Env: STORE_DSN
	StoreDSN string `envconfig:"STORE_DSN"`

	// EmbedProvider selects the embedding backend ("openai" or "local").
	// Env: EMBED_PROVIDER (default: openai)
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"openai"`

	// EmbedModel is the embedding model identifier.
	// Env: EMBED_MODEL (default: text-embedding-3-small)
	EmbedModel string `envconfig:"EMBED_MODEL" default:"text-embedding-3-small"`

	// EmbedDim is the embedding vector dimension.
	// Env: EMBED_DIM (default: 1536)
	EmbedDim int `envconfig:"EMBED_DIM" default:"1536"`

	// EmbedAPIKey is the API key for the embedding provider.
	// Env: EMBED_API_KEY
	EmbedAPIKey string `envconfig:"EMBED_API_KEY"`

	// WDoc is the doc-tier fusion weight.
	// Env: W_DOC (default: 0.6)
	WDoc float64 `envconfig:"W_DOC" default:"0.6"`

	// WStep is the step-tier fusion weight.
	// Env: W_STEP (default: 0.4)
	WStep float64 `envconfig:"W_STEP" default:"0.4"`

	// Overfetch is the step-tier kNN overfetch multiplier.
	// Env: OVERFETCH (default: 3)
	Overfetch int `envconfig:"OVERFETCH" default:"3"`

	// IngestChunkSize is the ingestion chunk size (B_ingest).
	// Env: B_INGEST (default: 500)
	IngestChunkSize int `envconfig:"B_INGEST" default:"500"`

	// IngestParallelism is the ingestion worker count (P_ingest).
	// Env: P_INGEST (default: 4)
	IngestParallelism int `envconfig:"P_INGEST" default:"4"`

	// EmbedBatchSize is the embedding request batch size (B_embed).
	// Env: B_EMBED (default: 25)
	EmbedBatchSize int `envconfig:"B_EMBED" default:"25"`

	// EmbedParallelism is the configured embedding request concurrency
	// (P_embed). No component reads it.
	// Env: P_EMBED (default: 4)
	EmbedParallelism int `envconfig:"P_EMBED" default:"4"`

	// CheckpointPath is the ingestion checkpoint file path.
	// Env: CHECKPOINT_PATH
	CheckpointPath string `envconfig:"CHECKPOINT_PATH"`

	// SearchTimeoutSeconds is the per-search deadline in seconds.
	// Env: SEARCH_TIMEOUT (default: 10)
	SearchTimeoutSeconds float64 `envconfig:"SEARCH_TIMEOUT" default:"10"`

	// IngestChunkTimeoutSeconds is the per-chunk ingest deadline in seconds.
	// Env: INGEST_CHUNK_TIMEOUT (default: 60)
	IngestChunkTimeoutSeconds float64 `envconfig:"INGEST_CHUNK_TIMEOUT" default:"60"`

	// ShutdownGraceSeconds is the graceful shutdown window in seconds.
	// Env: SHUTDOWN_GRACE (default: 15)
	ShutdownGraceSeconds float64 `envconfig:"SHUTDOWN_GRACE" default:"15"`

	// RedisURL optionally backs distributed rate limiting in C8. Empty
	// falls back to the in-process limiter.
	// Env: REDIS_URL
	RedisURL string `envconfig:"REDIS_URL"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// LoadFromEnvWithPrefix loads configuration with a custom prefix.
// For example, prefix "QBENCH" would require QBENCH_DATA_DIR instead of DATA_DIR.
func LoadFromEnvWithPrefix(prefix string) (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig to AppConfig.
func (e EnvConfig) ToAppConfig() AppConfig {
	cfg := NewAppConfig()

	if e.Host != "" {
		cfg = applyOption(cfg, WithHost(e.Host))
	}
	if e.Port != 0 {
		cfg = applyOption(cfg, WithPort(e.Port))
	}
	if e.DataDir != "" {
		cfg = applyOption(cfg, WithDataDir(e.DataDir))
	}
	if e.LogLevel != "" {
		cfg = applyOption(cfg, WithLogLevel(e.LogLevel))
	}
	if e.LogFormat != "" {
		cfg = applyOption(cfg, WithLogFormat(parseLogFormat(e.LogFormat)))
	}
	if e.APIKeys != "" {
		cfg = applyOption(cfg, WithAPIKeys(ParseAPIKeys(e.APIKeys)))
	}

	if e.DBURL != "" {
		cfg = applyOption(cfg, WithDBURL(e.DBURL))
	}
	storeDSN := e.StoreDSN
	if storeDSN == "" {
		storeDSN = e.DBURL
	}
	if storeDSN != "" {
		cfg = applyOption(cfg, WithStoreDSN(storeDSN))
	}

	if e.EmbedProvider != "" {
		cfg = applyOption(cfg, WithEmbedProvider(e.EmbedProvider))
	}
	if e.EmbedModel != "" {
		cfg = applyOption(cfg, WithEmbedModel(e.EmbedModel))
	}
	cfg = applyOption(cfg, WithEmbedDim(e.EmbedDim))

	cfg = applyOption(cfg, WithFusion(FusionWeights{Doc: orDefault(e.WDoc, DefaultWDoc), Step: orDefault(e.WStep, DefaultWStep)}))
	cfg = applyOption(cfg, WithOverfetch(e.Overfetch))

	cfg = applyOption(cfg, WithIngestChunkSize(e.IngestChunkSize))
	cfg = applyOption(cfg, WithIngestParallelism(e.IngestParallelism))
	cfg = applyOption(cfg, WithEmbedBatchSize(e.EmbedBatchSize))
	cfg = applyOption(cfg, WithEmbedParallelism(e.EmbedParallelism))

	if e.CheckpointPath != "" {
		cfg = applyOption(cfg, WithCheckpointPath(e.CheckpointPath))
	}

	cfg = applyOption(cfg, WithSearchTimeout(secondsToDuration(e.SearchTimeoutSeconds)))
	cfg = applyOption(cfg, WithIngestChunkTimeout(secondsToDuration(e.IngestChunkTimeoutSeconds)))
	cfg = applyOption(cfg, WithShutdownGrace(secondsToDuration(e.ShutdownGraceSeconds)))

	if e.RedisURL != "" {
		cfg = applyOption(cfg, WithRedisURL(e.RedisURL))
	}

	return cfg
}

// EmbedAPIKeyValue returns the configured embedding provider API key. It is
// kept off AppConfig (unlike the other fields) so that LogAttrs/LogAttrs
// callers can never accidentally log it.
func (e EnvConfig) EmbedAPIKeyValue() string { return e.EmbedAPIKey }

// applyOption applies an option to the config.
func applyOption(cfg AppConfig, opt AppConfigOption) AppConfig {
	opt(&cfg)
	return cfg
}

// parseLogFormat parses a log format string.
func parseLogFormat(s string) LogFormat {
	switch s {
	case "json", "JSON":
		return LogFormatJSON
	default:
		return LogFormatPretty
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

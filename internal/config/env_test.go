package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "", cfg.DataDir)
	assert.Equal(t, "", cfg.DBURL)
	assert.Equal(t, "", cfg.StoreDSN)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.Equal(t, "", cfg.APIKeys)

	assert.Equal(t, "openai", cfg.EmbedProvider)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbedModel)
	assert.Equal(t, 1536, cfg.EmbedDim)

	assert.Equal(t, 0.6, cfg.WDoc)
	assert.Equal(t, 0.4, cfg.WStep)
	assert.Equal(t, 3, cfg.Overfetch)

	assert.Equal(t, 500, cfg.IngestChunkSize)
	assert.Equal(t, 4, cfg.IngestParallelism)
	assert.Equal(t, 25, cfg.EmbedBatchSize)
	assert.Equal(t, 4, cfg.EmbedParallelism)

	assert.Equal(t, 10.0, cfg.SearchTimeoutSeconds)
	assert.Equal(t, 60.0, cfg.IngestChunkTimeoutSeconds)
	assert.Equal(t, 15.0, cfg.ShutdownGraceSeconds)
	assert.Equal(t, "", cfg.RedisURL)
}

func TestEnvDefaults_MatchConfigDefaults(t *testing.T) {
	// Struct tag defaults are literals and must stay in sync with the
	// constants in config.go by hand; this test keeps them honest.
	clearEnvVars(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultEmbedProvider, cfg.EmbedProvider)
	assert.Equal(t, DefaultEmbedModel, cfg.EmbedModel)
	assert.Equal(t, DefaultEmbedDim, cfg.EmbedDim)
	assert.Equal(t, DefaultWDoc, cfg.WDoc)
	assert.Equal(t, DefaultWStep, cfg.WStep)
	assert.Equal(t, DefaultOverfetch, cfg.Overfetch)
	assert.Equal(t, DefaultIngestChunkSize, cfg.IngestChunkSize)
	assert.Equal(t, DefaultIngestParallelism, cfg.IngestParallelism)
	assert.Equal(t, DefaultEmbedBatchSize, cfg.EmbedBatchSize)
	assert.Equal(t, DefaultEmbedParallelism, cfg.EmbedParallelism)
}

func TestLoadFromEnv_OverrideValues(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/tmp/qbench-data")
	t.Setenv("DB_URL", "postgres://localhost/qbench")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("API_KEYS", "key1,key2")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/qbench-data", cfg.DataDir)
	assert.Equal(t, "postgres://localhost/qbench", cfg.DBURL)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "key1,key2", cfg.APIKeys)
}

func TestLoadFromEnv_EmbeddingAndFusion(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("EMBED_PROVIDER", "local")
	t.Setenv("EMBED_MODEL", "bge-small")
	t.Setenv("EMBED_DIM", "384")
	t.Setenv("W_DOC", "0.7")
	t.Setenv("W_STEP", "0.3")
	t.Setenv("OVERFETCH", "5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.EmbedProvider)
	assert.Equal(t, "bge-small", cfg.EmbedModel)
	assert.Equal(t, 384, cfg.EmbedDim)
	assert.Equal(t, 0.7, cfg.WDoc)
	assert.Equal(t, 0.3, cfg.WStep)
	assert.Equal(t, 5, cfg.Overfetch)
}

func TestLoadFromEnv_IngestAndTimeouts(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("B_INGEST", "250")
	t.Setenv("P_INGEST", "2")
	t.Setenv("B_EMBED", "10")
	t.Setenv("P_EMBED", "2")
	t.Setenv("CHECKPOINT_PATH", "/tmp/checkpoint.json")
	t.Setenv("SEARCH_TIMEOUT", "5")
	t.Setenv("INGEST_CHUNK_TIMEOUT", "30")
	t.Setenv("SHUTDOWN_GRACE", "20")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.IngestChunkSize)
	assert.Equal(t, 2, cfg.IngestParallelism)
	assert.Equal(t, 10, cfg.EmbedBatchSize)
	assert.Equal(t, 2, cfg.EmbedParallelism)
	assert.Equal(t, "/tmp/checkpoint.json", cfg.CheckpointPath)
	assert.Equal(t, 5.0, cfg.SearchTimeoutSeconds)
	assert.Equal(t, 30.0, cfg.IngestChunkTimeoutSeconds)
	assert.Equal(t, 20.0, cfg.ShutdownGraceSeconds)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
}

func TestEnvConfig_ToAppConfig(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("DATA_DIR", "/data")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("API_KEYS", "a,b")
	t.Setenv("EMBED_PROVIDER", "local")
	t.Setenv("EMBED_DIM", "768")
	t.Setenv("W_DOC", "0.8")
	t.Setenv("W_STEP", "0.2")

	envCfg, err := LoadFromEnv()
	require.NoError(t, err)

	cfg := envCfg.ToAppConfig()

	assert.Equal(t, "/data", cfg.DataDir())
	assert.Equal(t, "WARN", cfg.LogLevel())
	assert.Equal(t, []string{"a", "b"}, cfg.APIKeys())
	assert.Equal(t, "local", cfg.EmbedProvider())
	assert.Equal(t, 768, cfg.EmbedDim())
	assert.Equal(t, 0.8, cfg.Fusion().Doc)
	assert.Equal(t, 0.2, cfg.Fusion().Step)
}

func TestEnvConfig_ToAppConfig_StoreDSNFallsBackToDBURL(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("DB_URL", "sqlite:///tmp/x.db")

	envCfg, err := LoadFromEnv()
	require.NoError(t, err)

	cfg := envCfg.ToAppConfig()
	assert.Equal(t, "sqlite:///tmp/x.db", cfg.StoreDSN())
}

func TestParseLogFormat(t *testing.T) {
	assert.Equal(t, LogFormatJSON, parseLogFormat("json"))
	assert.Equal(t, LogFormatJSON, parseLogFormat("JSON"))
	assert.Equal(t, LogFormatPretty, parseLogFormat("pretty"))
	assert.Equal(t, LogFormatPretty, parseLogFormat(""))
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")
	content := `DATA_DIR=/from/dotenv
LOG_LEVEL=DEBUG
API_KEYS=key1,key2
`
	err := os.WriteFile(envFile, []byte(content), 0o644)
	require.NoError(t, err)

	clearEnvVars(t)

	err = LoadDotEnv(envFile)
	require.NoError(t, err)

	assert.Equal(t, "/from/dotenv", os.Getenv("DATA_DIR"))
	assert.Equal(t, "DEBUG", os.Getenv("LOG_LEVEL"))
	assert.Equal(t, "key1,key2", os.Getenv("API_KEYS"))
}

func TestLoadDotEnv_NonExistent(t *testing.T) {
	clearEnvVars(t)

	err := LoadDotEnv("/nonexistent/.env")
	assert.NoError(t, err)
}

func TestMustLoadDotEnv_NonExistent(t *testing.T) {
	clearEnvVars(t)

	err := MustLoadDotEnv("/nonexistent/.env")
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")
	content := `DATA_DIR=/config/data
LOG_LEVEL=WARN
EMBED_MODEL=test-embedding
`
	err := os.WriteFile(envFile, []byte(content), 0o644)
	require.NoError(t, err)

	clearEnvVars(t)

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "/config/data", cfg.DataDir())
	assert.Equal(t, "WARN", cfg.LogLevel())
	assert.Equal(t, "test-embedding", cfg.EmbedModel())
}

func TestLoadDotEnvFromFiles(t *testing.T) {
	tmpDir := t.TempDir()

	env1 := filepath.Join(tmpDir, ".env")
	err := os.WriteFile(env1, []byte("KEY1=value1\nKEY2=value2\n"), 0o644)
	require.NoError(t, err)

	env2 := filepath.Join(tmpDir, ".env.local")
	err = os.WriteFile(env2, []byte("KEY2=override\nKEY3=value3\n"), 0o644)
	require.NoError(t, err)

	clearEnvVars(t)

	// godotenv.Load does NOT override existing values, so KEY2 keeps its
	// value from env1.
	err = LoadDotEnvFromFiles(env1, env2)
	require.NoError(t, err)

	assert.Equal(t, "value1", os.Getenv("KEY1"))
	assert.Equal(t, "value2", os.Getenv("KEY2"))
	assert.Equal(t, "value3", os.Getenv("KEY3"))
}

func TestOverloadDotEnvFromFiles(t *testing.T) {
	tmpDir := t.TempDir()

	env1 := filepath.Join(tmpDir, ".env")
	err := os.WriteFile(env1, []byte("KEY1=value1\nKEY2=value2\n"), 0o644)
	require.NoError(t, err)

	env2 := filepath.Join(tmpDir, ".env.local")
	err = os.WriteFile(env2, []byte("KEY2=override\nKEY3=value3\n"), 0o644)
	require.NoError(t, err)

	clearEnvVars(t)

	err = OverloadDotEnvFromFiles(env1, env2)
	require.NoError(t, err)

	assert.Equal(t, "value1", os.Getenv("KEY1"))
	assert.Equal(t, "override", os.Getenv("KEY2"))
	assert.Equal(t, "value3", os.Getenv("KEY3"))
}

// clearEnvVars unsets all config-related environment variables.
func clearEnvVars(t *testing.T) {
	t.Helper()

	vars := []string{
		"HOST",
		"PORT",
		"DATA_DIR",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"API_KEYS",
		"DB_URL",
		"STORE_DSN",
		"EMBED_PROVIDER",
		"EMBED_MODEL",
		"EMBED_DIM",
		"EMBED_API_KEY",
		"W_DOC",
		"W_STEP",
		"OVERFETCH",
		"B_INGEST",
		"P_INGEST",
		"B_EMBED",
		"P_EMBED",
		"CHECKPOINT_PATH",
		"SEARCH_TIMEOUT",
		"INGEST_CHUNK_TIMEOUT",
		"SHUTDOWN_GRACE",
		"REDIS_URL",
		"KEY1",
		"KEY2",
		"KEY3",
	}

	for _, v := range vars {
		_ = os.Unsetenv(v)
	}
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/provider"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/ratelimit"
	"github.com/dmason-mlb/mlb-qbench/internal/config"
)

// clientOptions builds the qbench.Option slice shared by serve, stdio, and
// ingest: the resolved AppConfig, storage dialect, embedding backend, and
// (when REDIS_URL is set) a distributed rate limiter (spec.md §5, §6.4).
func clientOptions(cfg config.AppConfig, logger *slog.Logger) ([]qbench.Option, error) {
	opts := []qbench.Option{
		qbench.WithAppConfig(cfg),
		qbench.WithLogger(logger),
	}

	storageOpt, err := storageOption(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, storageOpt)

	embedOpt, err := embeddingOption(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, embedOpt)

	if cfg.RedisURL() != "" {
		limiter, limiterErr := ratelimit.NewRedisLimiter(cfg.RedisURL(), 60)
		if limiterErr != nil {
			return nil, fmt.Errorf("redis rate limiter: %w", limiterErr)
		}
		opts = append(opts, qbench.WithRateLimiter(limiter))
	}

	return opts, nil
}

// storageOption selects the vector store dialect from DB_URL (spec.md
// §4.2, §6.4).
func storageOption(cfg config.AppConfig) (qbench.Option, error) {
	dbURL := cfg.DBURL()
	switch {
	case dbURL == "", isSQLite(dbURL):
		path := cfg.DataDir() + "/qbench.db"
		if isSQLite(dbURL) {
			path = strings.TrimPrefix(dbURL, "sqlite:///")
		}
		return qbench.WithSQLite(path), nil
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return qbench.WithPostgres(dbURL), nil
	default:
		return nil, fmt.Errorf("unrecognised DB_URL dialect: %s", dbURL)
	}
}

// embeddingOption selects the embedding backend from EMBED_PROVIDER
// (spec.md §4.1, §6.4).
func embeddingOption(cfg config.AppConfig) (qbench.Option, error) {
	switch cfg.EmbedProvider() {
	case "local":
		return qbench.WithHugot(cfg.DataDir() + "/models"), nil
	case "openai", "":
		apiKey := os.Getenv("EMBED_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("EMBED_API_KEY is required for EMBED_PROVIDER=openai")
		}
		return qbench.WithOpenAIConfig(provider.OpenAIConfig{
			APIKey:         apiKey,
			EmbeddingModel: cfg.EmbedModel(),
			BatchSize:      cfg.EmbedBatchSize(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER: %s", cfg.EmbedProvider())
	}
}

// isSQLite reports whether url is a sqlite:// DSN.
func isSQLite(url string) bool {
	return strings.HasPrefix(url, "sqlite:")
}

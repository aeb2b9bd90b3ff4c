package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api"
	apimiddleware "github.com/dmason-mlb/mlb-qbench/infrastructure/api/middleware"
	"github.com/dmason-mlb/mlb-qbench/internal/config"
	"github.com/dmason-mlb/mlb-qbench/internal/log"
)

func serveCmd() *cobra.Command {
	var (
		envFile string
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and MCP server",
		Long: `Start the HTTP API and MCP server.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  HOST                  Server host to bind to (default: 0.0.0.0)
  PORT                  Server port to listen on (default: 8080)
  DATA_DIR              Data directory (default: ~/.qbench)
  DB_URL                Vector store dialect: sqlite:///path or postgres://... (default: sqlite)
  STORE_DSN             Vector store connection string, defaults to DB_URL
  LOG_LEVEL             Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT            Log format: pretty, json (default: pretty)
  API_KEYS              Comma-separated list of valid API keys for POST /api/v1/ingest
  EMBED_PROVIDER        Embedding backend: openai, local (default: openai)
  EMBED_MODEL           Embedding model identifier (default: text-embedding-3-small)
  EMBED_DIM             Embedding vector dimension (default: 1536)
  EMBED_API_KEY         API key for the embedding provider
  W_DOC, W_STEP         Score-fusion weights (default: 0.6, 0.4)
  OVERFETCH             Step-tier kNN overfetch multiplier (default: 3)
  B_INGEST, P_INGEST    Ingestion chunk size and worker count (default: 500, 4)
  CHECKPOINT_PATH       Durable ingestion checkpoint file path
  SEARCH_TIMEOUT        Per-search deadline in seconds (default: 10)
  SHUTDOWN_GRACE        Graceful shutdown drain window in seconds (default: 15)
  REDIS_URL             Redis URL for a distributed rate limiter (default: in-process)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, host, port)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8080)")

	return cmd
}

func runServe(envFile, host string, port int) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	cfg = applyServeOverrides(cfg, host, port)

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	logger := log.NewLogger(cfg)
	slogger := logger.Slog()

	opts, err := clientOptions(cfg, slogger)
	if err != nil {
		return fmt.Errorf("resolve client options: %w", err)
	}
	opts = append(opts, qbench.WithVersion(version))

	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	slogger.LogAttrs(context.Background(), slog.LevelInfo, "starting qbench", attrs...)

	client, err := qbench.New(opts...)
	if err != nil {
		return fmt.Errorf("create qbench client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slogger.Error("failed to close qbench client", slog.Any("error", err))
		}
	}()

	apiServer := api.NewAPIServer(client, cfg.APIKeys())
	router := apiServer.Router()

	router.Use(apimiddleware.Logging(slogger))

	apiServer.MountRoutes()

	router.Get("/health", healthHandler)
	router.Get("/healthz", healthHandler)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"name":"qbench","version":"%s","docs":"/docs"}`, version)
	})

	docsRouter := apiServer.DocsRouter("/docs/openapi.json")
	router.Mount("/docs", docsRouter.Routes())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	server := api.NewServer(cfg.Addr(), slogger)
	server.Router().Mount("/", router)

	go func() {
		<-sigChan
		slogger.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
		defer shutdownCancel()

		if err := client.Shutdown.Shutdown(shutdownCtx); err != nil {
			slogger.Error("in-flight drain error", slog.Any("error", err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slogger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	slogger.Info("starting server", slog.String("addr", cfg.Addr()))
	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// applyServeOverrides applies command line flag overrides to the config.
func applyServeOverrides(cfg config.AppConfig, host string, port int) config.AppConfig {
	var opts []config.AppConfigOption

	if host != "" {
		opts = append(opts, config.WithHost(host))
	}
	if port != 0 {
		opts = append(opts, config.WithPort(port))
	}

	return cfg.Apply(opts...)
}

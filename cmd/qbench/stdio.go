package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/internal/log"
)

func stdioCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Run the MCP server over stdio",
		Long:  `Run the five test-retrieval tools (search_tests, find_similar_tests, get_test_by_key, ingest_tests, check_health) as an MCP server over stdin/stdout, for use as a subprocess of an MCP client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdio(envFile)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")

	return cmd
}

func runStdio(envFile string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

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

	client, err := qbench.New(opts...)
	if err != nil {
		return fmt.Errorf("create qbench client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slogger.Error("failed to close qbench client", slog.Any("error", err))
		}
	}()

	slogger.Info("starting MCP stdio server", slog.String("version", version))
	return client.MCPServer().ServeStdio()
}

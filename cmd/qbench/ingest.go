package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/domain/service"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/normalize"
	"github.com/dmason-mlb/mlb-qbench/internal/log"
)

func ingestCmd() *cobra.Command {
	var (
		envFile  string
		sourceID string
	)

	cmd := &cobra.Command{
		Use:   "ingest <records.json>",
		Short: "Batch-ingest a file of raw test records",
		Long:  `Ingest a JSON array of raw test records (TestRail, Xray, or generic YAML shape) from a file, the same shape the ingest_tests tool accepts, without starting a server.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(envFile, sourceID, args[0])
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&sourceID, "source-id", "cli", "Source identifier for checkpointing (spec.md §4.4)")

	return cmd
}

func runIngest(envFile, sourceID, path string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	logger := log.NewLogger(cfg)
	slogger := logger.Slog()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read records file: %w", err)
	}
	var records []normalize.Raw
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("decode records file: %w", err)
	}

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

	source := service.NewSliceSource(sourceID, records)
	report, err := client.Ingest(context.Background(), source)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	slogger.Info("ingest complete",
		slog.Int("docs_in", report.DocsIn),
		slog.Int("docs_written", report.DocsWritten),
		slog.Int("steps_written", report.StepsWritten),
		slog.Int("warnings", len(report.Warnings)),
		slog.Int("errors", len(report.Errors)),
	)
	for _, w := range report.Warnings {
		slogger.Warn(w)
	}
	for _, e := range report.Errors {
		slogger.Error(e)
	}

	return nil
}

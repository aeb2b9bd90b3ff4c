// Package main is the entry point for the qbench CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dmason-mlb/mlb-qbench/internal/config"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qbench",
		Short: "Semantic test-case retrieval server",
		Long:  `qbench indexes test suites (TestRail, Xray, or generic YAML) into a two-tier vector index and serves hybrid search over them via HTTP and MCP.`,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(stdioCmd())
	cmd.AddCommand(ingestCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// loadConfig loads configuration from an optional .env file and the
// process environment (spec.md §6.4).
func loadConfig(envFile string) (config.AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return config.AppConfig{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return config.AppConfig{}, fmt.Errorf("load .env: %w", err)
		}
	}

	env, err := config.LoadFromEnv()
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return env.ToAppConfig(), nil
}

// Package main provides the CLI entry point for conclaved, the durable
// multi-agent conversation processor.
//
// conclaved drives threads through a Postgres-backed event queue: inbound
// messages enqueue NEW_MESSAGE events, a per-thread worker dequeues them in
// priority order and dispatches each to the registered processor, and the
// processor's follow-up events (LLM_CALL, TOOL_CALL, ENTITY_EXTRACT, ...)
// keep the thread moving until its queue drains.
//
// # Basic Usage
//
// Start the server:
//
//	conclaved serve --config conclave.yaml
//
// Apply or inspect database migrations:
//
//	conclaved migrate up
//	conclaved migrate status
//
// Check system status:
//
//	conclaved status --config conclave.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models and embeddings
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "conclaved",
		Short:        "conclaved - durable multi-agent conversation processor",
		Long:         `conclaved drives thread-scoped event queues through a registry of processors, dispatching NEW_MESSAGE, LLM_CALL, TOOL_CALL, and ENTITY_EXTRACT events until each thread's queue drains.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "conclave.yaml", "Path to configuration file")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}

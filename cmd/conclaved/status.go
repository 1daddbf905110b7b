package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conclavehq/conclave/internal/queue"
)

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long:  `Display the queue store's connectivity and the number of threads currently carrying pending work.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := queue.Open(cfg.Database.DSN, queue.DefaultConfig())
			if err != nil {
				fmt.Printf("database: UNREACHABLE (%v)\n", err)
				return nil
			}
			defer store.Close()
			fmt.Println("database: connected")

			ids, err := store.ThreadsWithPendingEvents(cmd.Context())
			if err != nil {
				return fmt.Errorf("list pending threads: %w", err)
			}
			fmt.Printf("threads with pending events: %d\n", len(ids))

			fmt.Printf("llm provider: %s\n", defaultString(cfg.LLM.Provider, "anthropic"))
			fmt.Printf("embeddings provider: %s\n", defaultString(cfg.Embeddings.Provider, "openai"))
			fmt.Printf("assets backend: %s\n", defaultString(cfg.Assets.Backend, "filesystem"))
			return nil
		},
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/conclavehq/conclave/internal/queue"
	"github.com/conclavehq/conclave/internal/rag/store/pgvector"
)

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long:  `Apply or inspect the schema migrations for the queue store (threads, events, messages, users) and the graph store (nodes, edges, documents, document_chunks).`,
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := queue.Open(cfg.Database.DSN, queue.DefaultConfig())
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("apply queue migrations: %w", err)
			}
			slog.Info("queue store migrations applied")

			embedder, err := buildEmbeddingProvider(cfg)
			if err != nil {
				return fmt.Errorf("build embedding provider: %w", err)
			}
			graph, err := pgvector.New(pgvector.Config{
				DSN:           cfg.Database.DSN,
				Dimension:     embedder.Dimension(),
				RunMigrations: true,
			})
			if err != nil {
				return fmt.Errorf("apply graph store migrations: %w", err)
			}
			defer graph.Close()
			slog.Info("graph store migrations applied")

			return nil
		},
	}
}

func buildMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Apply any pending queue-store migrations, then report it up to date (no counts are shown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := queue.Open(cfg.Database.DSN, queue.DefaultConfig())
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}
			defer store.Close()

			// Migrate is idempotent: running it with nothing pending is how
			// status confirms there's nothing left to apply.
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("check queue migrations: %w", err)
			}
			fmt.Println("queue store: up to date")
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conclavehq/conclave/internal/observability"
	"github.com/conclavehq/conclave/internal/worker"
)

func buildServeCmd() *cobra.Command {
	var healthAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker supervisor and health surface",
		Long:  `serve starts the durable-queue worker supervisor: it sweeps threads with pending events and drives each one's worker until its queue drains, plus a thin HTTP surface for health and readiness checks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, healthAddr)
		},
	}
	cmd.Flags().StringVar(&healthAddr, "health-addr", ":8089", "address for the health/readiness HTTP surface")
	return cmd
}

func runServe(ctx context.Context, configPath, healthAddr string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}
	defer sys.Close()

	slog.Info("conclaved starting",
		"version", version,
		"llm_provider", cfg.LLM.Provider,
		"embeddings_provider", cfg.Embeddings.Provider,
		"assets_backend", cfg.Assets.Backend,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing("conclaved", slog.Default())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	metrics, metricsHandler := observability.NewMetrics()
	healthSrv := &http.Server{Addr: healthAddr, Handler: healthHandler(sys, metricsHandler)}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health surface failed", "error", err)
		}
	}()
	go pollPendingThreadsGauge(ctx, sys, metrics, cfg.Worker.PollInterval)
	go watchConfig(ctx, configPath, slog.Default())

	workerCfg := worker.Config{WorkerID: cfg.Worker.ID, LeaseTTL: cfg.Worker.LeaseTTL}
	supervisor := worker.NewSupervisor(sys.store, sys.registry, workerCfg, cfg.Worker.PollInterval, slog.Default())

	runErr := supervisor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", runErr)
	}
	slog.Info("conclaved stopped")
	return nil
}

// healthHandler serves /healthz (process liveness), /readyz (database
// reachable), and /metrics (Prometheus gauges) for external orchestrators.
func healthHandler(sys *system, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := sys.store.ThreadsWithPendingEvents(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", metrics)
	return mux
}

// pollPendingThreadsGauge keeps the threads_with_pending_events gauge fresh
// at the same cadence the supervisor sweeps, independent of any single
// sweep's outcome.
func pollPendingThreadsGauge(ctx context.Context, sys *system, metrics *observability.Metrics, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := sys.store.ThreadsWithPendingEvents(ctx)
			if err != nil {
				continue
			}
			metrics.PendingThreads.Set(float64(len(ids)))
		}
	}
}

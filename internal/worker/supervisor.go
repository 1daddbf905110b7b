package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conclavehq/conclave/internal/queue"
	"github.com/conclavehq/conclave/internal/registry"
)

// Supervisor polls the durable queue for threads with pending work and
// spawns a Worker per thread it can claim, per spec §6's "worker supervisor
// (spawns a ThreadWorker per active thread lease it can acquire)". It never
// claims a lease directly — AcquireLease inside Worker.Run still arbitrates
// ownership, including across separate conclaved processes; Supervisor only
// avoids redundant Worker.Run calls for a thread already being driven by
// this process.
type Supervisor struct {
	store    *queue.Store
	registry *registry.Registry
	cfg      Config
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// NewSupervisor constructs a Supervisor that sweeps for pending-event
// threads every interval.
func NewSupervisor(store *queue.Store, reg *registry.Registry, cfg Config, interval time.Duration, logger *slog.Logger) *Supervisor {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		store:    store,
		registry: reg,
		cfg:      cfg,
		interval: interval,
		logger:   logger,
		running:  map[string]bool{},
	}
}

// Run sweeps until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(sv.interval)
	defer ticker.Stop()

	sv.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sv.sweep(ctx)
		}
	}
}

func (sv *Supervisor) sweep(ctx context.Context) {
	ids, err := sv.store.ThreadsWithPendingEvents(ctx)
	if err != nil {
		sv.logger.Error("supervisor: list pending threads failed", "error", err)
		return
	}

	for _, threadID := range ids {
		sv.mu.Lock()
		if sv.running[threadID] {
			sv.mu.Unlock()
			continue
		}
		sv.running[threadID] = true
		sv.mu.Unlock()

		go sv.drive(ctx, threadID)
	}
}

func (sv *Supervisor) drive(ctx context.Context, threadID string) {
	defer func() {
		sv.mu.Lock()
		delete(sv.running, threadID)
		sv.mu.Unlock()
	}()

	w := New(sv.store, sv.registry, sv.cfg, sv.logger)
	if err := w.Run(ctx, threadID); err != nil {
		sv.logger.Error("supervisor: worker run failed", "thread_id", threadID, "error", err)
	}
}

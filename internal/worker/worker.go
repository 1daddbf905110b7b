// Package worker implements the cooperative, single-threaded-per-thread
// worker state machine that drives a Thread's Event queue to completion.
//
// Grounded on sessions.DBLocker's acquire/renew/release lease lifecycle and
// the agent package's turn/iteration lifecycle (agent_event.go's
// AgentEventType run/turn/iter constants), generalized into an explicit
// IDLE -> LEASING -> RUNNING -> (DRAINING -> RELEASED) state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conclavehq/conclave/internal/observability"
	"github.com/conclavehq/conclave/internal/queue"
	"github.com/conclavehq/conclave/internal/registry"
	"github.com/conclavehq/conclave/pkg/models"
)

// State is a worker's position in the per-thread processing lifecycle.
type State int

const (
	StateIdle State = iota
	StateLeasing
	StateRunning
	StateDraining
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLeasing:
		return "leasing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned when Run is called on a Worker that is not idle.
var ErrAlreadyRunning = errors.New("worker: already running")

// Config tunes a Worker's lease and dispatch behavior.
type Config struct {
	WorkerID  string
	LeaseTTL  time.Duration
	StopGrace time.Duration // max time to finish an in-flight event when draining

	// OnDispatch, if set, is called synchronously after every dispatched
	// event, before its follow-ups are enqueued — the hook a run's public
	// API streams StreamEvents from. err is the processor's error, if any;
	// a non-nil err means followUps is always empty.
	OnDispatch func(event *models.Event, followUps []*models.Event, err error)
}

// Worker drives a single Thread: it acquires the thread's lease, dequeues
// events in priority order, dispatches each to the Registry, persists any
// emitted follow-up events, and releases the lease once the queue drains or
// the lease is lost to another worker.
type Worker struct {
	store    *queue.Store
	registry *registry.Registry
	cfg      Config
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// New constructs a Worker bound to store and registry.
func New(store *queue.Store, reg *registry.Registry, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 10 * time.Second
	}
	return &Worker{store: store, registry: reg, cfg: cfg, logger: logger, state: StateIdle}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run drives threadID to completion: it leases the thread, sweeps any
// events left processing by a crashed prior holder, then dequeues and
// dispatches events until the queue is empty or the lease is lost. Run
// returns nil when the thread drained cleanly and the lease was released.
func (w *Worker) Run(ctx context.Context, threadID string) error {
	if w.State() != StateIdle {
		return ErrAlreadyRunning
	}
	w.setState(StateLeasing)

	leaseCtx, span := observability.StartSpan(ctx, "queue.acquire_lease", observability.ThreadAttrs(threadID, "", "", "")...)
	lease, err := w.store.AcquireAndHold(leaseCtx, threadID, w.cfg.WorkerID, queue.LeaseConfig{TTL: w.cfg.LeaseTTL})
	observability.End(span, err)
	if err != nil {
		w.setState(StateIdle)
		return err
	}
	if lease == nil {
		w.setState(StateIdle)
		return nil // another worker holds the lease; nothing to do
	}

	w.setState(StateRunning)
	log := w.logger.With("thread_id", threadID, "worker_id", w.cfg.WorkerID)

	if n, err := w.store.SweepProcessing(ctx, threadID); err != nil {
		log.Warn("sweep processing failed", "error", err)
	} else if n > 0 {
		log.Info("reclaimed abandoned events", "count", n)
	}

	runErr := w.drain(ctx, threadID, lease, log)

	w.setState(StateDraining)
	releaseCtx, cancel := context.WithTimeout(context.Background(), w.cfg.StopGrace)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		log.Warn("release lease failed", "error", err)
	}
	w.setState(StateReleased)
	w.setState(StateIdle)

	return runErr
}

func (w *Worker) drain(ctx context.Context, threadID string, lease *queue.Lease, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lease.Lost():
			log.Warn("lease lost mid-drain, stopping dispatch")
			return nil
		default:
		}

		dequeueCtx, dequeueSpan := observability.StartSpan(ctx, "queue.dequeue", observability.ThreadAttrs(threadID, "", "", "")...)
		event, err := w.store.Dequeue(dequeueCtx, threadID)
		observability.End(dequeueSpan, err)
		if err != nil {
			return err
		}
		if event == nil {
			return nil // drained
		}

		w.dispatch(ctx, event, log)
	}
}

func (w *Worker) dispatch(ctx context.Context, event *models.Event, log *slog.Logger) {
	ctx, span := observability.StartSpan(ctx, "worker.dispatch",
		observability.ThreadAttrs(event.ThreadID, event.ID, string(event.Type), event.Namespace)...)
	defer span.End()

	processor, ok := w.registry.Dispatch(event.Type)
	if !ok {
		err := fmt.Errorf("worker: no processor registered for event type %q", event.Type)
		log.Error("no processor registered for event type", "event_type", event.Type, "event_id", event.ID)
		span.RecordError(err)
		if w.cfg.OnDispatch != nil {
			w.cfg.OnDispatch(event, nil, err)
		}
		_ = w.store.Fail(ctx, event.ID)
		return
	}

	followUps, err := processor.Process(ctx, event)
	if w.cfg.OnDispatch != nil {
		w.cfg.OnDispatch(event, followUps, err)
	}
	if err != nil {
		log.Error("processor failed", "processor", processor.Name(), "event_id", event.ID, "error", err)
		span.RecordError(err)
		_ = w.store.Fail(ctx, event.ID)
		return
	}

	for _, fu := range followUps {
		if err := w.store.Enqueue(ctx, fu); err != nil {
			log.Error("enqueue follow-up event failed", "event_id", fu.ID, "error", err)
		}
	}

	if err := w.store.Complete(ctx, event.ID); err != nil {
		log.Error("mark complete failed", "event_id", event.ID, "error", err)
	}
}

// Package api implements C10: the public run(message, onEvent?, options?)
// entry point, wiring the queue, namespace resolver, and thread worker into
// the single call surface the rest of the system is driven through.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conclavehq/conclave/internal/namespace"
	"github.com/conclavehq/conclave/internal/processors"
	"github.com/conclavehq/conclave/internal/queue"
	"github.com/conclavehq/conclave/internal/registry"
	"github.com/conclavehq/conclave/internal/worker"
	"github.com/conclavehq/conclave/pkg/models"
)

// Sender identifies who authored the inbound message.
type Sender struct {
	ID         string
	ExternalID string
	Type       models.SenderType
	Name       string
	Metadata   map[string]any
}

// ThreadRef identifies, or describes how to create, the thread a message
// belongs to.
type ThreadRef struct {
	ID           string
	ExternalID   string
	Participants []string
	Name         string
	Metadata     map[string]any
}

// Message is the run() entry point's input, per spec §6's message shape.
type Message struct {
	Content   string
	Sender    Sender
	Thread    ThreadRef
	ToolCalls []models.ToolCall
	Metadata  map[string]any
}

// AckMode controls when a dispatched event is considered acknowledged by
// the caller.
type AckMode string

const (
	AckImmediate  AckMode = "immediate"
	AckOnComplete AckMode = "onComplete"
)

// Options tunes a single run, per spec §6.
type Options struct {
	Stream   bool
	AckMode  AckMode
	QueueTTL time.Duration

	// Namespace/Scope/NamespaceID resolve the effective namespace via
	// internal/namespace.Resolve; Namespace is used as-is if already set,
	// taking precedence over the three-part resolution.
	Namespace   string
	Scope       namespace.Scope
	NamespaceID string
	Schema      string
}

func (o Options) resolveNamespace() (string, error) {
	if o.Namespace != "" {
		return o.Namespace, nil
	}
	if o.Scope == "" {
		return "", nil
	}
	return namespace.Resolve("", o.Scope, o.NamespaceID)
}

// RunHandle is returned immediately by Run; the caller observes progress by
// ranging over Events and learns the outcome from Done.
type RunHandle struct {
	QueueID  string
	ThreadID string
	Status   string

	Events <-chan *models.StreamEvent

	done   chan error
	cancel context.CancelFunc
}

// Done resolves (closes, carrying the terminal error if any) when the
// thread's queue has drained at least once with no new work produced.
func (h *RunHandle) Done() <-chan error { return h.done }

// Cancel aborts the run: the in-flight event is allowed to finish or abort,
// then Done resolves.
func (h *RunHandle) Cancel() { h.cancel() }

const streamBuffer = 64

// Runner wires the durable queue, processor registry, and worker pool
// behind a single Run call. One Runner is shared across every run in a
// process; each Run spawns (or joins, if the thread already has a worker
// draining it) a worker.Worker scoped to that run's thread.
type Runner struct {
	store    *queue.Store
	registry *registry.Registry
	workerID string
	leaseTTL time.Duration

	mu     sync.Mutex
	active map[string]*threadRun
}

// threadRun tracks the single in-process drive loop for a thread: only one
// goroutine ever calls worker.Worker.Run for a given thread ID at a time in
// this process (cross-process exclusivity is the DB lease's job). Run calls
// that arrive while a loop is already draining the thread join it instead of
// starting a second one.
type threadRun struct {
	subscribers []chan *models.StreamEvent
	waiters     []chan error
	running     bool
}

// Config tunes a Runner.
type Config struct {
	WorkerID string
	LeaseTTL time.Duration // default 30s, per spec §5
}

// New constructs a Runner bound to store and reg.
func New(store *queue.Store, reg *registry.Registry, cfg Config) *Runner {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "conclaved-" + uuid.NewString()
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	return &Runner{
		store:    store,
		registry: reg,
		workerID: cfg.WorkerID,
		leaseTTL: cfg.LeaseTTL,
		active:   map[string]*threadRun{},
	}
}

// Run enqueues msg as a NEW_MESSAGE event and starts or joins the thread's
// worker, per spec §6's control flow.
func (r *Runner) Run(ctx context.Context, msg Message, opts Options) (*RunHandle, error) {
	ns, err := opts.resolveNamespace()
	if err != nil {
		return nil, fmt.Errorf("api: resolve namespace: %w", err)
	}

	thread, err := r.resolveThread(ctx, ns, msg.Thread)
	if err != nil {
		return nil, fmt.Errorf("api: resolve thread: %w", err)
	}

	payload, err := json.Marshal(processors.MessagePayload{
		SenderID:   msg.Sender.ID,
		SenderType: msg.Sender.Type,
		SenderName: msg.Sender.Name,
		Content:    msg.Content,
		ToolCalls:  msg.ToolCalls,
	})
	if err != nil {
		return nil, fmt.Errorf("api: encode message payload: %w", err)
	}

	now := time.Now()
	event := &models.Event{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		Namespace: ns,
		Type:      models.EventTypeNewMessage,
		Payload:   payload,
		Metadata:  msg.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.QueueTTL > 0 {
		expiresAt := now.Add(opts.QueueTTL)
		event.ExpiresAt = &expiresAt
		event.TTLMs = opts.QueueTTL.Milliseconds()
	}
	if err := r.store.Enqueue(ctx, event); err != nil {
		return nil, fmt.Errorf("api: enqueue new message: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &RunHandle{
		QueueID:  event.ID,
		ThreadID: thread.ID,
		Status:   "queued",
		done:     make(chan error, 1),
		cancel:   cancel,
	}
	handle.Events = r.join(thread.ID, handle.done, runCtx)

	return handle, nil
}

func (r *Runner) resolveThread(ctx context.Context, ns string, ref ThreadRef) (*models.Thread, error) {
	if ref.ID != "" {
		t, err := r.store.GetThread(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	seed := &models.Thread{
		ID:           ref.ID,
		Namespace:    ns,
		Name:         ref.Name,
		ExternalID:   ref.ExternalID,
		Participants: ref.Participants,
		Metadata:     ref.Metadata,
	}
	return r.store.FindOrCreateThread(ctx, ns, ref.ExternalID, seed)
}

// join registers a subscriber channel and a done-waiter for threadID. If no
// drive loop is currently running for threadID, this call becomes its
// leader and launches one; otherwise it rides the existing loop.
func (r *Runner) join(threadID string, done chan error, ctx context.Context) <-chan *models.StreamEvent {
	ch := make(chan *models.StreamEvent, streamBuffer)

	r.mu.Lock()
	run, ok := r.active[threadID]
	if !ok {
		run = &threadRun{}
		r.active[threadID] = run
	}
	run.subscribers = append(run.subscribers, ch)
	run.waiters = append(run.waiters, done)
	isLeader := !run.running
	run.running = true
	r.mu.Unlock()

	if isLeader {
		go r.drive(ctx, threadID)
	}
	return ch
}

func (r *Runner) broadcast(threadID string, ev *models.StreamEvent) {
	r.mu.Lock()
	run, ok := r.active[threadID]
	var subs []chan *models.StreamEvent
	if ok {
		subs = append(subs, run.subscribers...)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			if ev.Type == models.StreamToken {
				continue // overflow: a full subscriber misses this new token; tokens already buffered are kept
			}
			// other events wait up to one second and are dropped if the subscriber is still full
			select {
			case ch <- ev:
			case <-time.After(time.Second):
			}
		}
	}
}

// finish tears down threadID's run: every subscriber channel is closed and
// every waiting RunHandle.Done() receives the terminal error exactly once.
func (r *Runner) finish(threadID string, err error) {
	r.mu.Lock()
	run, ok := r.active[threadID]
	delete(r.active, threadID)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, ch := range run.subscribers {
		close(ch)
	}
	for _, w := range run.waiters {
		w <- err
		close(w)
	}
}

// drive runs the thread's worker loop to completion and tears down its run.
// Only the leader of a threadRun calls this; joiners ride its subscriber and
// waiter channels instead.
func (r *Runner) drive(ctx context.Context, threadID string) {
	w := worker.New(r.store, r.registry, worker.Config{
		WorkerID: r.workerID,
		LeaseTTL: r.leaseTTL,
		OnDispatch: func(event *models.Event, followUps []*models.Event, err error) {
			r.broadcast(threadID, toStreamEvent(threadID, event, err))
		},
	}, nil)

	err := w.Run(ctx, threadID)
	r.finish(threadID, err)
}

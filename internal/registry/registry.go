// Package registry implements the processor registry: named, prioritized
// handlers keyed by event type that the thread worker dispatches to.
//
// Grounded in pattern on multiagent.Router's priority-sorted rule matching,
// generalized from routing rules to (eventType, priority, Processor)
// registration.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/conclavehq/conclave/pkg/models"
)

// Processor consumes an Event and may emit new Events for the worker to
// enqueue. An empty result is valid (e.g. a terminal processor).
type Processor interface {
	// Name identifies the processor for logging and metrics.
	Name() string

	// Process handles a single Event. Returning an error marks the event
	// failed; the caller classifies the error (transient/permanent/fatal/
	// best-effort) to decide whether to retry.
	Process(ctx context.Context, e *models.Event) ([]*models.Event, error)
}

type entry struct {
	priority  int
	processor Processor
}

// Registry maps an EventType to its registered processors, highest priority
// first. Registering a second processor at a higher priority for the same
// type does not remove the lower-priority one — Dispatch always picks the
// highest priority entry, but Lookup exposes the full ordered list for
// introspection (e.g. admin/status endpoints).
type Registry struct {
	mu      sync.RWMutex
	entries map[models.EventType][]entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[models.EventType][]entry)}
}

// Register adds a processor for eventType at the given priority. Entries
// are kept sorted, highest priority first; ties keep insertion order
// (stable sort).
func (r *Registry) Register(eventType models.EventType, priority int, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.entries[eventType], entry{priority: priority, processor: p})
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority > list[j].priority
	})
	r.entries[eventType] = list
}

// Dispatch returns the highest-priority processor registered for eventType,
// or (nil, false) if none is registered.
func (r *Registry) Dispatch(eventType models.EventType) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[eventType]
	if len(list) == 0 {
		return nil, false
	}
	return list[0].processor, true
}

// Lookup returns every processor registered for eventType, ordered
// highest-priority first.
func (r *Registry) Lookup(eventType models.EventType) []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[eventType]
	out := make([]Processor, len(list))
	for i, e := range list {
		out[i] = e.processor
	}
	return out
}

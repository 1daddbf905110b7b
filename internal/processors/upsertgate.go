package processors

import (
	"sync"
	"time"
)

// upsertGate is the process-wide S = {lastUpsertAt: map<userKey, instant>}
// state from spec §9: a per-sender key held in-process for a TTL to avoid
// write storms on repeat senders. This is deliberately not built on
// debounce.Debouncer[T] — that type batches several items into one flush
// call after a quiet period, whereas this needs the opposite: let the first
// call through immediately and gate every call within the TTL that follows.
// Plain sync.Mutex + map is the right tool; no third-party debounce library
// in the pack models a "first call wins, then suppress" gate.
type upsertGate struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newUpsertGate(ttl time.Duration) *upsertGate {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &upsertGate{seen: make(map[string]time.Time), ttl: ttl}
}

// shouldUpsert reports whether key has not been upserted within the TTL,
// and if so records now as its new last-upsert time. Best-effort: a failed
// downstream upsert does not roll this back, matching spec §9's "failure
// never blocks the run".
func (g *upsertGate) shouldUpsert(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.seen[key]
	if ok && now.Sub(last) < g.ttl {
		return false
	}
	g.seen[key] = now
	return true
}

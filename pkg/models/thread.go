// Package models defines the core data types shared across the conclave runtime.
package models

import (
	"encoding/json"
	"time"
)

// ThreadStatus represents the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusArchived ThreadStatus = "archived"
)

// ThreadMode controls whether a thread's events are processed as soon as a
// worker becomes available (immediate) or only when explicitly drained
// (deferred, used for batch/offline processing).
type ThreadMode string

const (
	ThreadModeImmediate ThreadMode = "immediate"
	ThreadModeDeferred  ThreadMode = "deferred"
)

// Thread represents a conversation: the unit of exclusivity for the worker
// pool. Exactly one worker may hold the lease on a thread at a time.
//
// Invariant: (WorkerLockedBy == nil) iff (WorkerLeaseExpiresAt == nil or
// WorkerLeaseExpiresAt < now). A thread is never locked without a live
// lease, and never leased without a holder.
type Thread struct {
	ID             string   `json:"id"`
	Namespace      string   `json:"namespace,omitempty"`
	Name           string   `json:"name"`
	ExternalID     string   `json:"external_id,omitempty"`
	Participants   []string `json:"participants,omitempty"`
	Status         ThreadStatus `json:"status"`
	Mode           ThreadMode   `json:"mode"`
	ParentThreadID string       `json:"parent_thread_id,omitempty"`

	// WorkerLockedBy is the worker ID currently holding the processing lease.
	WorkerLockedBy string `json:"worker_locked_by,omitempty"`

	// WorkerLeaseExpiresAt is when the current lease, if any, expires.
	WorkerLeaseExpiresAt *time.Time `json:"worker_lease_expires_at,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Leased reports whether the thread currently has a live worker lease.
func (t *Thread) Leased(now time.Time) bool {
	return t.WorkerLockedBy != "" && t.WorkerLeaseExpiresAt != nil && t.WorkerLeaseExpiresAt.After(now)
}

// EventStatus represents the lifecycle state of a queued event.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
	EventStatusExpired    EventStatus = "expired"
)

// EventType identifies the kind of work an Event carries. Open vocabulary:
// processors register against a type string, new types need no code change
// here.
type EventType string

const (
	EventTypeNewMessage   EventType = "NEW_MESSAGE"
	EventTypeLLMCall      EventType = "LLM_CALL"
	EventTypeToolCall     EventType = "TOOL_CALL"
	EventTypeToken        EventType = "TOKEN"
	EventTypeAssetCreated EventType = "ASSET_CREATED"
	EventTypeRAGIngest    EventType = "RAG_INGEST"
	EventTypeEntityExtract EventType = "ENTITY_EXTRACT"
)

// Event is a unit of asynchronous work persisted in the durable queue.
//
// Invariants: a pending event whose ExpiresAt has passed must be transitioned
// to EventStatusExpired before being dispatched to a processor. UpdatedAt is
// monotonically nondecreasing.
type Event struct {
	ID            string          `json:"id"`
	ThreadID      string          `json:"thread_id"`
	Namespace     string          `json:"namespace,omitempty"`
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	ParentEventID string          `json:"parent_event_id,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	Priority      int             `json:"priority"`
	TTLMs         int64           `json:"ttl_ms,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Status        EventStatus     `json:"status"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Expired reports whether the event's TTL has passed as of now.
func (e *Event) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

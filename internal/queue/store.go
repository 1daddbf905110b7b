// Package queue implements the durable, Postgres-backed event queue and
// thread lease manager: the single-writer-per-thread dequeue and lease
// primitives the worker pool is built on.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/conclavehq/conclave/pkg/models"
)

// ErrLeaseNotHeld names the condition of acting under a lease the caller no
// longer holds. No Store method returns it: RenewLease reports a lost lease
// as false, and ReleaseLease leaves the row untouched and returns nil.
var ErrLeaseNotHeld = errors.New("queue: lease not held")

// Config holds connection pool tuning for the queue store.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store is the Postgres-backed implementation of the durable event queue and
// thread lease table. It is safe for concurrent use by multiple workers.
type Store struct {
	db *sql.DB
}

// Open opens a connection pool against dsn and verifies connectivity.
func Open(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open *sql.DB, e.g. one shared with other stores
// or a sqlmock connection in tests.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AcquireLease attempts to claim the thread's lease for workerID. It
// succeeds if the thread is unlocked, its lease has expired, or workerID
// already holds it (idempotent re-acquire). On success it returns the
// refreshed Thread row; on contention it returns (nil, nil).
//
// Grounded on sessions.DBLocker.tryAcquire's INSERT ... ON CONFLICT DO
// UPDATE ... WHERE expires_at < now() OR owner_id = EXCLUDED.owner_id
// RETURNING pattern, adapted to a plain compare-and-swap UPDATE since the
// lease lives on the threads row rather than a side table.
func (s *Store) AcquireLease(ctx context.Context, threadID, workerID string, ttl time.Duration) (*models.Thread, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	row := s.db.QueryRowContext(ctx, `
		UPDATE threads SET
			worker_locked_by = $1,
			worker_lease_expires_at = $2,
			updated_at = $3
		WHERE id = $4
		  AND (worker_locked_by IS NULL OR worker_lease_expires_at < $3 OR worker_locked_by = $1)
		RETURNING id, namespace, name, external_id, participants, status, mode,
		          parent_thread_id, worker_locked_by, worker_lease_expires_at,
		          metadata, created_at, updated_at
	`, workerID, expiresAt, now, threadID)

	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: acquire lease: %w", err)
	}
	return thread, nil
}

// RenewLease extends a held lease. It returns false if workerID no longer
// holds the lease (the row was not updated), signalling the caller to stop
// its renew loop and treat the thread as lost.
func (s *Store) RenewLease(ctx context.Context, threadID, workerID string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().Add(ttl)
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads SET worker_lease_expires_at = $1
		WHERE id = $2 AND worker_locked_by = $3
	`, expiresAt, threadID, workerID)
	if err != nil {
		return false, fmt.Errorf("queue: renew lease: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue: renew lease rows affected: %w", err)
	}
	return rows > 0, nil
}

// ReleaseLease clears the lease, but only if workerID is still the holder.
func (s *Store) ReleaseLease(ctx context.Context, threadID, workerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET worker_locked_by = NULL, worker_lease_expires_at = NULL
		WHERE id = $1 AND worker_locked_by = $2
	`, threadID, workerID)
	if err != nil {
		return fmt.Errorf("queue: release lease: %w", err)
	}
	return nil
}

// SweepProcessing resets any event left in status=processing for threadID
// back to pending. Called immediately after acquiring a lease so that work
// abandoned by a crashed prior holder is picked back up rather than
// orphaned — resolves the "processing without release" case identified as
// an open question.
func (s *Store) SweepProcessing(ctx context.Context, threadID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = 'pending', updated_at = $1
		WHERE thread_id = $2 AND status = 'processing'
	`, time.Now(), threadID)
	if err != nil {
		return 0, fmt.Errorf("queue: sweep processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: sweep processing rows affected: %w", err)
	}
	return int(n), nil
}

// Enqueue persists a new pending event.
func (s *Store) Enqueue(ctx context.Context, e *models.Event) error {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("queue: marshal metadata: %w", err)
	}
	if e.Status == "" {
		e.Status = models.EventStatusPending
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, thread_id, namespace, type, payload, parent_event_id, trace_id,
			priority, ttl_ms, expires_at, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		e.ID, e.ThreadID, nullableString(e.Namespace), string(e.Type), []byte(e.Payload),
		nullableString(e.ParentEventID), nullableString(e.TraceID), e.Priority,
		nullableInt64(e.TTLMs), e.ExpiresAt, string(e.Status), metadataJSON,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue claims the single highest-priority, oldest pending event for
// threadID under FOR UPDATE SKIP LOCKED, expiring any event whose TTL has
// passed along the way instead of dispatching it. Returns (nil, nil) when
// there is nothing left to process.
//
// Grounded on tasks.CockroachStore.AcquireExecution's
// "SELECT ... FOR UPDATE SKIP LOCKED ... ORDER BY ... LIMIT 1" transaction
// shape, adapted to the spec's (priority DESC, createdAt ASC, id ASC)
// ordering and its TTL-expiry invariant.
func (s *Store) Dequeue(ctx context.Context, threadID string) (*models.Event, error) {
	for {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("queue: begin dequeue tx: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT id, thread_id, namespace, type, payload, parent_event_id, trace_id,
			       priority, ttl_ms, expires_at, status, metadata, created_at, updated_at
			FROM events
			WHERE thread_id = $1 AND status = 'pending'
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, threadID)

		e, err := scanEvent(row)
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return nil, nil
		}
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("queue: scan dequeued event: %w", err)
		}

		now := time.Now()
		if e.Expired(now) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE events SET status = 'expired', updated_at = $1 WHERE id = $2
			`, now, e.ID); err != nil {
				_ = tx.Rollback()
				return nil, fmt.Errorf("queue: expire event: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("queue: commit expiry: %w", err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET status = 'processing', updated_at = $1 WHERE id = $2
		`, now, e.ID); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("queue: mark processing: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("queue: commit dequeue: %w", err)
		}

		e.Status = models.EventStatusProcessing
		e.UpdatedAt = now
		return e, nil
	}
}

// Complete marks an event completed.
func (s *Store) Complete(ctx context.Context, eventID string) error {
	return s.setStatus(ctx, eventID, models.EventStatusCompleted)
}

// Fail marks an event failed. The caller is responsible for recording the
// failure category (transient/permanent/fatal/best_effort) in its own logs
// or metrics; the queue schema only tracks pass/fail.
func (s *Store) Fail(ctx context.Context, eventID string) error {
	return s.setStatus(ctx, eventID, models.EventStatusFailed)
}

func (s *Store) setStatus(ctx context.Context, eventID string, status models.EventStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), time.Now(), eventID)
	if err != nil {
		return fmt.Errorf("queue: set status %s: %w", status, err)
	}
	return nil
}

// IncrementBatchProgress atomically increments the batch-completion counter
// stored at metadata.batch.completed on parentEventID and reports the new
// completed count alongside the batch's recorded size. The read-increment-
// write happens inside a single UPDATE, so Postgres's per-row lock
// serializes concurrent tool-result processors racing to finish the same
// batch — none of them can observe and overwrite a stale count.
func (s *Store) IncrementBatchProgress(ctx context.Context, parentEventID string) (completed, size int, err error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE events SET
			metadata = jsonb_set(
				coalesce(metadata, '{}'::jsonb),
				'{batch,completed}',
				to_jsonb(coalesce((metadata->'batch'->>'completed')::int, 0) + 1)
			),
			updated_at = $1
		WHERE id = $2
		RETURNING (metadata->'batch'->>'completed')::int, coalesce((metadata->'batch'->>'size')::int, 0)
	`, time.Now(), parentEventID)
	if err := row.Scan(&completed, &size); err != nil {
		return 0, 0, fmt.Errorf("queue: increment batch progress: %w", err)
	}
	return completed, size, nil
}

// ThreadsWithPendingEvents returns the distinct IDs of threads that have at
// least one pending event, for the serve-loop supervisor to sweep and hand
// to a worker. It makes no lease claim of its own — AcquireLease still
// arbitrates ownership once the supervisor acts on the result.
func (s *Store) ThreadsWithPendingEvents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT thread_id FROM events WHERE status = 'pending'
	`)
	if err != nil {
		return nil, fmt.Errorf("queue: list threads with pending events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("queue: scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanThread(row *sql.Row) (*models.Thread, error) {
	var t models.Thread
	var (
		namespace  sql.NullString
		externalID sql.NullString
		parentID   sql.NullString
		participantsJSON []byte
		workerLockedBy sql.NullString
		leaseExpires   sql.NullTime
		metadataJSON   []byte
		status, mode   string
	)
	err := row.Scan(
		&t.ID, &namespace, &t.Name, &externalID, &participantsJSON, &status, &mode,
		&parentID, &workerLockedBy, &leaseExpires, &metadataJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Namespace = namespace.String
	t.ExternalID = externalID.String
	t.ParentThreadID = parentID.String
	t.Status = models.ThreadStatus(status)
	t.Mode = models.ThreadMode(mode)
	if workerLockedBy.Valid {
		t.WorkerLockedBy = workerLockedBy.String
	}
	if leaseExpires.Valid {
		t.WorkerLeaseExpiresAt = &leaseExpires.Time
	}
	if len(participantsJSON) > 0 {
		_ = json.Unmarshal(participantsJSON, &t.Participants)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &t.Metadata)
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var e models.Event
	var (
		namespace     sql.NullString
		parentEventID sql.NullString
		traceID       sql.NullString
		ttlMs         sql.NullInt64
		expiresAt     sql.NullTime
		status, typ   string
		metadataJSON  []byte
	)
	err := row.Scan(
		&e.ID, &e.ThreadID, &namespace, &typ, &e.Payload, &parentEventID, &traceID,
		&e.Priority, &ttlMs, &expiresAt, &status, &metadataJSON, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Namespace = namespace.String
	e.Type = models.EventType(typ)
	e.ParentEventID = parentEventID.String
	e.TraceID = traceID.String
	e.Status = models.EventStatus(status)
	if ttlMs.Valid {
		e.TTLMs = ttlMs.Int64
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &e.Metadata)
	}
	return &e, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

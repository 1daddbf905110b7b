package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conclavehq/conclave/pkg/models"
)

// CreateThread inserts a new thread row, assigning an ID if t.ID is empty.
func (s *Store) CreateThread(ctx context.Context, t *models.Thread) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.ThreadStatusActive
	}
	if t.Mode == "" {
		t.Mode = models.ThreadModeImmediate
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	participantsJSON, err := json.Marshal(t.Participants)
	if err != nil {
		return fmt.Errorf("queue: marshal participants: %w", err)
	}
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("queue: marshal thread metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (
			id, namespace, name, external_id, participants, status, mode,
			parent_thread_id, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		t.ID, nullableString(t.Namespace), t.Name, nullableString(t.ExternalID),
		participantsJSON, string(t.Status), string(t.Mode),
		nullableString(t.ParentThreadID), metadataJSON, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("queue: create thread: %w", err)
	}
	return nil
}

// GetThread fetches a thread by ID, returning (nil, nil) if it does not exist.
func (s *Store) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, name, external_id, participants, status, mode,
		       parent_thread_id, worker_locked_by, worker_lease_expires_at,
		       metadata, created_at, updated_at
		FROM threads WHERE id = $1
	`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get thread: %w", err)
	}
	return t, nil
}

// FindOrCreateThread resolves a run's `thread` field to a durable row: if
// namespace+externalID already names a thread (the partial unique index on
// threads(namespace, external_id)), that row is returned unchanged; otherwise
// seed is inserted. A blank externalID always creates a new thread — only
// externally-addressable threads are deduplicated.
func (s *Store) FindOrCreateThread(ctx context.Context, namespace, externalID string, seed *models.Thread) (*models.Thread, error) {
	if externalID == "" {
		if err := s.CreateThread(ctx, seed); err != nil {
			return nil, err
		}
		return seed, nil
	}

	if seed.ID == "" {
		seed.ID = uuid.New().String()
	}
	if seed.Status == "" {
		seed.Status = models.ThreadStatusActive
	}
	if seed.Mode == "" {
		seed.Mode = models.ThreadModeImmediate
	}
	now := time.Now()

	participantsJSON, err := json.Marshal(seed.Participants)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal participants: %w", err)
	}
	metadataJSON, err := json.Marshal(seed.Metadata)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal thread metadata: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO threads (
			id, namespace, name, external_id, participants, status, mode,
			parent_thread_id, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (namespace, external_id) WHERE external_id IS NOT NULL
		DO UPDATE SET updated_at = threads.updated_at
		RETURNING id, namespace, name, external_id, participants, status, mode,
		          parent_thread_id, worker_locked_by, worker_lease_expires_at,
		          metadata, created_at, updated_at
	`,
		seed.ID, nullableString(namespace), seed.Name, externalID,
		participantsJSON, string(seed.Status), string(seed.Mode),
		nullableString(seed.ParentThreadID), metadataJSON, now,
	)
	t, err := scanThread(row)
	if err != nil {
		return nil, fmt.Errorf("queue: find or create thread: %w", err)
	}
	return t, nil
}

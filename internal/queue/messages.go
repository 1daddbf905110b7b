package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conclavehq/conclave/pkg/models"
)

// CreateMessage inserts msg into the messages table. Dual-writing the
// message as a KnowledgeNode and linking it to its predecessor with a
// REPLIED_BY edge (per the durable store's createMessage contract) is the
// RAG store's responsibility; callers that need it compose this with a
// knowledge-store call under the same logical operation.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	toolCallsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("queue: marshal tool calls: %w", err)
	}
	attachmentsJSON, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("queue: marshal attachments: %w", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("queue: marshal message metadata: %w", err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, thread_id, sender_id, sender_type, content, tool_calls,
			tool_call_id, attachments, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		msg.ID, msg.ThreadID, msg.SenderID, string(msg.SenderType), msg.Content,
		toolCallsJSON, nullableString(msg.ToolCallID), attachmentsJSON, metadataJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("queue: create message: %w", err)
	}
	return nil
}

// LastMessage returns the most recently created message in threadID, or
// (nil, nil) if the thread has none yet — used to anchor the createMessage
// dual-write's previous--REPLIED_BY-->current edge.
func (s *Store) LastMessage(ctx context.Context, threadID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, sender_id, sender_type, content, tool_calls,
		       tool_call_id, attachments, metadata, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, threadID)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: last message: %w", err)
	}
	return msg, nil
}

// ListMessages returns every message in threadID, oldest first — the
// conversation history a processor folds into a per-agent view.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, sender_id, sender_type, content, tool_calls,
		       tool_call_id, attachments, metadata, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("queue: list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanMessage(row scanner) (*models.Message, error) {
	var m models.Message
	var (
		senderType                    string
		toolCallsJSON, attachmentsJSON []byte
		metadataJSON                 []byte
		toolCallID                   sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.ThreadID, &m.SenderID, &senderType, &m.Content, &toolCallsJSON,
		&toolCallID, &attachmentsJSON, &metadataJSON, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.SenderType = models.SenderType(senderType)
	m.ToolCallID = toolCallID.String
	if len(toolCallsJSON) > 0 {
		_ = json.Unmarshal(toolCallsJSON, &m.ToolCalls)
	}
	if len(attachmentsJSON) > 0 {
		_ = json.Unmarshal(attachmentsJSON, &m.Attachments)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &m.Metadata)
	}
	return &m, nil
}

// UpsertUser inserts or updates the user identified by u.ID alone: the
// namespace is stored but is not part of the conflict key, and no external
// ID is recorded. The KnowledgeNode side of the dual-write is the RAG
// store's concern, same as CreateMessage.
func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	metadataJSON, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("queue: marshal user metadata: %w", err)
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, namespace, name, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, u.ID, nullableString(u.Namespace), u.Name, metadataJSON, now)
	if err != nil {
		return fmt.Errorf("queue: upsert user: %w", err)
	}
	return nil
}

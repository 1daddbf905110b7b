package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/conclavehq/conclave/pkg/models"
)

// CreateNode implements store.GraphStore.
func (s *Store) CreateNode(ctx context.Context, node *models.KnowledgeNode) error {
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if err := s.validateEmbedding(node.Embedding, true); err != nil {
		return fmt.Errorf("validate node embedding: %w", err)
	}

	data, err := json.Marshal(node.Data)
	if err != nil {
		return fmt.Errorf("marshal node data: %w", err)
	}
	embeddingStr := encodeEmbedding(node.Embedding)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, namespace, type, name, content, data, source_type, source_id, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			content = EXCLUDED.content,
			data = EXCLUDED.data,
			source_type = EXCLUDED.source_type,
			source_id = EXCLUDED.source_id,
			embedding = EXCLUDED.embedding,
			updated_at = now()
	`, node.ID, node.Namespace, node.Type, node.Name, node.Content, string(data),
		node.SourceType, node.SourceID, embeddingStr)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

// GetNode implements store.GraphStore.
func (s *Store) GetNode(ctx context.Context, id string) (*models.KnowledgeNode, error) {
	var node models.KnowledgeNode
	var dataJSON string
	var embeddingStr sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, type, name, content, data, source_type, source_id, embedding
		FROM nodes WHERE id = $1
	`, id).Scan(&node.ID, &node.Namespace, &node.Type, &node.Name, &node.Content,
		&dataJSON, &node.SourceType, &node.SourceID, &embeddingStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &node.Data); err != nil {
		return nil, fmt.Errorf("unmarshal node data: %w", err)
	}
	if embeddingStr.Valid {
		node.Embedding = decodeEmbedding(embeddingStr.String)
	}
	return &node, nil
}

// CreateEdge implements store.GraphStore.
func (s *Store) CreateEdge(ctx context.Context, edge *models.KnowledgeEdge) error {
	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	if edge.Weight == 0 {
		edge.Weight = 1
	}
	data, err := json.Marshal(edge.Data)
	if err != nil {
		return fmt.Errorf("marshal edge data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edges (id, source_node_id, target_node_id, type, data, weight)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			weight = EXCLUDED.weight
	`, edge.ID, edge.SourceNodeID, edge.TargetNodeID, edge.Type, string(data), edge.Weight)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

// SearchNodes implements store.GraphStore. It performs cosine-similarity
// search restricted to req.Namespace and, if set, req.Types.
func (s *Store) SearchNodes(ctx context.Context, req *models.SearchRequest, embedding []float32) ([]*models.SearchResult, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if err := s.validateEmbedding(embedding, false); err != nil {
		return nil, err
	}
	queryVec := encodeEmbedding(embedding)

	query := `
		SELECT id, namespace, type, name, content, data, source_type, source_id, embedding,
			1 - (embedding <=> $1::vector) AS similarity
		FROM nodes
		WHERE embedding IS NOT NULL
	`
	args := []any{queryVec.String}
	argNum := 2

	if req.Namespace != "" {
		query += fmt.Sprintf(" AND namespace = $%d", argNum)
		args = append(args, req.Namespace)
		argNum++
	}
	if len(req.Types) > 0 {
		placeholders := make([]string, len(req.Types))
		for i, t := range req.Types {
			placeholders[i] = fmt.Sprintf("$%d", argNum)
			args = append(args, t)
			argNum++
		}
		query += fmt.Sprintf(" AND type IN (%s)", joinPlaceholders(placeholders))
	}

	query += fmt.Sprintf(" AND (1 - (embedding <=> $1::vector)) >= $%d", argNum)
	args = append(args, req.Threshold)
	argNum++

	query += " ORDER BY embedding <=> $1::vector ASC"
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, req.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search nodes: %w", err)
	}
	defer rows.Close()

	var results []*models.SearchResult
	for rows.Next() {
		var node models.KnowledgeNode
		var dataJSON string
		var embeddingStr sql.NullString
		var similarity float64

		if err := rows.Scan(&node.ID, &node.Namespace, &node.Type, &node.Name, &node.Content,
			&dataJSON, &node.SourceType, &node.SourceID, &embeddingStr, &similarity); err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &node.Data); err != nil {
			return nil, fmt.Errorf("unmarshal node data: %w", err)
		}
		if embeddingStr.Valid {
			node.Embedding = decodeEmbedding(embeddingStr.String)
		}
		results = append(results, &models.SearchResult{Node: &node, Score: float32(similarity)})
	}
	return results, rows.Err()
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

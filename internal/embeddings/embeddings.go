// Package embeddings defines the embedding provider contract consumed by the
// RAG index manager and the entity-extraction processor.
package embeddings

import "context"

// Provider embeds text into fixed-dimension vectors for storage in
// rag_document_chunks.embedding and nodes.embedding.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one round trip
	// where the backend supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension. All vectors a Provider
	// produces must share this dimension, since it is fixed at table
	// creation time (pgvector's vector(N) column type).
	Dimension() int

	// MaxBatchSize returns the maximum number of texts accepted by a single
	// EmbedBatch call.
	MaxBatchSize() int
}

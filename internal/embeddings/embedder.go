// Package embeddings provides the embedding port and its OpenAI adapter,
// wrapped with caching, bounded concurrency, and a circuit breaker.
package embeddings

import "context"

// Embedder turns text into vectors for semantic search.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call,
	// preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector size this embedder produces.
	Dimension() int

	// Model names the underlying embedding model.
	Model() string

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

package embeddings

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// GuardedEmbedder bounds the number of in-flight embedding calls so a bulk
// ingest cannot saturate the provider's concurrency limits.
type GuardedEmbedder struct {
	inner Embedder
	sem   *semaphore.Weighted
}

// NewGuardedEmbedder wraps inner so that at most maxConcurrent calls run at
// once. Callers beyond the limit block until a slot frees or their context
// is cancelled.
func NewGuardedEmbedder(inner Embedder, maxConcurrent int) *GuardedEmbedder {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &GuardedEmbedder{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.Embed(ctx, text)
}

func (g *GuardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.EmbedBatch(ctx, texts)
}

func (g *GuardedEmbedder) Dimension() int { return g.inner.Dimension() }

func (g *GuardedEmbedder) Model() string { return g.inner.Model() }

func (g *GuardedEmbedder) HealthCheck(ctx context.Context) error {
	return g.inner.HealthCheck(ctx)
}

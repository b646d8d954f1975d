package embeddings

import (
	"context"
	"fmt"

	"lorehub/internal/circuitbreaker"
	"lorehub/internal/logging"
)

// BreakerEmbedder shields callers from a struggling embedding provider.
// Once the breaker opens, calls fail fast instead of piling up timeouts.
type BreakerEmbedder struct {
	inner   Embedder
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps inner with a circuit breaker using the default
// thresholds.
func NewBreakerEmbedder(inner Embedder) *BreakerEmbedder {
	cfg := circuitbreaker.DefaultConfig()
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logging.Warn("embeddings circuit breaker state change",
			"from", from.String(), "to", to.String(), "model", inner.Model())
	}
	return &BreakerEmbedder{
		inner:   inner,
		breaker: circuitbreaker.New(cfg),
	}
}

func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		vec, innerErr = b.inner.Embed(ctx, text)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		vecs, innerErr = b.inner.EmbedBatch(ctx, texts)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	return vecs, nil
}

func (b *BreakerEmbedder) Dimension() int { return b.inner.Dimension() }

func (b *BreakerEmbedder) Model() string { return b.inner.Model() }

func (b *BreakerEmbedder) HealthCheck(ctx context.Context) error {
	return b.inner.HealthCheck(ctx)
}

// Stats exposes the underlying breaker counters for the ops endpoints.
func (b *BreakerEmbedder) Stats() circuitbreaker.Stats {
	return b.breaker.GetStats()
}

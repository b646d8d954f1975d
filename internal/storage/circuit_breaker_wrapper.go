package storage

import (
	"context"
	"time"

	"lorehub/internal/circuitbreaker"
	"lorehub/internal/logging"
	"lorehub/pkg/types"
)

// CircuitBreakerGraphStore wraps a GraphStore with circuit breaker
// protection. Read paths fall back to empty results when the breaker is
// open so answer flows degrade instead of erroring.
type CircuitBreakerGraphStore struct {
	store GraphStore
	cb    *circuitbreaker.CircuitBreaker
}

// NewCircuitBreakerGraphStore wraps store; a nil config uses storage
// defaults.
func NewCircuitBreakerGraphStore(store GraphStore, config *circuitbreaker.Config) *CircuitBreakerGraphStore {
	if config == nil {
		config = &circuitbreaker.Config{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			Cooldown:            30 * time.Second,
			MaxConcurrentProbes: 3,
			OnStateChange: func(from, to circuitbreaker.State) {
				logging.Warn("graph store circuit breaker state change",
					"from", from.String(), "to", to.String())
			},
		}
	}
	return &CircuitBreakerGraphStore{
		store: store,
		cb:    circuitbreaker.New(config),
	}
}

func (s *CircuitBreakerGraphStore) Initialize(ctx context.Context) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.Initialize(ctx)
	})
}

func (s *CircuitBreakerGraphStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) (*BatchResult, error) {
	var batch *BatchResult
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		batch, innerErr = s.store.UpsertChunks(ctx, chunks)
		return innerErr
	})
	return batch, err
}

// SearchHybrid falls back to empty results when the breaker rejects the
// call: the orchestrator turns that into an honest "nothing found" answer.
func (s *CircuitBreakerGraphStore) SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	var results []types.ScoredChunk
	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var innerErr error
			results, innerErr = s.store.SearchHybrid(ctx, query, k, filters)
			return innerErr
		},
		func(ctx context.Context, cbErr error) error {
			results = []types.ScoredChunk{}
			return nil
		},
	)
	return results, err
}

func (s *CircuitBreakerGraphStore) GetByID(ctx context.Context, chunkID string) (*types.Chunk, error) {
	var chunk *types.Chunk
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		chunk, innerErr = s.store.GetByID(ctx, chunkID)
		return innerErr
	})
	return chunk, err
}

func (s *CircuitBreakerGraphStore) GetMetadata(ctx context.Context, chunkID string) (*types.Chunk, error) {
	var chunk *types.Chunk
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		chunk, innerErr = s.store.GetMetadata(ctx, chunkID)
		return innerErr
	})
	return chunk, err
}

func (s *CircuitBreakerGraphStore) UpdateMetadata(ctx context.Context, chunkID string, fields map[string]any) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.UpdateMetadata(ctx, chunkID, fields)
	})
}

func (s *CircuitBreakerGraphStore) IncrementAccess(ctx context.Context, chunkID string) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.IncrementAccess(ctx, chunkID)
	})
}

func (s *CircuitBreakerGraphStore) ApplyFeedbackDelta(ctx context.Context, chunkID string, delta float64) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.ApplyFeedbackDelta(ctx, chunkID, delta)
	})
}

func (s *CircuitBreakerGraphStore) SoftDelete(ctx context.Context, chunkID string, at time.Time) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.SoftDelete(ctx, chunkID, at)
	})
}

func (s *CircuitBreakerGraphStore) SoftDeletePage(ctx context.Context, pageID string, at time.Time) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.SoftDeletePage(ctx, pageID, at)
	})
}

func (s *CircuitBreakerGraphStore) HardDelete(ctx context.Context, chunkID string) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.HardDelete(ctx, chunkID)
	})
}

func (s *CircuitBreakerGraphStore) BulkList(ctx context.Context, cursor string, limit int) ([]types.Chunk, string, error) {
	var chunks []types.Chunk
	var next string
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		chunks, next, innerErr = s.store.BulkList(ctx, cursor, limit)
		return innerErr
	})
	return chunks, next, err
}

// RelatedByEntity is an enrichment signal; an open breaker degrades it to
// no expansion rather than failing the search.
func (s *CircuitBreakerGraphStore) RelatedByEntity(ctx context.Context, chunkIDs []string, limit int) ([]types.ScoredChunk, error) {
	var results []types.ScoredChunk
	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var innerErr error
			results, innerErr = s.store.RelatedByEntity(ctx, chunkIDs, limit)
			return innerErr
		},
		func(ctx context.Context, cbErr error) error {
			results = nil
			return nil
		},
	)
	return results, err
}

// HealthCheck bypasses the breaker so probes can observe the real backend.
func (s *CircuitBreakerGraphStore) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

func (s *CircuitBreakerGraphStore) GetStats(ctx context.Context) (*StoreStats, error) {
	var stats *StoreStats
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		stats, innerErr = s.store.GetStats(ctx)
		return innerErr
	})
	return stats, err
}

func (s *CircuitBreakerGraphStore) Close() error {
	return s.store.Close()
}

// GetBreakerStats exposes breaker counters for the ops endpoints.
func (s *CircuitBreakerGraphStore) GetBreakerStats() circuitbreaker.Stats {
	return s.cb.GetStats()
}

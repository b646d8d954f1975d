package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lorehub/internal/retry"
	"lorehub/pkg/types"
)

// RetryableGraphStore wraps a GraphStore with retry logic for transient
// backend failures.
type RetryableGraphStore struct {
	store   GraphStore
	retrier *retry.Retrier
}

// NewRetryableGraphStore wraps store; a nil config uses the storage
// defaults.
func NewRetryableGraphStore(store GraphStore, config *retry.Config) *RetryableGraphStore {
	if config == nil {
		config = defaultRetryConfig()
	}
	return &RetryableGraphStore{
		store:   store,
		retrier: retry.New(config),
	}
}

func defaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         isRetryableStorageError,
	}
}

// isRetryableStorageError marks transient backend failures. Missing chunks
// are never retried.
func isRetryableStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if IsConnectionError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"temporary failure",
		"too many requests",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
		"deadline exceeded",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	type temporary interface {
		Temporary() bool
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

func (r *RetryableGraphStore) Initialize(ctx context.Context) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.Initialize(ctx)
	})
	if result.Err != nil {
		return fmt.Errorf("initialize after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

func (r *RetryableGraphStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) (*BatchResult, error) {
	var batch *BatchResult
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		batch, err = r.store.UpsertChunks(ctx, chunks)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("upsert after %d attempts: %w", result.Attempts, result.Err)
	}
	return batch, nil
}

func (r *RetryableGraphStore) SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	var results []types.ScoredChunk
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		results, err = r.store.SearchHybrid(ctx, query, k, filters)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("search after %d attempts: %w", result.Attempts, result.Err)
	}
	return results, nil
}

func (r *RetryableGraphStore) GetByID(ctx context.Context, chunkID string) (*types.Chunk, error) {
	var chunk *types.Chunk
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		chunk, err = r.store.GetByID(ctx, chunkID)
		return err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return chunk, nil
}

func (r *RetryableGraphStore) GetMetadata(ctx context.Context, chunkID string) (*types.Chunk, error) {
	var chunk *types.Chunk
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		chunk, err = r.store.GetMetadata(ctx, chunkID)
		return err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return chunk, nil
}

func (r *RetryableGraphStore) UpdateMetadata(ctx context.Context, chunkID string, fields map[string]any) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.UpdateMetadata(ctx, chunkID, fields)
	})
	return result.Err
}

func (r *RetryableGraphStore) IncrementAccess(ctx context.Context, chunkID string) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.IncrementAccess(ctx, chunkID)
	})
	return result.Err
}

func (r *RetryableGraphStore) ApplyFeedbackDelta(ctx context.Context, chunkID string, delta float64) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.ApplyFeedbackDelta(ctx, chunkID, delta)
	})
	return result.Err
}

func (r *RetryableGraphStore) SoftDelete(ctx context.Context, chunkID string, at time.Time) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.SoftDelete(ctx, chunkID, at)
	})
	return result.Err
}

func (r *RetryableGraphStore) SoftDeletePage(ctx context.Context, pageID string, at time.Time) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.SoftDeletePage(ctx, pageID, at)
	})
	return result.Err
}

func (r *RetryableGraphStore) HardDelete(ctx context.Context, chunkID string) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.HardDelete(ctx, chunkID)
	})
	return result.Err
}

func (r *RetryableGraphStore) BulkList(ctx context.Context, cursor string, limit int) ([]types.Chunk, string, error) {
	var chunks []types.Chunk
	var next string
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		chunks, next, err = r.store.BulkList(ctx, cursor, limit)
		return err
	})
	if result.Err != nil {
		return nil, "", result.Err
	}
	return chunks, next, nil
}

func (r *RetryableGraphStore) RelatedByEntity(ctx context.Context, chunkIDs []string, limit int) ([]types.ScoredChunk, error) {
	var results []types.ScoredChunk
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		results, err = r.store.RelatedByEntity(ctx, chunkIDs, limit)
		return err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return results, nil
}

func (r *RetryableGraphStore) HealthCheck(ctx context.Context) error {
	// Health checks report current state; retrying would mask flapping.
	return r.store.HealthCheck(ctx)
}

func (r *RetryableGraphStore) GetStats(ctx context.Context) (*StoreStats, error) {
	var stats *StoreStats
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		stats, err = r.store.GetStats(ctx)
		return err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return stats, nil
}

func (r *RetryableGraphStore) Close() error {
	return r.store.Close()
}

// Package storage provides the chunk store port and its graph backends.
// Chunks are stored as episodes with bi-temporal fields; hybrid search
// fuses semantic, lexical and graph signals.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lorehub/internal/config"
	"lorehub/internal/embeddings"
	"lorehub/pkg/types"
)

// GraphStore is the persistence boundary for knowledge chunks.
type GraphStore interface {
	// Initialize connects and creates collections/indexes as needed.
	Initialize(ctx context.Context) error

	// UpsertChunks writes a batch keyed by chunk_id. Re-upserting an
	// existing chunk replaces content and refreshes embeddings while
	// preserving quality fields unless the caller provides them.
	UpsertChunks(ctx context.Context, chunks []types.Chunk) (*BatchResult, error)

	// SearchHybrid returns the top k chunks for the query, fusing the
	// backend's available signals. Scores are normalized to [0,1].
	SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error)

	// GetByID fetches one chunk, including content.
	GetByID(ctx context.Context, chunkID string) (*types.Chunk, error)

	// GetMetadata fetches one chunk's metadata; the content round-trip is
	// not required but the shape is the same.
	GetMetadata(ctx context.Context, chunkID string) (*types.Chunk, error)

	// UpdateMetadata patches the named fields on an existing chunk.
	UpdateMetadata(ctx context.Context, chunkID string, fields map[string]any) error

	// IncrementAccess bumps the access counter atomically.
	IncrementAccess(ctx context.Context, chunkID string) error

	// ApplyFeedbackDelta atomically shifts the quality score by delta,
	// clamped to [0,100], and bumps the feedback counter. Concurrent
	// callers must not lose increments.
	ApplyFeedbackDelta(ctx context.Context, chunkID string, delta float64) error

	// SoftDelete marks one chunk deleted without removing it.
	SoftDelete(ctx context.Context, chunkID string, at time.Time) error

	// SoftDeletePage marks every chunk of a page deleted.
	SoftDeletePage(ctx context.Context, pageID string, at time.Time) error

	// HardDelete removes a chunk permanently.
	HardDelete(ctx context.Context, chunkID string) error

	// BulkList pages through all chunks for maintenance sweeps. An empty
	// cursor starts from the beginning; an empty next cursor ends it.
	BulkList(ctx context.Context, cursor string, limit int) ([]types.Chunk, string, error)

	// RelatedByEntity returns chunks sharing entities with the given
	// ones, excluding the inputs themselves.
	RelatedByEntity(ctx context.Context, chunkIDs []string, limit int) ([]types.ScoredChunk, error)

	HealthCheck(ctx context.Context) error
	GetStats(ctx context.Context) (*StoreStats, error)
	Close() error
}

// BatchResult reports the outcome of one upsert batch.
type BatchResult struct {
	Stored int      `json:"stored"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// StoreStats summarizes the store for health endpoints and CLIs.
type StoreStats struct {
	TotalChunks    int64            `json:"total_chunks"`
	ChunksByType   map[string]int64 `json:"chunks_by_type,omitempty"`
	ChunksBySpace  map[string]int64 `json:"chunks_by_space,omitempty"`
	ChunksByStatus map[string]int64 `json:"chunks_by_status,omitempty"`
	StorageSize    int64            `json:"storage_size_bytes,omitempty"`
}

// Factory builds a GraphStore from configuration and an embedder.
type Factory func(cfg *config.GraphConfig, embedder embeddings.Embedder) (GraphStore, error)

var (
	providersMu sync.RWMutex
	providers   = map[string]Factory{}
)

// RegisterProvider makes a backend available under the given name.
func RegisterProvider(name string, factory Factory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[strings.ToLower(name)] = factory
}

// Providers lists the registered backend names, sorted.
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewGraphStore builds the backend named by cfg.Provider.
func NewGraphStore(cfg *config.GraphConfig, embedder embeddings.Embedder) (GraphStore, error) {
	providersMu.RLock()
	factory, ok := providers[strings.ToLower(cfg.Provider)]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown graph provider %q (available: %s)",
			cfg.Provider, strings.Join(Providers(), ", "))
	}
	return factory(cfg, embedder)
}

func init() {
	RegisterProvider("neo4j", func(cfg *config.GraphConfig, embedder embeddings.Embedder) (GraphStore, error) {
		return NewNeo4jStore(cfg, embedder)
	})
	RegisterProvider("qdrant", func(cfg *config.GraphConfig, embedder embeddings.Embedder) (GraphStore, error) {
		return NewQdrantStore(cfg, embedder)
	})
}

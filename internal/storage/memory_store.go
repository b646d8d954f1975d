package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lorehub/pkg/types"
)

// MemoryStore is an in-process GraphStore used by tests and local
// development. Search scores by token overlap instead of embeddings; the
// behavior contract (filters, soft deletes, quality preservation,
// pagination, entity relatedness) matches the real backends.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]types.Chunk
}

var _ GraphStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]types.Chunk)}
}

func (m *MemoryStore) Initialize(ctx context.Context) error { return nil }

func (m *MemoryStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) (*BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &BatchResult{}
	for i := range chunks {
		chunk := chunks[i]
		if chunk.ChunkID == "" {
			result.Failed++
			result.Errors = append(result.Errors, "missing chunk_id")
			continue
		}
		if existing, ok := m.chunks[chunk.ChunkID]; ok {
			chunk.QualityScore = existing.QualityScore
			chunk.AccessCount = existing.AccessCount
			chunk.FeedbackCount = existing.FeedbackCount
		}
		m.chunks[chunk.ChunkID] = chunk
		result.Stored++
	}
	return result, nil
}

func (m *MemoryStore) SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	if k <= 0 {
		k = 10
	}
	terms := strings.Fields(strings.ToLower(query))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []types.ScoredChunk
	for _, chunk := range m.chunks {
		if chunk.DeletedAt != nil || !matchesFilters(&chunk, filters) {
			continue
		}
		score := overlapScore(terms, chunk.Content+" "+chunk.PageTitle)
		if score > 0 {
			scored = append(scored, types.ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ChunkID < scored[j].Chunk.ChunkID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, chunkID string) (*types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, ErrNotFound)
	}
	copied := chunk
	return &copied, nil
}

func (m *MemoryStore) GetMetadata(ctx context.Context, chunkID string) (*types.Chunk, error) {
	return m.GetByID(ctx, chunkID)
}

func (m *MemoryStore) UpdateMetadata(ctx context.Context, chunkID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return fmt.Errorf("update chunk %s: %w", chunkID, ErrNotFound)
	}
	props, err := types.ChunkToMetadata(&chunk)
	if err != nil {
		return err
	}
	for key, value := range normalizeFieldValues(fields) {
		props[key] = value
	}
	updated, err := types.ChunkFromMetadata(props)
	if err != nil {
		return err
	}
	m.chunks[chunkID] = *updated
	return nil
}

func (m *MemoryStore) IncrementAccess(ctx context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return fmt.Errorf("increment access %s: %w", chunkID, ErrNotFound)
	}
	chunk.AccessCount++
	m.chunks[chunkID] = chunk
	return nil
}

func (m *MemoryStore) ApplyFeedbackDelta(ctx context.Context, chunkID string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return fmt.Errorf("apply feedback delta %s: %w", chunkID, ErrNotFound)
	}
	score := chunk.QualityScore + delta
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	chunk.QualityScore = score
	chunk.FeedbackCount++
	m.chunks[chunkID] = chunk
	return nil
}

func (m *MemoryStore) SoftDelete(ctx context.Context, chunkID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return fmt.Errorf("soft delete %s: %w", chunkID, ErrNotFound)
	}
	deletedAt := at.UTC()
	chunk.DeletedAt = &deletedAt
	m.chunks[chunkID] = chunk
	return nil
}

func (m *MemoryStore) SoftDeletePage(ctx context.Context, pageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deletedAt := at.UTC()
	for id, chunk := range m.chunks {
		if chunk.PageID == pageID {
			chunk.DeletedAt = &deletedAt
			m.chunks[id] = chunk
		}
	}
	return nil
}

func (m *MemoryStore) HardDelete(ctx context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, chunkID)
	return nil
}

func (m *MemoryStore) BulkList(ctx context.Context, cursor string, limit int) ([]types.Chunk, string, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.chunks))
	for id := range m.chunks {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	chunks := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		chunks = append(chunks, m.chunks[id])
	}
	next := ""
	if len(chunks) == limit {
		next = chunks[len(chunks)-1].ChunkID
	}
	return chunks, next, nil
}

func (m *MemoryStore) RelatedByEntity(ctx context.Context, chunkIDs []string, limit int) ([]types.ScoredChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	inputs := map[string]bool{}
	inputEntities := map[string]bool{}
	for _, id := range chunkIDs {
		inputs[id] = true
		if chunk, ok := m.chunks[id]; ok {
			for _, name := range entityNames(&chunk) {
				inputEntities[name] = true
			}
		}
	}

	type related struct {
		chunk  types.Chunk
		shared int64
	}
	var entries []related
	var maxShared int64
	for id, chunk := range m.chunks {
		if inputs[id] || chunk.DeletedAt != nil {
			continue
		}
		var shared int64
		for _, name := range entityNames(&chunk) {
			if inputEntities[name] {
				shared++
			}
		}
		if shared > 0 {
			entries = append(entries, related{chunk: chunk, shared: shared})
			if shared > maxShared {
				maxShared = shared
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].shared != entries[j].shared {
			return entries[i].shared > entries[j].shared
		}
		return entries[i].chunk.ChunkID < entries[j].chunk.ChunkID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	results := make([]types.ScoredChunk, 0, len(entries))
	for _, entry := range entries {
		results = append(results, types.ScoredChunk{
			Chunk: entry.chunk,
			Score: normalizeShared(entry.shared, maxShared),
		})
	}
	return results, nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryStore) GetStats(ctx context.Context) (*StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &StoreStats{
		ChunksByType:   map[string]int64{},
		ChunksBySpace:  map[string]int64{},
		ChunksByStatus: map[string]int64{},
	}
	for _, chunk := range m.chunks {
		stats.TotalChunks++
		stats.ChunksByType[string(chunk.ChunkType)]++
		if chunk.SpaceKey != "" {
			stats.ChunksBySpace[chunk.SpaceKey]++
		}
		stats.ChunksByStatus[string(chunk.Status)]++
	}
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }

// Len reports the number of stored chunks, including soft-deleted ones.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func matchesFilters(chunk *types.Chunk, filters *types.SearchFilters) bool {
	return filters.Matches(chunk)
}

// overlapScore is the share of query terms present in the text.
func overlapScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

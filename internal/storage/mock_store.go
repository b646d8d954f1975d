package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"lorehub/pkg/types"
)

// MockStore is a testify mock of GraphStore for unit tests.
type MockStore struct {
	mock.Mock
}

var _ GraphStore = (*MockStore)(nil)

// NewMockStore creates a new mock graph store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) (*BatchResult, error) {
	args := m.Called(ctx, chunks)
	if result := args.Get(0); result != nil {
		return result.(*BatchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	args := m.Called(ctx, query, k, filters)
	if result := args.Get(0); result != nil {
		return result.([]types.ScoredChunk), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetByID(ctx context.Context, chunkID string) (*types.Chunk, error) {
	args := m.Called(ctx, chunkID)
	if result := args.Get(0); result != nil {
		return result.(*types.Chunk), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetMetadata(ctx context.Context, chunkID string) (*types.Chunk, error) {
	args := m.Called(ctx, chunkID)
	if result := args.Get(0); result != nil {
		return result.(*types.Chunk), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpdateMetadata(ctx context.Context, chunkID string, fields map[string]any) error {
	args := m.Called(ctx, chunkID, fields)
	return args.Error(0)
}

func (m *MockStore) IncrementAccess(ctx context.Context, chunkID string) error {
	args := m.Called(ctx, chunkID)
	return args.Error(0)
}

func (m *MockStore) ApplyFeedbackDelta(ctx context.Context, chunkID string, delta float64) error {
	args := m.Called(ctx, chunkID, delta)
	return args.Error(0)
}

func (m *MockStore) SoftDelete(ctx context.Context, chunkID string, at time.Time) error {
	args := m.Called(ctx, chunkID, at)
	return args.Error(0)
}

func (m *MockStore) SoftDeletePage(ctx context.Context, pageID string, at time.Time) error {
	args := m.Called(ctx, pageID, at)
	return args.Error(0)
}

func (m *MockStore) HardDelete(ctx context.Context, chunkID string) error {
	args := m.Called(ctx, chunkID)
	return args.Error(0)
}

func (m *MockStore) BulkList(ctx context.Context, cursor string, limit int) ([]types.Chunk, string, error) {
	args := m.Called(ctx, cursor, limit)
	var chunks []types.Chunk
	if result := args.Get(0); result != nil {
		chunks = result.([]types.Chunk)
	}
	return chunks, args.String(1), args.Error(2)
}

func (m *MockStore) RelatedByEntity(ctx context.Context, chunkIDs []string, limit int) ([]types.ScoredChunk, error) {
	args := m.Called(ctx, chunkIDs, limit)
	if result := args.Get(0); result != nil {
		return result.([]types.ScoredChunk), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) GetStats(ctx context.Context) (*StoreStats, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		return result.(*StoreStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

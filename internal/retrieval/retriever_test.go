package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorehub/internal/analytics"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/pkg/types"
)

// fakeGraph wraps the in-memory store with injectable search failures and
// a reset hook.
type fakeGraph struct {
	*storage.MemoryStore

	mu         sync.Mutex
	searchErrs []error
	resets     int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{MemoryStore: storage.NewMemoryStore()}
}

func (f *fakeGraph) failNextSearch(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchErrs = append(f.searchErrs, err)
}

func (f *fakeGraph) SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	f.mu.Lock()
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return f.MemoryStore.SearchHybrid(ctx, query, k, filters)
}

func (f *fakeGraph) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

type stubEmbedder struct{ healthErr error }

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1}, nil
}
func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}
func (s *stubEmbedder) Dimension() int                    { return 1 }
func (s *stubEmbedder) Model() string                     { return "stub" }
func (s *stubEmbedder) HealthCheck(context.Context) error { return s.healthErr }

func seedChunk(t *testing.T, graph storage.GraphStore, pageID string, index int, content string, quality float64) types.Chunk {
	t.Helper()
	chunk, err := types.NewChunk(pageID, index, content, types.ChunkTypeText)
	require.NoError(t, err)
	chunk.QualityScore = quality
	_, err = graph.UpsertChunks(context.Background(), []types.Chunk{*chunk})
	require.NoError(t, err)
	return *chunk
}

func TestSearchQualityBoostReorders(t *testing.T) {
	graph := newFakeGraph()
	store := analytics.NewMemoryStore()

	// Both chunks match the query identically; quality must break the tie.
	seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 100)
	seedChunk(t, graph, "2002", 0, "deployment rollback procedure for the api service", 10)

	r := NewRetriever(graph, &stubEmbedder{}, store, nil, 0.2)
	results, err := r.Search(context.Background(), "deployment rollback procedure", 5, nil)
	require.NoError(t, err)
	require.Len(t, results.Results, 2)

	assert.Equal(t, "1001_0", results.Results[0].Chunk.ChunkID)
	assert.Equal(t, "2002_0", results.Results[1].Chunk.ChunkID)
	assert.Greater(t, results.Results[0].Score, results.Results[1].Score)

	// Both chunks match every query term (base 1.0). Quality 100 boosts by
	// +20% but clamps at 1.0; quality 10 penalizes to 0.84.
	assert.InDelta(t, 1.0, results.Results[0].Score, 0.0001)
	assert.InDelta(t, 0.84, results.Results[1].Score, 0.0001)
}

func TestSearchWithoutQualityBoostKeepsFusedOrder(t *testing.T) {
	graph := newFakeGraph()
	seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 100)
	seedChunk(t, graph, "2002", 0, "deployment rollback procedure for the api service", 10)

	r := NewRetriever(graph, &stubEmbedder{}, analytics.NewMemoryStore(), nil, 0.2)
	results, err := r.Search(context.Background(), "deployment rollback procedure", 5, nil, WithQualityBoost(false))
	require.NoError(t, err)
	require.Len(t, results.Results, 2)
	assert.InDelta(t, results.Results[0].Score, results.Results[1].Score, 0.0001)
}

func TestSearchExcludesDeletedChunks(t *testing.T) {
	graph := newFakeGraph()
	chunk := seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 80)
	seedChunk(t, graph, "2002", 0, "deployment rollback checklist for the api service", 80)
	require.NoError(t, graph.SoftDelete(context.Background(), chunk.ChunkID, time.Now()))

	r := NewRetriever(graph, &stubEmbedder{}, analytics.NewMemoryStore(), nil, 0)
	results, err := r.Search(context.Background(), "deployment rollback", 5, nil)
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "2002_0", results.Results[0].Chunk.ChunkID)
}

func TestSearchConnectionErrorResetsOnce(t *testing.T) {
	graph := newFakeGraph()
	seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 80)
	graph.failNextSearch(errors.New("dial tcp: connection refused"))

	r := NewRetriever(graph, &stubEmbedder{}, analytics.NewMemoryStore(), nil, 0)
	results, err := r.Search(context.Background(), "deployment rollback", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, graph.resets)
	require.Len(t, results.Results, 1, "retry after reset serves the query")
}

func TestSearchNonConnectionErrorPropagates(t *testing.T) {
	graph := newFakeGraph()
	seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 80)
	graph.failNextSearch(errors.New("syntax error in query"))

	r := NewRetriever(graph, &stubEmbedder{}, analytics.NewMemoryStore(), nil, 0)
	_, err := r.Search(context.Background(), "deployment rollback", 5, nil)
	require.Error(t, err, "store failures must be distinguishable from empty results")
	assert.ErrorContains(t, err, "syntax error")
	assert.Zero(t, graph.resets)
}

func TestSearchGraphExpansionAppendsRelated(t *testing.T) {
	graph := newFakeGraph()

	direct := seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 80)
	_ = direct

	// Related chunk shares topics with the direct hit but does not match
	// the query terms.
	related, err := types.NewChunk("2002", 0, "change freeze calendar and approvals", types.ChunkTypeText)
	require.NoError(t, err)
	related.Topics = []string{"deployment", "rollback"}
	_, err = graph.UpsertChunks(context.Background(), []types.Chunk{*related})
	require.NoError(t, err)

	seed, err := graph.GetByID(context.Background(), "1001_0")
	require.NoError(t, err)
	seed.Topics = []string{"deployment", "rollback"}
	_, err = graph.UpsertChunks(context.Background(), []types.Chunk{*seed})
	require.NoError(t, err)

	r := NewRetriever(graph, &stubEmbedder{}, analytics.NewMemoryStore(), nil, 0)
	results, err := r.Search(context.Background(), "deployment rollback procedure", 6, nil, WithGraphExpansion(true))
	require.NoError(t, err)

	require.Len(t, results.Results, 2)
	assert.Equal(t, "2002_0", results.Results[1].Chunk.ChunkID)
	assert.Less(t, results.Results[1].Score, results.Results[0].Score,
		"expanded chunks sit in a lower score band")
}

func TestRecordAccessIncrementsBothStores(t *testing.T) {
	graph := newFakeGraph()
	store := analytics.NewMemoryStore()
	chunk := seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 80)

	r := NewRetriever(graph, &stubEmbedder{}, store, nil, 0)
	r.RecordAccess(context.Background(), []string{chunk.ChunkID})

	require.Eventually(t, func() bool {
		got, err := graph.GetByID(context.Background(), chunk.ChunkID)
		if err != nil || got.AccessCount != 1 {
			return false
		}
		count, err := store.CountAccesses(context.Background(), chunk.ChunkID, time.Time{})
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckHealth(t *testing.T) {
	graph := newFakeGraph()
	r := NewRetriever(graph, &stubEmbedder{}, analytics.NewMemoryStore(), nil, 0)
	assert.NoError(t, r.CheckHealth(context.Background()))

	r = NewRetriever(graph, &stubEmbedder{healthErr: errors.New("api down")}, analytics.NewMemoryStore(), nil, 0)
	assert.ErrorContains(t, r.CheckHealth(context.Background()), "embedder")
}

func TestSearchRecordsMetrics(t *testing.T) {
	graph := newFakeGraph()
	seedChunk(t, graph, "1001", 0, "deployment rollback procedure for the api service", 80)

	m := monitoring.NewMetrics()
	r := NewRetriever(graph, &stubEmbedder{}, analytics.NewMemoryStore(), nil, 0)
	r.SetMetrics(m)

	_, err := r.Search(context.Background(), "deployment rollback", 5, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Searches))
}

package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorehub/internal/analytics"
	"lorehub/internal/config"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/pkg/types"
)

// fakeLLM returns a canned JSON verdict.
type fakeLLM struct {
	verdict conflictVerdict
	err     error
	calls   int
}

func (f *fakeLLM) Generate(context.Context, string) (string, error) {
	payload, _ := json.Marshal(f.verdict)
	return string(payload), f.err
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _ string, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	payload, _ := json.Marshal(f.verdict)
	return json.Unmarshal(payload, out)
}

func (f *fakeLLM) Name() string { return "fake" }

func testConfig(t *testing.T) config.LifecycleConfig {
	return config.LifecycleConfig{
		DeprecatedThreshold: 40,
		ArchiveThreshold:    10,
		RestoreThreshold:    70,
		ColdArchiveDays:     30,
		ConflictSimilarity:  0.85,
		ConflictConfidence:  0.7,
		ArchiveDir:          t.TempDir(),
	}
}

func newTestManager(t *testing.T, llm *fakeLLM) (*Manager, *storage.MemoryStore, *analytics.MemoryStore) {
	t.Helper()
	graph := storage.NewMemoryStore()
	store := analytics.NewMemoryStore()
	if llm == nil {
		llm = &fakeLLM{}
	}
	return NewManager(graph, store, llm, nil, testConfig(t)), graph, store
}

func seedChunk(t *testing.T, graph storage.GraphStore, pageID string, quality float64, status types.ChunkStatus, content string) types.Chunk {
	t.Helper()
	chunk, err := types.NewChunk(pageID, 0, content, types.ChunkTypeText)
	require.NoError(t, err)
	chunk.PageTitle = "Page " + pageID
	chunk.QualityScore = quality
	chunk.Status = status
	_, err = graph.UpsertChunks(context.Background(), []types.Chunk{*chunk})
	require.NoError(t, err)
	return *chunk
}

const chunkBody = "The canonical deployment rollback procedure for the primary api service."

func TestArchivalSweepTransitions(t *testing.T) {
	manager, graph, store := newTestManager(t, nil)
	ctx := context.Background()
	m := monitoring.NewMetrics()
	manager.SetMetrics(m)

	healthy := seedChunk(t, graph, "1001", 85, types.ChunkStatusActive, chunkBody)
	fading := seedChunk(t, graph, "2002", 35, types.ChunkStatusActive, chunkBody)
	recovered := seedChunk(t, graph, "3003", 75, types.ChunkStatusDeprecated, chunkBody)
	dying := seedChunk(t, graph, "4004", 5, types.ChunkStatusActive, chunkBody)

	report, err := manager.RunArchivalPipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deprecated)
	assert.Equal(t, 1, report.Restored)
	assert.Equal(t, 1, report.ColdArchived)
	assert.Equal(t, 0, report.HardArchived)
	assert.Equal(t, 0, report.Errors)

	got, err := graph.GetMetadata(ctx, healthy.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStatusActive, got.Status)

	got, err = graph.GetMetadata(ctx, fading.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStatusDeprecated, got.Status)
	require.NotNil(t, got.DeprecatedAt)

	got, err = graph.GetMetadata(ctx, recovered.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStatusActive, got.Status)
	assert.Nil(t, got.DeprecatedAt)

	// Cold-archived chunk: marked, soft-deleted, snapshotted.
	got, err = graph.GetMetadata(ctx, dying.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, types.ChunkStatusColdStorage, got.Status)
	assert.True(t, got.IsDeleted())

	rows, err := store.ListColdArchivedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, dying.ChunkID, rows[0].ChunkID)
	assert.Contains(t, rows[0].Reason, "below archive threshold")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleTransitions.WithLabelValues("deprecated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleTransitions.WithLabelValues("restored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleTransitions.WithLabelValues("cold_archived")))
}

func TestHardArchiveRoundTrip(t *testing.T) {
	manager, graph, store := newTestManager(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	chunk := seedChunk(t, graph, "1001", 5, types.ChunkStatusColdStorage, chunkBody)
	require.NoError(t, store.InsertFeedback(ctx, &types.FeedbackRecord{
		ChunkID: chunk.ChunkID, UserID: "U1",
		FeedbackType: types.FeedbackIncorrect, CreatedAt: now.Add(-40 * 24 * time.Hour),
	}))
	history, err := store.ListFeedbackForChunk(ctx, chunk.ChunkID, time.Time{})
	require.NoError(t, err)
	require.NoError(t, store.InsertArchivedChunk(ctx, &types.ArchivedChunk{
		ChunkID:         chunk.ChunkID,
		Chunk:           chunk,
		FeedbackHistory: history,
		Reason:          "quality score 5.0 below archive threshold 10",
		ArchivedAt:      now.Add(-35 * 24 * time.Hour),
	}))

	report, err := manager.RunArchivalPipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.HardArchived)

	// The graph row and the archive row are gone.
	_, err = graph.GetByID(ctx, chunk.ChunkID)
	assert.Error(t, err)
	rows, err := store.ListColdArchivedBefore(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The file round-trips losslessly.
	record, err := ReadArchiveRecord(manager.ArchivePath(chunk.ChunkID, manager.now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, chunk.ChunkID, record.ChunkID)
	assert.Equal(t, chunk.Content, record.Chunk.Content)
	assert.Equal(t, types.ChunkStatusHardArchived, record.Chunk.Status)
	require.Len(t, record.FeedbackHistory, 1)
	assert.Equal(t, types.FeedbackIncorrect, record.FeedbackHistory[0].FeedbackType)
	assert.Contains(t, record.Reason, "below archive threshold")
}

func TestDetectConflictsContradiction(t *testing.T) {
	llm := &fakeLLM{verdict: conflictVerdict{
		IsContradiction: true, Confidence: 0.9,
		Explanation: "excerpt A says port 8080, excerpt B says 8443",
	}}
	manager, graph, store := newTestManager(t, llm)
	ctx := context.Background()

	// Identical content on different pages: maximum similarity.
	seedChunk(t, graph, "1001", 80, types.ChunkStatusActive, chunkBody)
	seedChunk(t, graph, "2002", 80, types.ChunkStatusActive, chunkBody)

	report, err := manager.DetectConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Candidates, "the pair is adjudicated once, not twice")
	assert.Equal(t, 1, report.Detected)
	assert.Equal(t, 1, llm.calls)

	open, err := store.ListOpenConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.ConflictContradiction, open[0].ConflictType)
	assert.InDelta(t, 0.9, open[0].ConfidenceScore, 0.0001)

	// A second run sees the open conflict and inserts nothing.
	report, err = manager.DetectConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Detected)
	assert.Equal(t, 1, report.Duplicates)
}

func TestDetectConflictsLowConfidenceIsDuplicate(t *testing.T) {
	llm := &fakeLLM{verdict: conflictVerdict{IsContradiction: true, Confidence: 0.4}}
	manager, graph, store := newTestManager(t, llm)
	ctx := context.Background()

	seedChunk(t, graph, "1001", 80, types.ChunkStatusActive, chunkBody)
	seedChunk(t, graph, "2002", 80, types.ChunkStatusActive, chunkBody)

	_, err := manager.DetectConflicts(ctx)
	require.NoError(t, err)

	open, err := store.ListOpenConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.ConflictOutdatedDuplicate, open[0].ConflictType)
}

func TestDetectConflictsIgnoresSamePage(t *testing.T) {
	llm := &fakeLLM{verdict: conflictVerdict{IsContradiction: true, Confidence: 0.9}}
	manager, graph, store := newTestManager(t, llm)
	ctx := context.Background()

	chunkA, err := types.NewChunk("1001", 0, chunkBody, types.ChunkTypeText)
	require.NoError(t, err)
	chunkB, err := types.NewChunk("1001", 1, chunkBody, types.ChunkTypeText)
	require.NoError(t, err)
	_, err = graph.UpsertChunks(ctx, []types.Chunk{*chunkA, *chunkB})
	require.NoError(t, err)

	report, err := manager.DetectConflicts(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Zero(t, llm.calls)

	open, err := store.ListOpenConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestResolveConflict(t *testing.T) {
	tests := []struct {
		resolution  types.Resolution
		deprecatedA bool
		deprecatedB bool
	}{
		{types.ResolutionKeepA, false, true},
		{types.ResolutionKeepB, true, false},
		{types.ResolutionArchiveBoth, true, true},
		{types.ResolutionMerge, false, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.resolution), func(t *testing.T) {
			manager, graph, store := newTestManager(t, nil)
			ctx := context.Background()

			a := seedChunk(t, graph, "1001", 80, types.ChunkStatusActive, chunkBody)
			b := seedChunk(t, graph, "2002", 80, types.ChunkStatusActive, chunkBody)

			conflict, err := types.NewContentConflict(a.ChunkID, b.ChunkID, types.ConflictContradiction, 0.9, 0.8, "")
			require.NoError(t, err)
			_, err = store.InsertConflict(ctx, conflict)
			require.NoError(t, err)

			require.NoError(t, manager.ResolveConflict(ctx, conflict.ID, tc.resolution, "U_admin"))

			gotA, err := graph.GetMetadata(ctx, a.ChunkID)
			require.NoError(t, err)
			gotB, err := graph.GetMetadata(ctx, b.ChunkID)
			require.NoError(t, err)

			assert.Equal(t, tc.deprecatedA, gotA.Status == types.ChunkStatusDeprecated)
			assert.Equal(t, tc.deprecatedB, gotB.Status == types.ChunkStatusDeprecated)
			if tc.deprecatedA {
				assert.Zero(t, gotA.QualityScore)
			}

			resolved, err := store.GetConflict(ctx, conflict.ID)
			require.NoError(t, err)
			assert.Equal(t, types.ConflictResolved, resolved.Status)
			assert.Equal(t, tc.resolution, resolved.Resolution)

			// Resolving twice fails.
			assert.Error(t, manager.ResolveConflict(ctx, conflict.ID, tc.resolution, "U_admin"))
		})
	}
}

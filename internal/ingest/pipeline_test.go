package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorehub/internal/analytics"
	"lorehub/internal/chunking"
	"lorehub/internal/config"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/internal/wiki"
	"lorehub/pkg/types"
)

// fakeSource serves canned pages and records fetches.
type fakeSource struct {
	mu       sync.Mutex
	pages    map[string]*wiki.PageDetail
	listing  []wiki.PageSummary
	fetched  []string
	listErr  error
	fetchErr error
}

func (f *fakeSource) ListPages(_ context.Context, _ string) ([]wiki.PageSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listing, nil
}

func (f *fakeSource) GetPage(_ context.Context, pageID string) (*wiki.PageDetail, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, pageID)
	f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	detail, ok := f.pages[pageID]
	if !ok {
		return nil, wiki.ErrNotFound
	}
	return detail, nil
}

func (f *fakeSource) GetAttachments(context.Context, string) ([]wiki.Attachment, error) {
	return nil, nil
}

func (f *fakeSource) HealthCheck(context.Context) error { return nil }

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func pageDetail(id, title, spaceKey, body string, labels []string, updatedAt time.Time) *wiki.PageDetail {
	return &wiki.PageDetail{
		ID:         id,
		Title:      title,
		SpaceKey:   spaceKey,
		Status:     "current",
		BodyHTML:   body,
		Labels:     labels,
		Version:    1,
		AuthorID:   "U_author",
		AuthorName: "Dana",
		CreatedAt:  updatedAt.Add(-time.Hour),
		UpdatedAt:  updatedAt,
		URL:        "https://wiki.example.com/pages/" + id,
	}
}

func newTestPipeline(source wiki.Source) (*Pipeline, *storage.MemoryStore, *analytics.MemoryStore) {
	graph := storage.NewMemoryStore()
	store := analytics.NewMemoryStore()
	chunker := chunking.New(config.ChunkingConfig{})
	pipe := NewPipeline(source, graph, store, chunker, config.IngestConfig{Concurrency: 2, BatchSize: 8})
	return pipe, graph, store
}

func TestSyncSpacesIngestsNewAndSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{
		listing: []wiki.PageSummary{
			{ID: "1001", Title: "Deploy Guide", SpaceKey: "ENG", Status: "current", Version: 2, UpdatedAt: base},
			{ID: "2002", Title: "Onboarding", SpaceKey: "ENG", Status: "current", Version: 1, UpdatedAt: base},
		},
		pages: map[string]*wiki.PageDetail{
			"1001": pageDetail("1001", "Deploy Guide", "ENG", "<h1>Deploys</h1><p>Ship every change through the release pipeline and verify the service dashboards after the rollout completes. Roll back immediately when alarms fire during the bake period.</p>", []string{"owner:U_dana"}, base),
			"2002": pageDetail("2002", "Onboarding", "ENG", "<p>Welcome aboard. Request access through the provisioning portal on your first day and pair with your onboarding buddy throughout week one to learn the team's review workflow.</p>", nil, base),
		},
	}

	pipe, graph, store := newTestPipeline(source)
	metrics := monitoring.NewMetrics()
	pipe.SetMetrics(metrics)

	// Page 2002 is already known at the same version.
	require.NoError(t, store.UpsertPage(ctx, &types.Page{
		PageID: "2002", SpaceKey: "ENG", Title: "Onboarding",
		Status: types.PageStatusActive, UpdatedAt: base,
	}))

	report, err := pipe.SyncSpaces(ctx, []string{"ENG"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.New)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, []string{"1001"}, source.fetched, "only the new page is fetched")
	assert.Greater(t, graph.Len(), 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PagesIngested.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PagesIngested.WithLabelValues("skipped")))
	assert.Equal(t, float64(graph.Len()), testutil.ToFloat64(metrics.ChunksIndexed))

	// The ingested page row now carries a download timestamp.
	page, err := store.GetPage(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, page.DownloadedAt)
}

func TestSyncSpacesForceFullReingestsEverything(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{
		listing: []wiki.PageSummary{
			{ID: "1001", SpaceKey: "ENG", Status: "current", UpdatedAt: base},
		},
		pages: map[string]*wiki.PageDetail{
			"1001": pageDetail("1001", "Deploy Guide", "ENG", "<p>Ship every change through the release pipeline and always verify the service dashboards after the rollout completes so regressions surface before customers notice them.</p>", nil, base),
		},
	}
	pipe, _, store := newTestPipeline(source)
	require.NoError(t, store.UpsertPage(ctx, &types.Page{
		PageID: "1001", SpaceKey: "ENG", Status: types.PageStatusActive, UpdatedAt: base,
	}))

	report, err := pipe.SyncSpaces(ctx, []string{"ENG"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Skipped)
}

func TestSyncSpacesDeletesTrashedAndVanishedPages(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{
		listing: []wiki.PageSummary{
			{ID: "1001", SpaceKey: "ENG", Status: "trashed", UpdatedAt: base},
		},
	}
	pipe, graph, store := newTestPipeline(source)

	for _, pageID := range []string{"1001", "3003"} {
		chunk, err := types.NewChunk(pageID, 0, "Some indexed content for the page body.", types.ChunkTypeText)
		require.NoError(t, err)
		_, err = graph.UpsertChunks(ctx, []types.Chunk{*chunk})
		require.NoError(t, err)
		require.NoError(t, store.UpsertPage(ctx, &types.Page{
			PageID: pageID, SpaceKey: "ENG", Status: types.PageStatusActive, UpdatedAt: base,
		}))
	}

	report, err := pipe.SyncSpaces(ctx, []string{"ENG"}, false)
	require.NoError(t, err)

	// 1001 was trashed, 3003 vanished from the listing.
	assert.Equal(t, 2, report.Deleted)

	for _, pageID := range []string{"1001", "3003"} {
		page, err := store.GetPage(ctx, pageID)
		require.NoError(t, err)
		assert.Equal(t, types.PageStatusDeleted, page.Status)

		chunk, err := graph.GetByID(ctx, types.ChunkID(pageID, 0))
		require.NoError(t, err)
		assert.True(t, chunk.IsDeleted())
	}
}

func TestSyncSpacesPageFailureIsCountedNotFatal(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{
		listing: []wiki.PageSummary{
			{ID: "1001", SpaceKey: "ENG", Status: "current", UpdatedAt: base},
		},
		pages:    map[string]*wiki.PageDetail{},
		fetchErr: errors.New("boom"),
	}
	pipe, _, _ := newTestPipeline(source)

	report, err := pipe.SyncSpaces(ctx, []string{"ENG"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.New)
	require.NotEmpty(t, report.Samples)
	assert.Contains(t, report.Samples[0], "1001")
}

func TestIngestPageAppliesGovernanceLabels(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{
		pages: map[string]*wiki.PageDetail{
			"1001": pageDetail("1001", "Deploy Guide", "ENG",
				"<p>Ship every change through the release pipeline and verify the service dashboards once the rollout completes in production, then announce the release in the team channel.</p>",
				[]string{"owner:U_dana", "reviewed_by:U_sam", "reviewed_at:2026-07-15", "classification:confidential", "doc_type:runbook", "misc"},
				base),
		},
	}
	pipe, graph, _ := newTestPipeline(source)

	require.NoError(t, pipe.IngestPage(ctx, "1001", NewSessionID()))

	chunk, err := graph.GetByID(ctx, types.ChunkID("1001", 0))
	require.NoError(t, err)
	assert.Equal(t, "U_dana", chunk.Owner)
	assert.Equal(t, "U_sam", chunk.ReviewedBy)
	require.NotNil(t, chunk.ReviewedAt)
	assert.Equal(t, "2026-07-15", chunk.ReviewedAt.Format("2006-01-02"))
	assert.Equal(t, types.ClassificationConfidential, chunk.Classification)
	assert.Equal(t, "runbook", chunk.DocType)
	assert.Equal(t, "ENG", chunk.SpaceKey)
	assert.Equal(t, "U_author", chunk.Author)
	assert.True(t, chunk.EventTime.Equal(base))
}

func TestResumeSkipsIndexedAndRetriesRest(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{pages: map[string]*wiki.PageDetail{}}
	pipe, graph, store := newTestPipeline(source)
	sessionID := "sync_resume01"

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		chunk, err := types.NewChunk("1001", i, fmt.Sprintf("Section %d of the deployment runbook body.", i), types.ChunkTypeText)
		require.NoError(t, err)
		_, err = graph.UpsertChunks(ctx, []types.Chunk{*chunk})
		require.NoError(t, err)

		status := types.CheckpointIndexed
		retries := 0
		if i >= 6 {
			status = types.CheckpointFailed
			retries = 1
		}
		require.NoError(t, store.UpsertCheckpoint(ctx, &types.IndexingCheckpoint{
			ChunkID: chunk.ChunkID, SessionID: sessionID,
			Status: status, RetryCount: retries, UpdatedAt: now,
		}))
	}

	report, err := pipe.Resume(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Skipped)
	assert.Equal(t, 4, report.Attempted)
	assert.Equal(t, 4, report.Indexed)
	assert.Equal(t, 0, report.Failed)
	assert.Zero(t, source.fetchCount(), "chunks present in the graph do not refetch pages")

	// Retried checkpoints keep their history: a prior failure bumps to 1.
	checkpoints, err := store.ListCheckpoints(ctx, sessionID)
	require.NoError(t, err)
	for i := 6; i < 10; i++ {
		cp := checkpoints[types.ChunkID("1001", i)]
		assert.Equal(t, types.CheckpointIndexed, cp.Status)
	}
}

func TestResumeRefetchesPageIDsContainingUnderscores(t *testing.T) {
	ctx := context.Background()
	pageID := "url_a1b2c3d4e5f6"
	source := &fakeSource{pages: map[string]*wiki.PageDetail{
		pageID: pageDetail(pageID, "External doc", "EXT",
			"## Setup\n\nRun the installer and follow the prompts until the service starts cleanly. The defaults are fine for staging; production needs the dedicated database endpoint configured first.",
			nil, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)),
	}}
	pipe, graph, store := newTestPipeline(source)
	sessionID := "sync_resume02"

	// The chunk was checkpointed but never reached the graph, so resume
	// must re-ingest its page. The page ID itself contains underscores.
	require.NoError(t, store.UpsertCheckpoint(ctx, &types.IndexingCheckpoint{
		ChunkID: types.ChunkID(pageID, 0), SessionID: sessionID,
		Status: types.CheckpointFailed, RetryCount: 1, UpdatedAt: time.Now().UTC(),
	}))

	report, err := pipe.Resume(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{pageID}, source.fetched, "resume refetches the full page ID, not its first segment")
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 0, report.Failed)

	chunk, err := graph.GetByID(ctx, types.ChunkID(pageID, 0))
	require.NoError(t, err)
	assert.Equal(t, pageID, chunk.PageID)
}

func TestResumeUnknownSession(t *testing.T) {
	source := &fakeSource{}
	pipe, _, _ := newTestPipeline(source)
	_, err := pipe.Resume(context.Background(), "sync_missing")
	assert.ErrorContains(t, err, "no checkpoints")
}

func TestParseGovernanceLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   Governance
	}{
		{
			name:   "defaults without labels",
			labels: nil,
			want:   Governance{Classification: types.ClassificationInternal},
		},
		{
			name:   "full set",
			labels: []string{"owner:U1", "reviewed_by:U2", "classification:public", "doc_type:faq"},
			want: Governance{
				Owner: "U1", ReviewedBy: "U2",
				Classification: types.ClassificationPublic, DocType: "faq",
			},
		},
		{
			name:   "invalid classification keeps default",
			labels: []string{"classification:topsecret"},
			want:   Governance{Classification: types.ClassificationInternal},
		},
		{
			name:   "malformed labels ignored",
			labels: []string{"owner:", "nonsense", ":value"},
			want:   Governance{Classification: types.ClassificationInternal},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseGovernanceLabels(tc.labels)
			got.ReviewedAt = nil
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("reviewed_at parses ISO date", func(t *testing.T) {
		gov := ParseGovernanceLabels([]string{"reviewed_at:2026-07-15"})
		require.NotNil(t, gov.ReviewedAt)
		assert.Equal(t, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), gov.ReviewedAt.UTC())

		gov = ParseGovernanceLabels([]string{"reviewed_at:yesterday"})
		assert.Nil(t, gov.ReviewedAt)
	})
}

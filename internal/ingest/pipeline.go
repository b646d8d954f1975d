// Package ingest pulls wiki content through conversion, chunking, embedding
// and graph upserts. Runs are checkpointed per chunk so an interrupted sync
// resumes without re-indexing finished work.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lorehub/internal/analytics"
	"lorehub/internal/chunking"
	"lorehub/internal/circuitbreaker"
	"lorehub/internal/config"
	"lorehub/internal/logging"
	"lorehub/internal/markdown"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/internal/wiki"
	"lorehub/pkg/types"
)

const (
	defaultBatchSize   = 64
	defaultConcurrency = 8
	maxErrorSamples    = 10
)

// Pipeline orchestrates wiki ingestion end to end.
type Pipeline struct {
	source  wiki.Source
	graph   storage.GraphStore
	store   analytics.Store
	chunker *chunking.Chunker
	breaker *circuitbreaker.CircuitBreaker
	client  *http.Client
	logger  logging.Logger
	metrics *monitoring.Metrics

	batchSize   int
	concurrency int
}

// NewPipeline wires the ingestion pipeline. The circuit breaker guards
// embedding and graph writes; an open breaker fails pages fast instead of
// hammering a struggling backend.
func NewPipeline(source wiki.Source, graph storage.GraphStore, store analytics.Store, chunker *chunking.Chunker, cfg config.IngestConfig) *Pipeline {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.BreakerThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.BreakerThreshold
	}
	if cfg.BreakerCooldownSeconds > 0 {
		breakerCfg.Cooldown = time.Duration(cfg.BreakerCooldownSeconds) * time.Second
	}
	logger := logging.WithComponent("ingest")
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("index breaker state change", "from", from.String(), "to", to.String())
	}

	return &Pipeline{
		source:      source,
		graph:       graph,
		store:       store,
		chunker:     chunker,
		breaker:     circuitbreaker.New(breakerCfg),
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// SetMetrics attaches the shared instruments. Nil disables recording.
func (p *Pipeline) SetMetrics(m *monitoring.Metrics) {
	p.metrics = m
}

// SyncReport counts the outcome of one sync run.
type SyncReport struct {
	SessionID string   `json:"session_id"`
	New       int      `json:"new"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Deleted   int      `json:"deleted"`
	Errors    int      `json:"errors"`
	Samples   []string `json:"error_samples,omitempty"`

	mu sync.Mutex
}

func (r *SyncReport) add(field *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*field++
}

func (r *SyncReport) addError(ref string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors++
	if len(r.Samples) < maxErrorSamples {
		r.Samples = append(r.Samples, fmt.Sprintf("%s: %v", ref, err))
	}
}

// NewSessionID mints a sync session identifier.
func NewSessionID() string {
	return "sync_" + uuid.New().String()[:8]
}

// pageJob is one page the sync decided to (re)index.
type pageJob struct {
	pageID string
	isNew  bool
}

// SyncSpaces diffs every configured space against the pages table and
// ingests what changed. Trashed or vanished pages are marked deleted and
// their chunks soft-deleted. Page failures are counted, never fatal.
func (p *Pipeline) SyncSpaces(ctx context.Context, spaces []string, forceFull bool) (*SyncReport, error) {
	report := &SyncReport{SessionID: NewSessionID()}
	p.logger.Info("sync started", "session_id", report.SessionID, "spaces", strings.Join(spaces, ","), "force_full", forceFull)

	var jobs []pageJob
	for _, space := range spaces {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		spaceJobs, err := p.planSpace(ctx, space, forceFull, report)
		if err != nil {
			report.addError("space "+space, err)
			continue
		}
		jobs = append(jobs, spaceJobs...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := p.IngestPage(gctx, job.pageID, report.SessionID); err != nil {
				report.addError("page "+job.pageID, err)
				return nil
			}
			if job.isNew {
				report.add(&report.New)
				p.metrics.RecordPage("new")
			} else {
				report.add(&report.Updated)
				p.metrics.RecordPage("updated")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	p.logger.Info("sync finished", "session_id", report.SessionID,
		"new", report.New, "updated", report.Updated, "skipped", report.Skipped,
		"deleted", report.Deleted, "errors", report.Errors)
	return report, nil
}

// planSpace lists a space and decides per page: ingest, skip, or delete.
func (p *Pipeline) planSpace(ctx context.Context, space string, forceFull bool, report *SyncReport) ([]pageJob, error) {
	summaries, err := p.source.ListPages(ctx, space)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	known, err := p.store.ListPages(ctx, space)
	if err != nil {
		return nil, fmt.Errorf("load page state: %w", err)
	}
	knownByID := make(map[string]types.Page, len(known))
	for _, page := range known {
		knownByID[page.PageID] = page
	}

	var jobs []pageJob
	seen := make(map[string]bool, len(summaries))
	for _, summary := range summaries {
		seen[summary.ID] = true
		prior, exists := knownByID[summary.ID]

		if summary.Status == "trashed" {
			if exists && prior.Status != types.PageStatusDeleted {
				p.deletePage(ctx, summary.ID, report)
			}
			continue
		}

		if !forceFull && exists && prior.Status == types.PageStatusActive &&
			!summary.UpdatedAt.After(prior.UpdatedAt) {
			report.add(&report.Skipped)
			p.metrics.RecordPage("skipped")
			continue
		}
		jobs = append(jobs, pageJob{pageID: summary.ID, isNew: !exists})
	}

	// Pages we knew about that no longer appear were removed at source.
	for _, page := range known {
		if !seen[page.PageID] && page.Status != types.PageStatusDeleted {
			p.deletePage(ctx, page.PageID, report)
		}
	}
	return jobs, nil
}

func (p *Pipeline) deletePage(ctx context.Context, pageID string, report *SyncReport) {
	now := time.Now().UTC()
	if err := p.graph.SoftDeletePage(ctx, pageID, now); err != nil {
		report.addError("delete page "+pageID, err)
		return
	}
	if err := p.store.MarkPageDeleted(ctx, pageID, now); err != nil {
		report.addError("delete page "+pageID, err)
		return
	}
	report.add(&report.Deleted)
	p.metrics.RecordPage("deleted")
	p.logger.Info("page deleted", "page_id", pageID)
}

// IngestPage fetches, converts, chunks and indexes one page.
func (p *Pipeline) IngestPage(ctx context.Context, pageID, sessionID string) error {
	detail, err := p.source.GetPage(ctx, pageID)
	if err != nil {
		return fmt.Errorf("fetch page %s: %w", pageID, err)
	}

	md := markdown.Convert(detail.BodyHTML)
	if attachments, err := p.source.GetAttachments(ctx, pageID); err != nil {
		p.logger.Warn("attachment listing failed", "page_id", pageID, "error", err)
	} else if section := attachmentSection(attachments); section != "" {
		md += section
	}

	chunks := p.chunker.ChunkPage(chunking.PageDocument{
		PageID:    detail.ID,
		PageTitle: detail.Title,
		Markdown:  md,
	})

	gov := ParseGovernanceLabels(detail.Labels)
	for i := range chunks {
		stampSource(&chunks[i], detail)
		gov.Apply(&chunks[i])
	}

	if _, failed := p.indexChunks(ctx, sessionID, chunks, nil); failed > 0 {
		return fmt.Errorf("page %s: %d of %d chunks failed to index", pageID, failed, len(chunks))
	}

	now := time.Now().UTC()
	page := &types.Page{
		PageID:        detail.ID,
		SpaceKey:      detail.SpaceKey,
		Title:         detail.Title,
		VersionNumber: detail.Version,
		Status:        types.PageStatusActive,
		UpdatedAt:     detail.UpdatedAt,
		DownloadedAt:  &now,
	}
	if err := p.store.UpsertPage(ctx, page); err != nil {
		return fmt.Errorf("record page %s: %w", pageID, err)
	}

	p.logger.Info("page indexed", "page_id", pageID, "chunks", len(chunks))
	return nil
}

// stampSource carries page identity and authorship onto a chunk.
func stampSource(chunk *types.Chunk, detail *wiki.PageDetail) {
	chunk.PageTitle = detail.Title
	chunk.SpaceKey = detail.SpaceKey
	chunk.URL = detail.URL
	chunk.Author = detail.AuthorID
	chunk.AuthorName = detail.AuthorName
	if !detail.CreatedAt.IsZero() {
		chunk.CreatedAt = detail.CreatedAt
	}
	if !detail.UpdatedAt.IsZero() {
		chunk.UpdatedAt = detail.UpdatedAt
		chunk.EventTime = detail.UpdatedAt
	}
}

// attachmentSection renders attachment names as a trailing references
// section so filenames stay findable through search.
func attachmentSection(attachments []wiki.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n## Attachments\n\n")
	for _, att := range attachments {
		fmt.Fprintf(&b, "- %s (%s)\n", att.Title, att.MediaType)
	}
	return b.String()
}

// indexChunks embeds and upserts chunks in batches behind the breaker,
// checkpointing each chunk pending → indexed/failed.
func (p *Pipeline) indexChunks(ctx context.Context, sessionID string, chunks []types.Chunk, prior map[string]types.IndexingCheckpoint) (stored, failed int) {
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		for i := range batch {
			p.writeCheckpoint(ctx, sessionID, batch[i].ChunkID, types.CheckpointPending, retryCount(prior, batch[i].ChunkID), "")
		}

		var result *storage.BatchResult
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			var execErr error
			result, execErr = p.graph.UpsertChunks(ctx, batch)
			return execErr
		})
		if err != nil {
			failed += len(batch)
			for i := range batch {
				p.writeCheckpoint(ctx, sessionID, batch[i].ChunkID, types.CheckpointFailed,
					retryCount(prior, batch[i].ChunkID)+1, err.Error())
			}
			continue
		}

		failedByID := make(map[string]string, result.Failed)
		for _, sample := range result.Errors {
			if id, msg, ok := strings.Cut(sample, ": "); ok {
				failedByID[id] = msg
			}
		}
		for i := range batch {
			id := batch[i].ChunkID
			if msg, bad := failedByID[id]; bad {
				failed++
				p.writeCheckpoint(ctx, sessionID, id, types.CheckpointFailed, retryCount(prior, id)+1, msg)
				continue
			}
			stored++
			p.writeCheckpoint(ctx, sessionID, id, types.CheckpointIndexed, retryCount(prior, id), "")
		}
	}
	p.metrics.RecordChunksIndexed(stored)
	p.metrics.RecordIngestFailures(failed)
	return stored, failed
}

func retryCount(prior map[string]types.IndexingCheckpoint, chunkID string) int {
	if prior == nil {
		return 0
	}
	return prior[chunkID].RetryCount
}

func (p *Pipeline) writeCheckpoint(ctx context.Context, sessionID, chunkID string, status types.CheckpointStatus, retries int, errMsg string) {
	cp := &types.IndexingCheckpoint{
		ChunkID:    chunkID,
		SessionID:  sessionID,
		Status:     status,
		RetryCount: retries,
		Error:      errMsg,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := p.store.UpsertCheckpoint(ctx, cp); err != nil {
		p.logger.Warn("checkpoint write failed", "chunk_id", chunkID, "session_id", sessionID, "error", err)
	}
}

// ResumeReport counts the outcome of a resumed session.
type ResumeReport struct {
	SessionID string `json:"session_id"`
	Attempted int    `json:"attempted"`
	Indexed   int    `json:"indexed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// Resume re-indexes only the chunks a previous session left pending or
// failed. Already-indexed chunks are skipped.
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (*ResumeReport, error) {
	checkpoints, err := p.store.ListCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints for %s: %w", sessionID, err)
	}
	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("no checkpoints for session %s", sessionID)
	}

	report := &ResumeReport{SessionID: sessionID}
	var pending []types.Chunk
	missingPages := make(map[string]int)
	for chunkID, cp := range checkpoints {
		if cp.Status == types.CheckpointIndexed {
			report.Skipped++
			continue
		}
		chunk, err := p.graph.GetByID(ctx, chunkID)
		if err == nil {
			pending = append(pending, *chunk)
			continue
		}
		// The chunk never made it into the graph; its whole page must be
		// re-ingested to rebuild the content. The ordinal is appended
		// after the last underscore, and page IDs may themselves contain
		// underscores (url_<hash>, qf_<uuid>).
		sep := strings.LastIndex(chunkID, "_")
		if sep <= 0 {
			report.Failed++
			continue
		}
		missingPages[chunkID[:sep]]++
	}

	report.Attempted += len(pending)
	stored, failed := p.indexChunks(ctx, sessionID, pending, checkpoints)
	report.Indexed += stored
	report.Failed += failed

	for pageID, count := range missingPages {
		report.Attempted += count
		if err := p.IngestPage(ctx, pageID, sessionID); err != nil {
			p.logger.Warn("resume re-ingest failed", "page_id", pageID, "error", err)
			report.Failed += count
			continue
		}
		report.Indexed += count
	}

	p.logger.Info("resume finished", "session_id", sessionID,
		"attempted", report.Attempted, "indexed", report.Indexed,
		"failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

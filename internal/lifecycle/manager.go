// Package lifecycle moves chunks through the content lifecycle: low-quality
// content deprecates, then cold-archives, then leaves the graph entirely as
// JSON files; recovered content restores. It also detects and resolves
// contradictions between chunks.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lorehub/internal/ai"
	"lorehub/internal/analytics"
	"lorehub/internal/config"
	"lorehub/internal/logging"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/pkg/types"
)

const sweepPageSize = 200

// ConflictNotifier is told about freshly detected contradictions so owners
// can be pulled in. Failures are logged, never fatal to detection.
type ConflictNotifier interface {
	NotifyConflict(ctx context.Context, conflict *types.ContentConflict, a, b *types.Chunk) error
}

// Manager owns archival tiers and conflict handling.
type Manager struct {
	graph    storage.GraphStore
	store    analytics.Store
	llm      ai.LLM
	notifier ConflictNotifier
	cfg      config.LifecycleConfig
	logger   logging.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewManager wires the lifecycle manager. The notifier may be nil.
func NewManager(graph storage.GraphStore, store analytics.Store, llm ai.LLM, notifier ConflictNotifier, cfg config.LifecycleConfig) *Manager {
	if cfg.DeprecatedThreshold <= 0 {
		cfg.DeprecatedThreshold = 40
	}
	if cfg.ArchiveThreshold <= 0 {
		cfg.ArchiveThreshold = 10
	}
	if cfg.RestoreThreshold <= 0 {
		cfg.RestoreThreshold = 70
	}
	if cfg.ColdArchiveDays <= 0 {
		cfg.ColdArchiveDays = 30
	}
	if cfg.ConflictSimilarity <= 0 {
		cfg.ConflictSimilarity = 0.85
	}
	if cfg.ConflictConfidence <= 0 {
		cfg.ConflictConfidence = 0.7
	}
	if cfg.ConflictScanPageSize <= 0 {
		cfg.ConflictScanPageSize = sweepPageSize
	}
	return &Manager{
		graph:    graph,
		store:    store,
		llm:      llm,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.WithComponent("lifecycle"),
		now:      time.Now,
	}
}

// SetMetrics attaches the shared instruments. Nil disables recording.
func (m *Manager) SetMetrics(mx *monitoring.Metrics) {
	m.metrics = mx
}

// ArchivalReport counts one sweep's transitions.
type ArchivalReport struct {
	Deprecated   int `json:"deprecated"`
	Restored     int `json:"restored"`
	ColdArchived int `json:"cold_archived"`
	HardArchived int `json:"hard_archived"`
	Errors       int `json:"errors"`
}

// RunArchivalPipeline applies the tier transitions to every chunk, then
// exports cold rows past their retention to archive files.
func (m *Manager) RunArchivalPipeline(ctx context.Context) (*ArchivalReport, error) {
	report := &ArchivalReport{}
	now := m.now().UTC()

	cursor := ""
	for {
		chunks, next, err := m.graph.BulkList(ctx, cursor, sweepPageSize)
		if err != nil {
			return report, fmt.Errorf("list chunks: %w", err)
		}
		for i := range chunks {
			if err := m.applyTier(ctx, &chunks[i], now, report); err != nil {
				report.Errors++
				m.logger.Warn("tier transition failed", "chunk_id", chunks[i].ChunkID, "error", err)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if err := m.hardArchiveDue(ctx, now, report); err != nil {
		return report, err
	}

	m.logger.Info("archival sweep finished",
		"deprecated", report.Deprecated, "restored", report.Restored,
		"cold_archived", report.ColdArchived, "hard_archived", report.HardArchived,
		"errors", report.Errors)
	return report, nil
}

func (m *Manager) applyTier(ctx context.Context, chunk *types.Chunk, now time.Time, report *ArchivalReport) error {
	if chunk.Status == types.ChunkStatusHardArchived || chunk.Status == types.ChunkStatusColdStorage {
		return nil
	}

	switch {
	case chunk.QualityScore < m.cfg.ArchiveThreshold:
		if err := m.coldArchive(ctx, chunk, now); err != nil {
			return err
		}
		report.ColdArchived++

	case chunk.Status == types.ChunkStatusDeprecated && chunk.QualityScore >= m.cfg.RestoreThreshold:
		err := m.graph.UpdateMetadata(ctx, chunk.ChunkID, map[string]any{
			"status":        string(types.ChunkStatusActive),
			"deprecated_at": nil,
		})
		if err != nil {
			return err
		}
		report.Restored++
		m.metrics.RecordTransition("restored")
		m.logger.Info("chunk restored", "chunk_id", chunk.ChunkID, "score", chunk.QualityScore)

	case chunk.Status == types.ChunkStatusActive && chunk.QualityScore < m.cfg.DeprecatedThreshold:
		err := m.graph.UpdateMetadata(ctx, chunk.ChunkID, map[string]any{
			"status":        string(types.ChunkStatusDeprecated),
			"deprecated_at": now,
		})
		if err != nil {
			return err
		}
		report.Deprecated++
		m.metrics.RecordTransition("deprecated")
		m.logger.Info("chunk deprecated", "chunk_id", chunk.ChunkID, "score", chunk.QualityScore)
	}
	return nil
}

// coldArchive snapshots the chunk and its feedback history into the
// analytics archive, then removes it from retrieval.
func (m *Manager) coldArchive(ctx context.Context, chunk *types.Chunk, now time.Time) error {
	history, err := m.store.ListFeedbackForChunk(ctx, chunk.ChunkID, time.Time{})
	if err != nil {
		return fmt.Errorf("load feedback history: %w", err)
	}

	archived := &types.ArchivedChunk{
		ChunkID:         chunk.ChunkID,
		Chunk:           *chunk,
		FeedbackHistory: history,
		Reason:          fmt.Sprintf("quality score %.1f below archive threshold %.0f", chunk.QualityScore, m.cfg.ArchiveThreshold),
		ArchivedAt:      now,
	}
	if err := m.store.InsertArchivedChunk(ctx, archived); err != nil {
		return fmt.Errorf("snapshot chunk: %w", err)
	}

	err = m.graph.UpdateMetadata(ctx, chunk.ChunkID, map[string]any{
		"status":           string(types.ChunkStatusColdStorage),
		"cold_archived_at": now,
	})
	if err != nil {
		return fmt.Errorf("mark cold storage: %w", err)
	}
	if err := m.graph.SoftDelete(ctx, chunk.ChunkID, now); err != nil {
		return fmt.Errorf("remove from retrieval: %w", err)
	}

	m.metrics.RecordTransition("cold_archived")
	m.logger.Info("chunk cold archived", "chunk_id", chunk.ChunkID, "score", chunk.QualityScore)
	return nil
}

// hardArchiveDue exports cold rows past retention to per-chunk JSON files
// and removes them from both stores.
func (m *Manager) hardArchiveDue(ctx context.Context, now time.Time, report *ArchivalReport) error {
	cutoff := now.Add(-time.Duration(m.cfg.ColdArchiveDays) * 24 * time.Hour)
	due, err := m.store.ListColdArchivedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list cold rows: %w", err)
	}

	for i := range due {
		if err := m.hardArchiveOne(ctx, &due[i], now); err != nil {
			report.Errors++
			m.logger.Warn("hard archive failed", "chunk_id", due[i].ChunkID, "error", err)
			continue
		}
		report.HardArchived++
	}
	return nil
}

func (m *Manager) hardArchiveOne(ctx context.Context, archived *types.ArchivedChunk, now time.Time) error {
	record := types.HardArchiveRecord{
		ChunkID:         archived.ChunkID,
		Chunk:           archived.Chunk,
		FeedbackHistory: archived.FeedbackHistory,
		Reason:          archived.Reason,
		ColdArchivedAt:  archived.ArchivedAt,
		HardArchivedAt:  now,
	}
	record.Chunk.Status = types.ChunkStatusHardArchived

	path := m.ArchivePath(archived.ChunkID, now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	payload, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive record: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}

	if err := m.graph.HardDelete(ctx, archived.ChunkID); err != nil {
		return fmt.Errorf("remove from graph: %w", err)
	}
	if err := m.store.DeleteArchivedChunk(ctx, archived.ChunkID); err != nil {
		return fmt.Errorf("drop archive row: %w", err)
	}

	m.metrics.RecordTransition("hard_archived")
	m.logger.Info("chunk hard archived", "chunk_id", archived.ChunkID, "path", path)
	return nil
}

// ArchivePath places archive files under ARCHIVE_DIR/YYYY/MM.
func (m *Manager) ArchivePath(chunkID string, at time.Time) string {
	return filepath.Join(m.cfg.ArchiveDir, at.Format("2006"), at.Format("01"), chunkID+".json")
}

// ReadArchiveRecord loads a hard-archive file back into memory.
func ReadArchiveRecord(path string) (*types.HardArchiveRecord, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive file: %w", err)
	}
	var record types.HardArchiveRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode archive file %s: %w", path, err)
	}
	return &record, nil
}

// DeprecateChunk forces a chunk out of circulation: score zero, status
// deprecated. Used by conflict resolution and manual moderation.
func (m *Manager) DeprecateChunk(ctx context.Context, chunkID, reason string) error {
	err := m.graph.UpdateMetadata(ctx, chunkID, map[string]any{
		"quality_score": 0.0,
		"status":        string(types.ChunkStatusDeprecated),
		"deprecated_at": m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("deprecate chunk %s: %w", chunkID, err)
	}
	m.logger.Info("chunk deprecated", "chunk_id", chunkID, "reason", reason)
	return nil
}

package lifecycle

import (
	"context"
	"fmt"

	"lorehub/pkg/types"
)

const conflictNeighbors = 5

// conflictVerdict is the LLM's judgment on one candidate pair.
type conflictVerdict struct {
	IsContradiction bool    `json:"is_contradiction"`
	Confidence      float64 `json:"confidence"`
	Explanation     string  `json:"explanation"`
}

// ConflictReport counts one detection run.
type ConflictReport struct {
	Scanned    int `json:"scanned"`
	Candidates int `json:"candidates"`
	Detected   int `json:"detected"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// DetectConflicts scans for chunk pairs from different pages that are
// similar enough to disagree, and lets the LLM adjudicate each pair.
// Detection is symmetric: an open conflict for (a,b) suppresses (b,a).
func (m *Manager) DetectConflicts(ctx context.Context) (*ConflictReport, error) {
	report := &ConflictReport{}
	checked := make(map[string]bool)

	cursor := ""
	for {
		chunks, next, err := m.graph.BulkList(ctx, cursor, m.cfg.ConflictScanPageSize)
		if err != nil {
			return report, fmt.Errorf("list chunks: %w", err)
		}
		for i := range chunks {
			chunk := &chunks[i]
			if chunk.IsDeleted() || chunk.Status != types.ChunkStatusActive {
				continue
			}
			report.Scanned++
			if err := m.scanChunk(ctx, chunk, checked, report); err != nil {
				report.Errors++
				m.logger.Warn("conflict scan failed", "chunk_id", chunk.ChunkID, "error", err)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	m.logger.Info("conflict detection finished", "scanned", report.Scanned,
		"candidates", report.Candidates, "detected", report.Detected,
		"duplicates", report.Duplicates, "errors", report.Errors)
	return report, nil
}

// scanChunk searches for near neighbors of one chunk and adjudicates each
// cross-page pair above the similarity threshold.
func (m *Manager) scanChunk(ctx context.Context, chunk *types.Chunk, checked map[string]bool, report *ConflictReport) error {
	neighbors, err := m.graph.SearchHybrid(ctx, chunk.Content, conflictNeighbors, nil)
	if err != nil {
		return fmt.Errorf("neighbor search: %w", err)
	}

	for _, neighbor := range neighbors {
		other := neighbor.Chunk
		if other.PageID == chunk.PageID || other.IsDeleted() {
			continue
		}
		if neighbor.Score < m.cfg.ConflictSimilarity {
			continue
		}
		pairKey := types.ConflictPairKey(chunk.ChunkID, other.ChunkID)
		if checked[pairKey] {
			continue
		}
		checked[pairKey] = true
		report.Candidates++

		if err := m.adjudicate(ctx, chunk, &other, neighbor.Score, report); err != nil {
			report.Errors++
			m.logger.Warn("adjudication failed", "pair", pairKey, "error", err)
		}
	}
	return nil
}

func (m *Manager) adjudicate(ctx context.Context, a, b *types.Chunk, similarity float64, report *ConflictReport) error {
	var verdict conflictVerdict
	if err := m.llm.GenerateJSON(ctx, conflictPrompt(a, b), &verdict); err != nil {
		return fmt.Errorf("llm verdict: %w", err)
	}

	conflictType := types.ConflictOutdatedDuplicate
	if verdict.IsContradiction && verdict.Confidence >= m.cfg.ConflictConfidence {
		conflictType = types.ConflictContradiction
	}

	conflict, err := types.NewContentConflict(a.ChunkID, b.ChunkID, conflictType,
		similarity, verdict.Confidence, verdict.Explanation)
	if err != nil {
		return fmt.Errorf("build conflict: %w", err)
	}

	inserted, err := m.store.InsertConflict(ctx, conflict)
	if err != nil {
		return fmt.Errorf("store conflict: %w", err)
	}
	if !inserted {
		report.Duplicates++
		return nil
	}
	report.Detected++
	m.metrics.RecordConflict(string(conflictType))
	m.logger.Info("conflict detected", "conflict_id", conflict.ID,
		"type", string(conflictType), "similarity", similarity, "confidence", verdict.Confidence)

	if conflictType == types.ConflictContradiction && m.notifier != nil {
		if err := m.notifier.NotifyConflict(ctx, conflict, a, b); err != nil {
			m.logger.Warn("conflict notification failed", "conflict_id", conflict.ID, "error", err)
		}
	}
	return nil
}

func conflictPrompt(a, b *types.Chunk) string {
	return fmt.Sprintf(`Two knowledge base excerpts from different pages cover the same topic. Decide whether they contradict each other on any factual claim.

Excerpt A (from "%s"):
%s

Excerpt B (from "%s"):
%s

Respond with JSON: {"is_contradiction": bool, "confidence": number between 0 and 1, "explanation": "one sentence naming the disagreement, or why there is none"}`,
		a.PageTitle, a.Content, b.PageTitle, b.Content)
}

// ResolveConflict applies a reviewer's decision: keep_a deprecates b,
// keep_b deprecates a, archive_both deprecates both, merge only closes the
// row (a human merges the content upstream).
func (m *Manager) ResolveConflict(ctx context.Context, conflictID string, resolution types.Resolution, by string) error {
	conflict, err := m.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("load conflict %s: %w", conflictID, err)
	}
	if conflict.Status != types.ConflictOpen {
		return fmt.Errorf("conflict %s is already %s", conflictID, conflict.Status)
	}

	reason := fmt.Sprintf("conflict %s resolved as %s by %s", conflictID, resolution, by)
	switch resolution {
	case types.ResolutionKeepA:
		err = m.DeprecateChunk(ctx, conflict.ChunkBID, reason)
	case types.ResolutionKeepB:
		err = m.DeprecateChunk(ctx, conflict.ChunkAID, reason)
	case types.ResolutionArchiveBoth:
		if err = m.DeprecateChunk(ctx, conflict.ChunkAID, reason); err == nil {
			err = m.DeprecateChunk(ctx, conflict.ChunkBID, reason)
		}
	case types.ResolutionMerge:
		// Nothing to deprecate; the merged page re-ingests on next sync.
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}
	if err != nil {
		return err
	}

	return m.store.ResolveConflict(ctx, conflictID, resolution, by)
}

// DismissConflict closes a conflict without touching either chunk.
func (m *Manager) DismissConflict(ctx context.Context, conflictID, by string) error {
	return m.store.DismissConflict(ctx, conflictID, by)
}

// Package quality scores chunks from feedback, behavioral signals, access
// patterns and source freshness. Immediate feedback deltas move scores
// right away; the nightly recompute re-derives them from ground truth.
package quality

import (
	"context"
	"fmt"
	"math"
	"time"

	"lorehub/internal/analytics"
	"lorehub/internal/logging"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/pkg/types"
)

// Composite weights. They sum to 1 so the score lands in [0,100].
const (
	feedbackWeight  = 0.35
	behaviorWeight  = 0.25
	relevanceWeight = 0.25
	freshnessWeight = 0.15

	// Feedback and signals older than this no longer shape the score.
	signalWindow = 90 * 24 * time.Hour

	// Chunks nobody touched decay this many points per day before the
	// access modifier applies.
	baseDecayPerDay = 2.0 / 30.0

	recomputePageSize = 200
)

// Immediate deltas per feedback type.
var feedbackDeltas = map[types.FeedbackType]float64{
	types.FeedbackHelpful:   +5,
	types.FeedbackOutdated:  -20,
	types.FeedbackIncorrect: -25,
	types.FeedbackConfusing: -10,
}

// Engine owns quality scoring across both stores.
type Engine struct {
	graph   storage.GraphStore
	store   analytics.Store
	logger  logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

func NewEngine(graph storage.GraphStore, store analytics.Store) *Engine {
	return &Engine{
		graph:  graph,
		store:  store,
		logger: logging.WithComponent("quality"),
		now:    time.Now,
	}
}

// SetMetrics attaches the shared instruments. Nil disables recording.
func (e *Engine) SetMetrics(m *monitoring.Metrics) {
	e.metrics = m
}

// ApplyFeedback appends the record and applies its immediate score delta.
// The delta is a fast correction; the nightly recompute re-derives the
// score from the full history.
func (e *Engine) ApplyFeedback(ctx context.Context, rec *types.FeedbackRecord) error {
	delta, ok := feedbackDeltas[rec.FeedbackType]
	if !ok {
		return fmt.Errorf("no delta for feedback type %q", rec.FeedbackType)
	}

	if err := e.store.InsertFeedback(ctx, rec); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}

	// Delta, clamp, and counter land in one store operation so concurrent
	// feedback on the same chunk cannot lose increments.
	if err := e.graph.ApplyFeedbackDelta(ctx, rec.ChunkID, delta); err != nil {
		return fmt.Errorf("apply feedback delta: %w", err)
	}

	e.metrics.RecordFeedback(string(rec.FeedbackType))
	e.logger.Info("feedback applied", "chunk_id", rec.ChunkID,
		"type", string(rec.FeedbackType), "delta", delta)
	return nil
}

// RecordSignal appends a behavioral signal. Signals never move scores
// immediately; they feed the nightly recompute.
func (e *Engine) RecordSignal(ctx context.Context, sig *types.BehavioralSignal) error {
	if err := e.store.InsertSignal(ctx, sig); err != nil {
		return fmt.Errorf("append signal: %w", err)
	}
	e.metrics.RecordSignal(string(sig.SignalType))
	return nil
}

// RecomputeReport counts the outcome of one recompute sweep.
type RecomputeReport struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// RecomputeAll re-derives every active chunk's composite score. Per-chunk
// failures are counted and skipped so one bad row cannot halt the sweep.
func (e *Engine) RecomputeAll(ctx context.Context) (*RecomputeReport, error) {
	report := &RecomputeReport{}
	cursor := ""
	for {
		chunks, next, err := e.graph.BulkList(ctx, cursor, recomputePageSize)
		if err != nil {
			return report, fmt.Errorf("list chunks: %w", err)
		}
		for i := range chunks {
			if chunks[i].IsDeleted() || chunks[i].Status == types.ChunkStatusHardArchived {
				continue
			}
			report.Scanned++
			score, err := e.compositeScore(ctx, &chunks[i])
			if err != nil {
				report.Errors++
				e.logger.Warn("recompute failed", "chunk_id", chunks[i].ChunkID, "error", err)
				continue
			}
			if math.Abs(score-chunks[i].QualityScore) < 0.001 {
				continue
			}
			err = e.graph.UpdateMetadata(ctx, chunks[i].ChunkID, map[string]any{"quality_score": score})
			if err != nil {
				report.Errors++
				e.logger.Warn("score write failed", "chunk_id", chunks[i].ChunkID, "error", err)
				continue
			}
			report.Updated++
		}
		if next == "" {
			break
		}
		cursor = next
	}

	e.logger.Info("recompute finished", "scanned", report.Scanned,
		"updated", report.Updated, "errors", report.Errors)
	return report, nil
}

// compositeScore derives the full score for one chunk.
func (e *Engine) compositeScore(ctx context.Context, chunk *types.Chunk) (float64, error) {
	now := e.now().UTC()
	since := now.Add(-signalWindow)

	records, err := e.store.ListFeedbackForChunk(ctx, chunk.ChunkID, since)
	if err != nil {
		return 0, fmt.Errorf("load feedback: %w", err)
	}
	signals, err := e.store.ListSignalsForChunk(ctx, chunk.ChunkID, since)
	if err != nil {
		return 0, fmt.Errorf("load signals: %w", err)
	}
	recent, err := e.store.CountAccesses(ctx, chunk.ChunkID, now.Add(-30*24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("count accesses: %w", err)
	}

	score := 100 * (feedbackWeight*feedbackComponent(records) +
		behaviorWeight*behaviorComponent(signals) +
		relevanceWeight*relevanceComponent(recent, chunk.AccessCount) +
		freshnessWeight*freshnessComponent(now.Sub(chunk.UpdatedAt)))
	return clampScore(score), nil
}

// feedbackComponent is the Laplace-smoothed positive ratio. With few
// records the smoothing pulls toward 0.5 so one vote cannot dominate.
func feedbackComponent(records []types.FeedbackRecord) float64 {
	positive := 0
	for _, rec := range records {
		if !rec.FeedbackType.IsNegative() {
			positive++
		}
	}
	return float64(positive+1) / float64(len(records)+2)
}

// behaviorComponent maps the mean signal value from [-1,1] to [0,1].
// Under three signals the sample is too thin to trust.
func behaviorComponent(signals []types.BehavioralSignal) float64 {
	if len(signals) < 3 {
		return 0.5
	}
	sum := 0.0
	for _, sig := range signals {
		sum += sig.SignalValue
	}
	mean := sum / float64(len(signals))
	return (mean + 1) / 2
}

// relevanceComponent grows logarithmically with access volume, weighting
// the last 30 days triple, and saturates near 1.
func relevanceComponent(recent30d, lifetime int) float64 {
	v := math.Log10(1+float64(recent30d*3+lifetime)) / math.Log10(101)
	return math.Min(1, v)
}

// freshnessComponent steps down with source age.
func freshnessComponent(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days < 30:
		return 1.0
	case days < 90:
		return 0.9
	case days < 180:
		return 0.75
	case days < 365:
		return 0.6
	case days < 730:
		return 0.4
	default:
		return 0.2
	}
}

// DecayReport counts the outcome of one decay sweep.
type DecayReport struct {
	Scanned int `json:"scanned"`
	Decayed int `json:"decayed"`
	Errors  int `json:"errors"`
}

// RunDecay lowers scores of chunks untouched by feedback today. Heavily
// accessed chunks decay slower; unused ones faster.
func (e *Engine) RunDecay(ctx context.Context) (*DecayReport, error) {
	report := &DecayReport{}
	now := e.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)

	cursor := ""
	for {
		chunks, next, err := e.graph.BulkList(ctx, cursor, recomputePageSize)
		if err != nil {
			return report, fmt.Errorf("list chunks: %w", err)
		}
		for i := range chunks {
			chunk := &chunks[i]
			if chunk.IsDeleted() || chunk.Status == types.ChunkStatusHardArchived || chunk.QualityScore <= 0 {
				continue
			}
			report.Scanned++

			today, err := e.store.ListFeedbackForChunk(ctx, chunk.ChunkID, dayStart)
			if err != nil {
				report.Errors++
				continue
			}
			if len(today) > 0 {
				continue
			}

			recent, err := e.store.CountAccesses(ctx, chunk.ChunkID, now.Add(-30*24*time.Hour))
			if err != nil {
				report.Errors++
				continue
			}

			decay := baseDecayPerDay * accessModifier(recent)
			newScore := math.Max(0, chunk.QualityScore-decay)
			err = e.graph.UpdateMetadata(ctx, chunk.ChunkID, map[string]any{"quality_score": newScore})
			if err != nil {
				report.Errors++
				e.logger.Warn("decay write failed", "chunk_id", chunk.ChunkID, "error", err)
				continue
			}
			report.Decayed++
		}
		if next == "" {
			break
		}
		cursor = next
	}

	e.logger.Info("decay finished", "scanned", report.Scanned,
		"decayed", report.Decayed, "errors", report.Errors)
	return report, nil
}

// accessModifier scales decay by 30-day access volume.
func accessModifier(accesses int) float64 {
	switch {
	case accesses >= 50:
		return 0.25
	case accesses >= 20:
		return 0.5
	case accesses >= 5:
		return 0.75
	case accesses >= 1:
		return 1.0
	default:
		return 1.5
	}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Package retrieval answers queries against the chunk store, applying
// quality-aware re-ranking on top of the store's hybrid fusion.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"lorehub/internal/analytics"
	"lorehub/internal/embeddings"
	"lorehub/internal/logging"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/pkg/types"
)

const (
	// Over-fetch factor: quality boosting reorders, so the store returns
	// more candidates than the caller asked for.
	overFetchFactor = 3

	defaultBoostWeight = 0.2

	// Graph expansion seeds from this many top results.
	expansionSeeds = 5

	// Expanded chunks score below any fused result.
	expansionScoreBand = 0.1
)

// Reranker reorders search results for a query. The default keeps the
// store's fused order; the port exists so a cross-encoder can be swapped in.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []types.ScoredChunk) ([]types.ScoredChunk, error)
}

// NoopReranker returns results unchanged.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, _ string, results []types.ScoredChunk) ([]types.ScoredChunk, error) {
	return results, nil
}

// Resetter re-establishes a store's underlying connection. Backends whose
// drivers can wedge (stale pools, expired sessions) implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Option adjusts one search call.
type Option func(*searchOptions)

type searchOptions struct {
	qualityBoost   bool
	graphExpansion bool
}

// WithQualityBoost toggles quality-aware score adjustment (default on).
func WithQualityBoost(enabled bool) Option {
	return func(o *searchOptions) { o.qualityBoost = enabled }
}

// WithGraphExpansion appends entity-related chunks beyond the direct
// matches (default off).
func WithGraphExpansion(enabled bool) Option {
	return func(o *searchOptions) { o.graphExpansion = enabled }
}

// Retriever is the read path: hybrid search, quality boost, optional graph
// expansion, access bookkeeping.
type Retriever struct {
	graph       storage.GraphStore
	embedder    embeddings.Embedder
	store       analytics.Store
	reranker    Reranker
	boostWeight float64
	logger      logging.Logger
	metrics     *monitoring.Metrics

	resetting atomic.Bool
}

// NewRetriever wires the read path. A nil reranker defaults to the no-op;
// boostWeight <= 0 defaults to 0.2.
func NewRetriever(graph storage.GraphStore, embedder embeddings.Embedder, store analytics.Store, reranker Reranker, boostWeight float64) *Retriever {
	if reranker == nil {
		reranker = NoopReranker{}
	}
	if boostWeight <= 0 {
		boostWeight = defaultBoostWeight
	}
	return &Retriever{
		graph:       graph,
		embedder:    embedder,
		store:       store,
		reranker:    reranker,
		boostWeight: boostWeight,
		logger:      logging.WithComponent("retrieval"),
	}
}

// SetMetrics attaches the shared instruments. Nil is fine; recording is
// then a no-op.
func (r *Retriever) SetMetrics(m *monitoring.Metrics) {
	r.metrics = m
}

// Search returns the top k chunks for a query. Store failures surface as
// errors so the caller can tell "nothing matched" apart from "the store is
// down" and answer accordingly.
func (r *Retriever) Search(ctx context.Context, query string, k int, filters *types.SearchFilters, opts ...Option) (*types.SearchResults, error) {
	start := time.Now()
	if k <= 0 {
		k = 5
	}
	options := searchOptions{qualityBoost: true}
	for _, opt := range opts {
		opt(&options)
	}

	results, err := r.searchWithReset(ctx, query, k*overFetchFactor, filters)
	if err != nil {
		r.logger.Warn("hybrid search failed", "query_len", len(query), "error", err)
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	results = filterResults(results, filters)

	if options.qualityBoost {
		results = r.applyQualityBoost(results)
	}
	if len(results) > k {
		results = results[:k]
	}

	results, err = r.reranker.Rerank(ctx, query, results)
	if err != nil {
		r.logger.Warn("reranker failed, keeping fused order", "error", err)
	}

	if options.graphExpansion {
		results = r.expandByEntity(ctx, results, filters, k)
	}

	r.metrics.RecordSearch(time.Since(start), len(results))
	return &types.SearchResults{
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start),
	}, nil
}

// searchWithReset runs the store query, resetting the driver exactly once
// on a connection-class failure before retrying.
func (r *Retriever) searchWithReset(ctx context.Context, query string, limit int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	results, err := r.graph.SearchHybrid(ctx, query, limit, filters)
	if err == nil || !storage.IsConnectionError(err) {
		return results, err
	}

	resetter, ok := r.graph.(Resetter)
	if !ok || !r.resetting.CompareAndSwap(false, true) {
		return nil, err
	}
	defer r.resetting.Store(false)

	r.logger.Warn("store connection error, resetting driver", "error", err)
	if resetErr := resetter.Reset(ctx); resetErr != nil {
		return nil, fmt.Errorf("driver reset after %v: %w", err, resetErr)
	}
	return r.graph.SearchHybrid(ctx, query, limit, filters)
}

// filterResults drops soft-deleted chunks and re-checks filters. The store
// already applies both; this guards against backends with weaker filtering.
func filterResults(results []types.ScoredChunk, filters *types.SearchFilters) []types.ScoredChunk {
	kept := results[:0]
	for _, sc := range results {
		if sc.Chunk.IsDeleted() {
			continue
		}
		if !matchesFilters(&sc.Chunk, filters) {
			continue
		}
		kept = append(kept, sc)
	}
	return kept
}

func matchesFilters(chunk *types.Chunk, filters *types.SearchFilters) bool {
	return filters.Matches(chunk)
}

// applyQualityBoost scales each score by the chunk's quality standing:
// quality 50 is neutral, 100 boosts by the full weight, 0 penalizes by it.
func (r *Retriever) applyQualityBoost(results []types.ScoredChunk) []types.ScoredChunk {
	for i := range results {
		quality := results[i].Chunk.QualityScore / 100
		boosted := results[i].Score * (1 + r.boostWeight*(2*quality-1))
		if boosted > 1 {
			boosted = 1
		}
		if boosted < 0 {
			boosted = 0
		}
		results[i].Score = boosted
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// expandByEntity appends up to k/3 chunks sharing entities with the top
// results, after the same delete/filter checks.
func (r *Retriever) expandByEntity(ctx context.Context, results []types.ScoredChunk, filters *types.SearchFilters, k int) []types.ScoredChunk {
	extra := k / 3
	if extra == 0 || len(results) == 0 {
		return results
	}

	seeds := results
	if len(seeds) > expansionSeeds {
		seeds = seeds[:expansionSeeds]
	}
	seedIDs := make([]string, len(seeds))
	seen := make(map[string]bool, len(results))
	for i, sc := range seeds {
		seedIDs[i] = sc.Chunk.ChunkID
	}
	for _, sc := range results {
		seen[sc.Chunk.ChunkID] = true
	}

	related, err := r.graph.RelatedByEntity(ctx, seedIDs, extra*2)
	if err != nil {
		r.logger.Warn("graph expansion failed", "error", err)
		return results
	}

	added := 0
	for _, sc := range related {
		if added >= extra {
			break
		}
		if seen[sc.Chunk.ChunkID] || sc.Chunk.IsDeleted() || !matchesFilters(&sc.Chunk, filters) {
			continue
		}
		sc.Score = expansionScoreBand * sc.Score
		results = append(results, sc)
		seen[sc.Chunk.ChunkID] = true
		added++
	}
	return results
}

// RecordAccess bumps access counters for answered chunks. It runs in the
// background and never blocks or fails the answer path.
func (r *Retriever) RecordAccess(ctx context.Context, chunkIDs []string) {
	if len(chunkIDs) == 0 {
		return
	}
	ids := append([]string(nil), chunkIDs...)
	go func() {
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		now := time.Now().UTC()
		for _, id := range ids {
			if err := r.graph.IncrementAccess(bgCtx, id); err != nil {
				r.logger.Warn("access increment failed", "chunk_id", id, "error", err)
			}
			if err := r.store.RecordAccess(bgCtx, id, now); err != nil {
				r.logger.Warn("access row failed", "chunk_id", id, "error", err)
			}
		}
	}()
}

// CheckHealth verifies the store and embedder are reachable.
func (r *Retriever) CheckHealth(ctx context.Context) error {
	if err := r.graph.HealthCheck(ctx); err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	if err := r.embedder.HealthCheck(ctx); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	return nil
}

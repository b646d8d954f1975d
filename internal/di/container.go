// Package di wires the application together in dependency order:
// embeddings, storage, analytics, providers, pipeline, retrieval, the
// feedback loop, and optionally the chat surface.
package di

import (
	"context"
	"fmt"

	"lorehub/internal/ai"
	"lorehub/internal/analytics"
	"lorehub/internal/chat"
	"lorehub/internal/chat/slackadapter"
	"lorehub/internal/chunking"
	"lorehub/internal/config"
	"lorehub/internal/embeddings"
	"lorehub/internal/escalation"
	"lorehub/internal/ingest"
	"lorehub/internal/lifecycle"
	"lorehub/internal/monitoring"
	"lorehub/internal/orchestrator"
	"lorehub/internal/quality"
	"lorehub/internal/ratelimit"
	"lorehub/internal/retrieval"
	"lorehub/internal/storage"
	"lorehub/internal/wiki"
)

// Container holds the application's singletons.
type Container struct {
	Config  *config.Config
	Metrics *monitoring.Metrics

	Embedder   embeddings.Embedder
	GraphStore storage.GraphStore
	Analytics  analytics.Store
	LLM        ai.LLM
	WikiSource wiki.Source

	Chunker   *chunking.Chunker
	Pipeline  *ingest.Pipeline
	Retriever *retrieval.Retriever
	Quality   *quality.Engine
	Lifecycle *lifecycle.Manager

	Surface      chat.Surface
	Escalator    *escalation.Escalator
	Orchestrator *orchestrator.Orchestrator
}

// NewContainer initializes everything except the chat surface, which
// needs workspace credentials and is attached via EnableChat.
func NewContainer(cfg *config.Config) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Metrics: monitoring.NewMetrics(),
	}

	if err := c.initEmbeddings(); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if err := c.initStorage(); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := c.initProviders(); err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	c.initPipelines()
	return c, nil
}

func (c *Container) initEmbeddings() error {
	base, err := embeddings.NewOpenAIEmbedder(c.Config.AI.OpenAI.APIKey, c.Config.AI.OpenAI.BaseURL, &c.Config.Embeddings)
	if err != nil {
		return err
	}
	guarded := embeddings.NewGuardedEmbedder(base, 0)
	cached := embeddings.NewCachedEmbedder(guarded, c.Config.Embeddings.CacheSize)
	c.Embedder = embeddings.NewBreakerEmbedder(cached)
	return nil
}

func (c *Container) initStorage() error {
	base, err := storage.NewGraphStore(&c.Config.Graph, c.Embedder)
	if err != nil {
		return err
	}
	retrying := storage.NewRetryableGraphStore(base, nil)
	c.GraphStore = storage.NewCircuitBreakerGraphStore(retrying, nil)

	store, err := analytics.NewSQLStore(&c.Config.Analytics)
	if err != nil {
		return err
	}
	c.Analytics = store
	return nil
}

func (c *Container) initProviders() error {
	llm, err := ai.New(&c.Config.AI)
	if err != nil {
		return err
	}
	c.LLM = ai.Instrument(llm, c.Metrics)

	limiter, err := c.wikiLimiter()
	if err != nil {
		return err
	}
	source, err := wiki.NewConfluenceSource(&c.Config.Wiki, limiter)
	if err != nil {
		return err
	}
	c.WikiSource = source
	return nil
}

func (c *Container) wikiLimiter() (ratelimit.Limiter, error) {
	if c.Config.Wiki.RateLimiter == "redis" {
		return ratelimit.NewRedisLimiter(c.Config.Wiki.RedisAddr, "wiki", c.Config.Wiki.ReqsPerSec)
	}
	return ratelimit.NewLocalLimiter(c.Config.Wiki.ReqsPerSec), nil
}

func (c *Container) initPipelines() {
	c.Chunker = chunking.New(c.Config.Chunking)
	c.Pipeline = ingest.NewPipeline(c.WikiSource, c.GraphStore, c.Analytics, c.Chunker, c.Config.Ingest)
	c.Retriever = retrieval.NewRetriever(c.GraphStore, c.Embedder, c.Analytics, retrieval.NoopReranker{}, c.Config.Quality.BoostWeight)
	c.Quality = quality.NewEngine(c.GraphStore, c.Analytics)
	// Without a chat surface there is nobody to notify about conflicts.
	c.Lifecycle = lifecycle.NewManager(c.GraphStore, c.Analytics, c.LLM, nil, c.Config.Lifecycle)

	c.Pipeline.SetMetrics(c.Metrics)
	c.Retriever.SetMetrics(c.Metrics)
	c.Quality.SetMetrics(c.Metrics)
	c.Lifecycle.SetMetrics(c.Metrics)
}

// EnableChat connects the workspace surface and builds the escalation
// and orchestration layers on top of it. The lifecycle manager is
// rebuilt so conflict alerts reach owners.
func (c *Container) EnableChat() error {
	adapter, err := slackadapter.New(c.Config.Chat)
	if err != nil {
		return fmt.Errorf("chat surface: %w", err)
	}
	c.Surface = adapter
	c.Escalator = escalation.New(c.Surface, c.GraphStore, c.Analytics, c.Config.Chat, c.Config.Escalation)
	c.Escalator.SetMetrics(c.Metrics)
	c.Lifecycle = lifecycle.NewManager(c.GraphStore, c.Analytics, c.LLM, c.Escalator, c.Config.Lifecycle)
	c.Lifecycle.SetMetrics(c.Metrics)
	c.Orchestrator = orchestrator.New(c.Surface, c.Retriever, c.LLM, c.Quality, c.Escalator, c.Pipeline, c.Analytics)
	return nil
}

// Initialize connects the graph backend (driver setup plus collection
// and index creation) and migrates the analytics schema. Must run
// before any store operation; both steps are idempotent.
func (c *Container) Initialize(ctx context.Context) error {
	if err := c.GraphStore.Initialize(ctx); err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	return c.MigrateAnalytics(ctx)
}

// MigrateAnalytics creates or upgrades the analytics schema. The
// statements are idempotent, so running at every startup is safe.
func (c *Container) MigrateAnalytics(ctx context.Context) error {
	if s, ok := c.Analytics.(*analytics.SQLStore); ok {
		return s.Migrate(ctx)
	}
	return nil
}

// HealthCheckers exposes readiness probes for the ops server.
func (c *Container) HealthCheckers() map[string]monitoring.HealthChecker {
	return map[string]monitoring.HealthChecker{
		"graph":     c.GraphStore.HealthCheck,
		"analytics": c.Analytics.Ping,
		"embedder":  c.Embedder.HealthCheck,
		"wiki":      c.WikiSource.HealthCheck,
	}
}

// HealthCheck probes the stores that every deployment depends on.
func (c *Container) HealthCheck(ctx context.Context) error {
	if err := c.GraphStore.HealthCheck(ctx); err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	if err := c.Analytics.Ping(ctx); err != nil {
		return fmt.Errorf("analytics store: %w", err)
	}
	return nil
}

// Shutdown closes the stores. Safe to call on a partially built
// container.
func (c *Container) Shutdown() error {
	var firstErr error
	if c.Analytics != nil {
		if err := c.Analytics.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("analytics store: %w", err)
		}
	}
	if c.GraphStore != nil {
		if err := c.GraphStore.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("graph store: %w", err)
		}
	}
	return firstErr
}

// Package monitoring owns the Prometheus registry and the operational
// HTTP endpoints.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every instrument the service records. All vectors are
// registered on a private registry so tests can run side by side.
type Metrics struct {
	Registry *prometheus.Registry

	// Provider calls (LLM, embedder, wiki) by provider and outcome.
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Retrieval.
	Searches      prometheus.Counter
	SearchLatency prometheus.Histogram
	SearchResults prometheus.Histogram

	// Ingestion.
	PagesIngested  *prometheus.CounterVec
	ChunksIndexed  prometheus.Counter
	IngestFailures prometheus.Counter

	// Feedback loop.
	Feedback    *prometheus.CounterVec
	Signals     *prometheus.CounterVec
	Escalations *prometheus.CounterVec

	// Lifecycle.
	LifecycleTransitions *prometheus.CounterVec
	ConflictsDetected    *prometheus.CounterVec
}

// NewMetrics builds and registers all instruments.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,

		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "provider_calls_total",
			Help:      "Outbound provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lorehub",
			Name:      "provider_call_seconds",
			Help:      "Outbound provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),

		Searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "searches_total",
			Help:      "Hybrid searches served.",
		}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lorehub",
			Name:      "search_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lorehub",
			Name:      "search_results",
			Help:      "Result count per search.",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),

		PagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "pages_ingested_total",
			Help:      "Pages processed by the ingest pipeline, by disposition.",
		}, []string{"disposition"}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the graph store.",
		}),
		IngestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "ingest_failures_total",
			Help:      "Pages or batches that failed to index.",
		}),

		Feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "feedback_total",
			Help:      "Explicit feedback records by type.",
		}, []string{"type"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "signals_total",
			Help:      "Behavioral signals by type.",
		}, []string{"type"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "escalations_total",
			Help:      "Escalations delivered, by route.",
		}, []string{"route"}),

		LifecycleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "lifecycle_transitions_total",
			Help:      "Chunk lifecycle transitions by target state.",
		}, []string{"state"}),
		ConflictsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorehub",
			Name:      "conflicts_detected_total",
			Help:      "Content conflicts recorded, by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.ProviderCalls, m.ProviderLatency,
		m.Searches, m.SearchLatency, m.SearchResults,
		m.PagesIngested, m.ChunksIndexed, m.IngestFailures,
		m.Feedback, m.Signals, m.Escalations,
		m.LifecycleTransitions, m.ConflictsDetected,
	)
	return m
}

// The recording helpers below are nil-safe: components built without a
// registry (CLIs, tests) record into the void.

// RecordProviderCall counts one outbound provider call and its latency.
func (m *Metrics) RecordProviderCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordSearch counts one served search with its latency and result size.
func (m *Metrics) RecordSearch(d time.Duration, results int) {
	if m == nil {
		return
	}
	m.Searches.Inc()
	m.SearchLatency.Observe(d.Seconds())
	m.SearchResults.Observe(float64(results))
}

// RecordPage counts one processed page: new, updated, skipped, or deleted.
func (m *Metrics) RecordPage(disposition string) {
	if m == nil {
		return
	}
	m.PagesIngested.WithLabelValues(disposition).Inc()
}

// RecordChunksIndexed counts chunks written to the graph store.
func (m *Metrics) RecordChunksIndexed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksIndexed.Add(float64(n))
}

// RecordIngestFailures counts pages or chunks that failed to index.
func (m *Metrics) RecordIngestFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IngestFailures.Add(float64(n))
}

// RecordFeedback counts one explicit feedback record.
func (m *Metrics) RecordFeedback(feedbackType string) {
	if m == nil {
		return
	}
	m.Feedback.WithLabelValues(feedbackType).Inc()
}

// RecordSignal counts one behavioral signal.
func (m *Metrics) RecordSignal(signalType string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(signalType).Inc()
}

// RecordEscalation counts one delivered escalation by route.
func (m *Metrics) RecordEscalation(route string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(route).Inc()
}

// RecordTransition counts one lifecycle transition by target state.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.LifecycleTransitions.WithLabelValues(state).Inc()
}

// RecordConflict counts one recorded content conflict.
func (m *Metrics) RecordConflict(conflictType string) {
	if m == nil {
		return
	}
	m.ConflictsDetected.WithLabelValues(conflictType).Inc()
}

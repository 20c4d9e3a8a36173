package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus collectors for extraction and enrichment.
type Metrics struct {
	TransactionsFiltered *prometheus.CounterVec
	EnrichmentsTotal     *prometheus.CounterVec

	LLMRequestsTotal *prometheus.CounterVec
	LLMDuration      *prometheus.HistogramVec

	SearchRequestsTotal *prometheus.CounterVec

	JobsTotal *prometheus.CounterVec
}

// Get returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - enrich_transactions_filtered_total{reason}
//   - enrich_results_total{outcome}
//   - enrich_llm_requests_total{provider,outcome}
//   - enrich_llm_request_duration_seconds{provider}
//   - enrich_search_requests_total{backend,outcome}
//   - enrich_jobs_total{status}
func Get() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TransactionsFiltered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enrich_transactions_filtered_total",
					Help: "Transactions excluded before enrichment",
				},
				[]string{"reason"},
			),
			EnrichmentsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enrich_results_total",
					Help: "Per-transaction enrichment outcomes",
				},
				[]string{"outcome"}, // "enriched", "failed", "skipped"
			),
			LLMRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enrich_llm_requests_total",
					Help: "Model calls by provider and outcome",
				},
				[]string{"provider", "outcome"},
			),
			LLMDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "enrich_llm_request_duration_seconds",
					Help:    "Latency of model calls",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
				},
				[]string{"provider"},
			),
			SearchRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enrich_search_requests_total",
					Help: "Web search calls by backend and outcome",
				},
				[]string{"backend", "outcome"},
			),
			JobsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enrich_jobs_total",
					Help: "Background jobs by terminal status",
				},
				[]string{"status"},
			),
		}
	})
	return globalMetrics
}

// RecordFiltered counts a transaction excluded for reason.
func (m *Metrics) RecordFiltered(reason string) {
	m.TransactionsFiltered.WithLabelValues(reason).Inc()
}

// RecordEnrichment counts one per-transaction outcome.
func (m *Metrics) RecordEnrichment(outcome string) {
	m.EnrichmentsTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest counts a model call and observes its latency.
func (m *Metrics) RecordLLMRequest(provider string, err error, d time.Duration) {
	m.LLMRequestsTotal.WithLabelValues(provider, outcome(err)).Inc()
	m.LLMDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordSearch counts a search call.
func (m *Metrics) RecordSearch(backend string, err error) {
	m.SearchRequestsTotal.WithLabelValues(backend, outcome(err)).Inc()
}

// RecordJob counts a job entering status.
func (m *Metrics) RecordJob(status string) {
	m.JobsTotal.WithLabelValues(status).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Package metrics exposes pipeline counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "citysense"

// Analysis outcomes.
const (
	AnalysisScored   = "scored"
	AnalysisSkipped  = "skipped"
	AnalysisConflict = "conflict"
	AnalysisFailed   = "failed"
)

// Aggregation outcomes.
const (
	AggregationEscalated    = "escalated"
	AggregationNoCandidates = "no_candidates"
	AggregationSkipped      = "skipped"
	AggregationConflict     = "conflict"
	AggregationFailed       = "failed"
)

// Metrics groups the collectors updated by the pipeline. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	analyses     *prometheus.CounterVec
	aggregations *prometheus.CounterVec
	retries      *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	rejected     *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Report analysis runs by outcome.",
		}, []string{"outcome"}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Daily aggregation runs by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_retries_total",
			Help:      "Retried calls to external services.",
		}, []string{"operation"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Tasks waiting for a dispatcher worker.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_rejected_total",
			Help:      "Tasks refused because the dispatch queue was full.",
		}, []string{"task"}),
	}
	reg.MustRegister(
		m.analyses, m.aggregations, m.retries, m.queueDepth, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Analysis(outcome string) {
	if m != nil {
		m.analyses.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Aggregation(outcome string) {
	if m != nil {
		m.aggregations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Retry(operation string) {
	if m != nil {
		m.retries.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) Rejected(task string) {
	if m != nil {
		m.rejected.WithLabelValues(task).Inc()
	}
}

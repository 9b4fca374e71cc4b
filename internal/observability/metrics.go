// Package observability exposes Prometheus metrics for guard verdicts.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Verdict labels recorded per analyzed request.
const (
	VerdictPass     = "pass"
	VerdictRejected = "rejected"
)

// Metrics records guard outcomes. The core analyzer never touches metrics;
// only the HTTP adapter records here.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	queryDepth       prometheus.Histogram
	queryComplexity  prometheus.Histogram
	analysisDuration prometheus.Histogram
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// NewMetrics returns the process-wide metrics instance. Registration with
// the default registry happens once; later calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		m := &Metrics{
			requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gqlguard_requests_total",
				Help: "Analyzed GraphQL requests by verdict and violation code",
			}, []string{"verdict", "code"}),
			queryDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "gqlguard_query_depth",
				Help:    "Computed depth of accepted queries",
				Buckets: prometheus.LinearBuckets(1, 1, 15),
			}),
			queryComplexity: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "gqlguard_query_complexity",
				Help:    "Computed complexity of accepted queries",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}),
			analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "gqlguard_analysis_duration_seconds",
				Help:    "Wall time spent in the security and authorization passes",
				Buckets: prometheus.ExponentialBuckets(0.00001, 10, 6),
			}),
		}
		prometheus.MustRegister(m.requestsTotal, m.queryDepth, m.queryComplexity, m.analysisDuration)
		metricsInstance = m
	})
	return metricsInstance
}

// RecordPass records an accepted request and its computed metrics.
func (m *Metrics) RecordPass(depth, complexity int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(VerdictPass, "").Inc()
	m.queryDepth.Observe(float64(depth))
	m.queryComplexity.Observe(float64(complexity))
	m.analysisDuration.Observe(duration.Seconds())
}

// RecordRejection records a rejected request under its violation code.
func (m *Metrics) RecordRejection(code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(VerdictRejected, code).Inc()
	m.analysisDuration.Observe(duration.Seconds())
}

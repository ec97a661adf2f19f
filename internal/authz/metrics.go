package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Metrics contains authorization metrics.
type Metrics struct {
	// evaluationTotal counts evaluations per check and result.
	evaluationTotal *prometheus.CounterVec

	// evaluationDuration measures evaluation duration per check.
	evaluationDuration *prometheus.HistogramVec

	// cacheHits counts decision cache hits.
	cacheHits prometheus.Counter

	// cacheMisses counts decision cache misses.
	cacheMisses prometheus.Counter

	// policyCount tracks the number of loaded attribute policies.
	policyCount prometheus.Gauge
}

// NewMetrics creates authorization metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates authorization metrics with a custom
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.evaluationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "evaluation_total",
			Help:      "Total number of authorization evaluations",
		},
		[]string{"check", "result"},
	)

	m.evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "evaluation_duration_seconds",
			Help:      "Authorization evaluation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"check"},
	)

	m.cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "cache_hits_total",
			Help:      "Total number of decision cache hits",
		},
	)

	m.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "cache_misses_total",
			Help:      "Total number of decision cache misses",
		},
	)

	m.policyCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "policy_count",
			Help:      "Number of loaded attribute policies",
		},
	)

	m.evaluationTotal = observability.RegisterOrReuse(registerer, m.evaluationTotal)
	m.evaluationDuration = observability.RegisterOrReuse(registerer, m.evaluationDuration)
	m.cacheHits = observability.RegisterOrReuse(registerer, m.cacheHits)
	m.cacheMisses = observability.RegisterOrReuse(registerer, m.cacheMisses)
	m.policyCount = observability.RegisterOrReuse(registerer, m.policyCount)

	return m
}

// RecordEvaluation records an authorization evaluation.
func (m *Metrics) RecordEvaluation(check, result string, duration time.Duration) {
	if m == nil || m.evaluationTotal == nil {
		return
	}
	m.evaluationTotal.WithLabelValues(check, result).Inc()
	m.evaluationDuration.WithLabelValues(check).Observe(duration.Seconds())
}

// RecordCacheHit records a decision cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss records a decision cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Inc()
}

// SetPolicyCount sets the loaded attribute policy count.
func (m *Metrics) SetPolicyCount(count int) {
	if m == nil || m.policyCount == nil {
		return
	}
	m.policyCount.Set(float64(count))
}

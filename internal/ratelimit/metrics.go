package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Metrics contains rate limiter metrics.
type Metrics struct {
	// checksTotal counts checks per result.
	checksTotal *prometheus.CounterVec

	// violationsTotal counts rejections per severity.
	violationsTotal *prometheus.CounterVec
}

// NewMetrics creates rate limiter metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates rate limiter metrics with a custom
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Total number of rate limit checks",
		},
		[]string{"result"},
	)

	m.violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "violations_total",
			Help:      "Total number of rate limit rejections by severity",
		},
		[]string{"severity"},
	)

	m.checksTotal = observability.RegisterOrReuse(registerer, m.checksTotal)
	m.violationsTotal = observability.RegisterOrReuse(registerer, m.violationsTotal)

	return m
}

// RecordCheck records a rate limit check.
func (m *Metrics) RecordCheck(result string) {
	if m == nil || m.checksTotal == nil {
		return
	}
	m.checksTotal.WithLabelValues(result).Inc()
}

// RecordViolation records a rejection with its severity.
func (m *Metrics) RecordViolation(severity string) {
	if m == nil || m.violationsTotal == nil {
		return
	}
	m.violationsTotal.WithLabelValues(severity).Inc()
}

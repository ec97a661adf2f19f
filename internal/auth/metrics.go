package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Metrics contains assembler metrics.
type Metrics struct {
	// assembliesTotal counts request assemblies per result.
	assembliesTotal *prometheus.CounterVec

	// assemblyDuration observes end-to-end assembly latency.
	assemblyDuration prometheus.Histogram
}

// NewMetrics creates assembler metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates assembler metrics with a custom
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.assembliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "assemblies_total",
			Help:      "Total number of request context assemblies",
		},
		[]string{"result"},
	)

	m.assemblyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "assembly_duration_seconds",
			Help:      "Request context assembly duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.assembliesTotal = observability.RegisterOrReuse(registerer, m.assembliesTotal)
	m.assemblyDuration = observability.RegisterOrReuse(registerer, m.assemblyDuration)

	return m
}

// RecordAssembly records one assembly with its result.
func (m *Metrics) RecordAssembly(result string, duration time.Duration) {
	if m == nil || m.assembliesTotal == nil {
		return
	}
	m.assembliesTotal.WithLabelValues(result).Inc()
	m.assemblyDuration.Observe(duration.Seconds())
}

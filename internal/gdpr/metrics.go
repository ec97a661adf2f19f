package gdpr

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Metrics contains data filter metrics.
type Metrics struct {
	// fieldAccessTotal counts classified field accesses per class and
	// result.
	fieldAccessTotal *prometheus.CounterVec

	// consentTotal counts consent grants and revocations.
	consentTotal *prometheus.CounterVec
}

// NewMetrics creates data filter metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates data filter metrics with a custom
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.fieldAccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gdpr",
			Name:      "field_access_total",
			Help:      "Total number of classified field accesses",
		},
		[]string{"class", "result"},
	)

	m.consentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gdpr",
			Name:      "consent_total",
			Help:      "Total number of consent grant and revoke operations",
		},
		[]string{"action"},
	)

	m.fieldAccessTotal = observability.RegisterOrReuse(registerer, m.fieldAccessTotal)
	m.consentTotal = observability.RegisterOrReuse(registerer, m.consentTotal)

	return m
}

// RecordFieldAccess records a classified field access.
func (m *Metrics) RecordFieldAccess(class, result string) {
	if m == nil || m.fieldAccessTotal == nil {
		return
	}
	m.fieldAccessTotal.WithLabelValues(class, result).Inc()
}

// RecordConsent records a consent operation.
func (m *Metrics) RecordConsent(action string) {
	if m == nil || m.consentTotal == nil {
		return
	}
	m.consentTotal.WithLabelValues(action).Inc()
}

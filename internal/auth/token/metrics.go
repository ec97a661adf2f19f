package token

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Metrics contains token validation metrics.
type Metrics struct {
	validationsTotal   *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
}

// NewMetrics creates token metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates token metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "validations_total",
				Help:      "Total number of token validations",
			},
			[]string{"result", "reason"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "validation_duration_seconds",
				Help:      "Duration of token validations",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
			},
			[]string{"result"},
		),
	}

	m.validationsTotal = observability.RegisterOrReuse(registerer, m.validationsTotal)
	m.validationDuration = observability.RegisterOrReuse(registerer, m.validationDuration)

	return m
}

// RecordValidation records a validation outcome.
func (m *Metrics) RecordValidation(result, reason string, duration time.Duration) {
	if m.validationsTotal == nil {
		return
	}
	m.validationsTotal.WithLabelValues(result, reason).Inc()
	m.validationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

package audit

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsSecondInstanceSharesSeries(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	first := NewMetricsWithRegisterer("avauth", registry)
	second := NewMetricsWithRegisterer("avauth", registry)

	first.RecordEvent(EventTypeAuthentication, ActionTokenValidate, OutcomeSuccess)
	second.RecordEvent(EventTypeAuthentication, ActionTokenValidate, OutcomeSuccess)

	// Both instances record into the one registered series.
	for _, m := range []*Metrics{first, second} {
		counter := m.eventsTotal.WithLabelValues(
			string(EventTypeAuthentication), string(ActionTokenValidate), string(OutcomeSuccess))
		assert.Equal(t, float64(2), testutil.ToFloat64(counter))
	}
}

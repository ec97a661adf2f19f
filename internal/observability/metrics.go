package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterOrReuse registers the collector with the registerer. When an
// identical collector is already registered, the existing one is
// returned so every instance records into the same series. Other
// registration errors are swallowed and the unregistered collector is
// returned; recording into it is harmless.
func RegisterOrReuse[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	return collector
}

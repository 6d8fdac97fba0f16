package visits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeTracked  = "tracked"
	outcomeDegraded = "degraded"
	outcomeExcluded = "excluded"
	outcomeDropped  = "dropped"
)

// Metrics instruments the collector.
type Metrics struct {
	Visits *prometheus.CounterVec
}

// NewMetrics registers the collector metrics with reg; nil leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Visits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "footfall_visits_total",
			Help: "Visits handled by the collector by outcome",
		}, []string{"outcome"}),
	}
}

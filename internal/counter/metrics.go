package counter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opIncrement   = "increment"
	opRead        = "read"
	opConditional = "increment_if_absent"

	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomeSuppressed = "suppressed"
)

// Metrics instruments counter traffic.
type Metrics struct {
	Requests  *prometheus.CounterVec
	Cooldowns prometheus.Counter
}

// NewMetrics registers the counter metrics with reg. A nil registerer yields
// unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "footfall_counter_requests_total",
			Help: "Remote counter calls by operation and outcome",
		}, []string{"op", "outcome"}), // outcome: ok, error, suppressed
		Cooldowns: factory.NewCounter(prometheus.CounterOpts{
			Name: "footfall_counter_cooldowns_total",
			Help: "Times the remote counter was put into cool-down after a transport failure",
		}),
	}
}

func (m *Metrics) observe(op, outcome string) {
	m.Requests.WithLabelValues(op, outcome).Inc()
}

package authorize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts authorization decisions. One instance is shared by every
// protected resource.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the decision counters with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengate_authorization_decisions_total",
				Help: "Tracks authorization decisions by resource, result and failure kind.",
			}, []string{"resource", "result", "kind", "class"},
		),
	}
}

func (m *Metrics) accepted(resource string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(resource, "accept", "", "").Inc()
}

func (m *Metrics) rejected(resource string, kind Kind) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(resource, "reject", string(kind), kind.Class()).Inc()
}

func (m *Metrics) bypassed(resource string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(resource, "preflight", "", "").Inc()
}

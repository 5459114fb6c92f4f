package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts corrections forwarded to the learning system.
type Metrics struct {
	Forwards *prometheus.CounterVec
	Skipped  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Forwards: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_feedback_forwards_total",
			Help: "Forward attempts by outcome (forwarded, failed) and returned decision",
		}, []string{"outcome", "decision"}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "dhruv_feedback_skipped_total",
			Help: "Corrections that changed nothing and were not recorded",
		}),
	}
}

func (m *Metrics) IncForward(outcome, decision string) {
	if m == nil {
		return
	}
	m.Forwards.WithLabelValues(outcome, decision).Inc()
}

func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.Skipped.Inc()
}

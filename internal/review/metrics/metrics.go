package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the review queue.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	Approvals         *prometheus.CounterVec
	ApprovalRejected  *prometheus.CounterVec
	CorrectionEntries prometheus.Counter
	GeocodeAttached   *prometheus.CounterVec
	EnrichDropped     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "dhruv_review_queue_depth",
			Help: "Items waiting for human review",
		}),
		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_review_approvals_total",
			Help: "Successful approvals, by whether the item was excluded from analytics",
		}, []string{"excluded"}),
		ApprovalRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_review_approval_rejections_total",
			Help: "Approval attempts refused, by domain error code",
		}, []string{"code"}),
		CorrectionEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "dhruv_review_correction_entries_total",
			Help: "Field-level correction entries appended to item logs",
		}),
		GeocodeAttached: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_review_geocode_attached_total",
			Help: "Background geocode enrichment outcomes",
		}, []string{"outcome"}),
		EnrichDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "dhruv_review_enrich_dropped_total",
			Help: "Geocode jobs dropped because the enrichment queue was full",
		}),
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) IncApproval(excluded bool) {
	if m == nil {
		return
	}
	m.Approvals.WithLabelValues(strconv.FormatBool(excluded)).Inc()
}

func (m *Metrics) IncApprovalRejected(code string) {
	if m == nil {
		return
	}
	m.ApprovalRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) AddCorrectionEntries(n int) {
	if m == nil {
		return
	}
	m.CorrectionEntries.Add(float64(n))
}

func (m *Metrics) IncGeocode(outcome string) {
	if m == nil {
		return
	}
	m.GeocodeAttached.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncEnrichDropped() {
	if m == nil {
		return
	}
	m.EnrichDropped.Inc()
}

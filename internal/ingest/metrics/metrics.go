package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts ingested records.
type Metrics struct {
	Records *prometheus.CounterVec
	Batches *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_ingest_records_total",
			Help: "Upstream records by outcome (accepted, skipped, malformed)",
		}, []string{"outcome"}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_ingest_batches_total",
			Help: "Ingestion batches by source and result",
		}, []string{"source", "result"}),
	}
}

func (m *Metrics) AddRecords(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Records.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncBatch(source, result string) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(source, result).Inc()
}

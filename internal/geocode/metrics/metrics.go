package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for location resolution.
type Metrics struct {
	Lookups          *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderFailures *prometheus.CounterVec
	BreakerOpen      *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_geocode_lookups_total",
			Help: "Resolve calls by answering source (cache, primary, secondary, fallback, none)",
		}, []string{"source"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dhruv_geocode_provider_duration_seconds",
			Help:    "Latency of provider lookups",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		ProviderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dhruv_geocode_provider_failures_total",
			Help: "Provider lookups that failed, by error category",
		}, []string{"provider", "category"}),
		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dhruv_geocode_breaker_open",
			Help: "1 while a provider's circuit breaker is open",
		}, []string{"provider"}),
	}
}

func (m *Metrics) IncLookup(source string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(source).Inc()
}

// ObserveProvider records one provider call. Call with time.Now() at the
// start of the call.
func (m *Metrics) ObserveProvider(provider string, start time.Time) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncProviderFailure(provider, category string) {
	if m == nil {
		return
	}
	m.ProviderFailures.WithLabelValues(provider, category).Inc()
}

func (m *Metrics) SetBreakerOpen(provider string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(provider).Set(v)
}

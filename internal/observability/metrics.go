// Package observability holds the Prometheus instruments of the refresh pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "instantweather"

// Refresh paths and outcomes used as label values.
const (
	PathCache  = "cache"
	PathRemote = "remote"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the counters and histograms for weather refreshes.
type Metrics struct {
	Refreshes           *prometheus.CounterVec   // labels: entity, path={cache,remote}, outcome={success,failure}
	RemoteFetchDuration *prometheus.HistogramVec // labels: entity
	Coalesced           *prometheus.CounterVec   // labels: entity
	ConfigFallbacks     prometheus.Counter
}

// NewMetrics creates and registers all refresh metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Refreshes,
		m.RemoteFetchDuration,
		m.Coalesced,
		m.ConfigFallbacks,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh calls by entity, path taken and outcome.",
		}, []string{"entity", "path", "outcome"}),
		RemoteFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_fetch_duration_seconds",
			Help:      "Duration of the remote fetch, convert and persist cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"entity"}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_coalesced_total",
			Help:      "Remote refreshes that joined an in-flight fetch instead of starting one.",
		}, []string{"entity"}),
		ConfigFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_duration_fallbacks_total",
			Help:      "Refreshes that used the default cache duration because the setting was invalid.",
		}),
	}
}

// Package metrics exposes Prometheus collectors for the fetch pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns every collector used by the pipeline. A nil *Metrics is valid
// and records nothing, so components can treat metrics as optional.
type Metrics struct {
	downloadsTotal    *prometheus.CounterVec
	downloadBytes     *prometheus.CounterVec
	downloadDuration  *prometheus.HistogramVec
	inflightDownloads prometheus.Gauge
	discoveryTotal    *prometheus.CounterVec
	rateLimitDelays   *prometheus.HistogramVec
}

// New registers the collectors against the provided registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_downloads_total",
			Help: "Download outcomes partitioned by term and outcome kind.",
		}, []string{"term", "outcome"}),
		downloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_download_bytes_total",
			Help: "Bytes persisted per term.",
		}, []string{"term"}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_download_duration_seconds",
			Help:    "Download latency partitioned by outcome kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"outcome"}),
		inflightDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_inflight_downloads",
			Help: "Number of downloads currently in flight.",
		}),
		discoveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_discovery_total",
			Help: "Discovery attempts partitioned by result.",
		}, []string{"result"}),
		rateLimitDelays: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
	}
	for _, collector := range []prometheus.Collector{
		m.downloadsTotal,
		m.downloadBytes,
		m.downloadDuration,
		m.inflightDownloads,
		m.discoveryTotal,
		m.rateLimitDelays,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// ObserveDownload records one outcome.
func (m *Metrics) ObserveDownload(term, outcome string, bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(term, outcome).Inc()
	if bytes > 0 {
		m.downloadBytes.WithLabelValues(term).Add(float64(bytes))
	}
	if duration > 0 {
		m.downloadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncInflight increments the in-flight gauge.
func (m *Metrics) IncInflight() {
	if m == nil {
		return
	}
	m.inflightDownloads.Inc()
}

// DecInflight decrements the in-flight gauge.
func (m *Metrics) DecInflight() {
	if m == nil {
		return
	}
	m.inflightDownloads.Dec()
}

// ObserveDiscovery counts a discovery attempt ("ok", "retry" or "failed").
func (m *Metrics) ObserveDiscovery(result string) {
	if m == nil {
		return
	}
	m.discoveryTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (m *Metrics) ObserveRateLimitDelay(host string, waited time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelays.WithLabelValues(host).Observe(waited.Seconds())
}

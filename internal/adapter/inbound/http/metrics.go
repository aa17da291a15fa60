// Package http provides the HTTP transport adapter for the admission gateway.
package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for admitgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	CheckDuration   *prometheus.HistogramVec
	StoreDegraded   prometheus.Gauge
	RateLimitKeys   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "admitgate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // method=GET, status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "admitgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "admitgate",
				Name:      "decisions_total",
				Help:      "Total admission decisions",
			},
			[]string{"tier", "result"}, // result=allowed/denied/fail_open/bypassed
		),
		CheckDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "admitgate",
				Name:      "check_duration_seconds",
				Help:      "Time spent deciding admission, including the counter store round trip",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"tier"},
		),
		StoreDegraded: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "admitgate",
				Name:      "store_degraded",
				Help:      "1 when the counter store has fallen back to the ephemeral backend",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "admitgate",
				Name:      "rate_limit_keys",
				Help:      "Number of rate limit keys seen by the last stats call",
			},
		),
	}
}

// ObserveDecision records one admission decision.
func (m *Metrics) ObserveDecision(tier, result string, elapsed time.Duration) {
	m.DecisionsTotal.WithLabelValues(tier, result).Inc()
	if result != "bypassed" {
		m.CheckDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
	}
}

// SetStoreDegraded flips the degraded gauge.
func (m *Metrics) SetStoreDegraded(degraded bool) {
	if degraded {
		m.StoreDegraded.Set(1)
		return
	}
	m.StoreDegraded.Set(0)
}

// SetKeyCount updates the rate limit key gauge.
func (m *Metrics) SetKeyCount(n int) {
	m.RateLimitKeys.Set(float64(n))
}

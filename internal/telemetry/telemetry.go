// Package telemetry holds the Prometheus collectors updated inline by the
// pipeline (rate limiter waits, extraction failures) and the handler that
// exposes the process registry. Job and attempt lifecycle metrics are owned
// by the events Prometheus sink, which derives them from the event stream.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagefetch_rate_limit_wait_seconds",
			Help:    "Histogram of rate limiter wait durations, labeled by domain.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	extractFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagefetch_extract_failures_total",
			Help: "Total extraction failures, labeled by reason.",
		},
		[]string{"reason"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRateLimitWait records the delay a caller spent in the per-domain gate.
func ObserveRateLimitWait(domain string, duration time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveExtractFailure records a structured-extraction failure.
func ObserveExtractFailure(reason string) {
	extractFailuresTotal.WithLabelValues(reason).Inc()
}

// Package observability holds the Prometheus metrics exported on /metrics.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers a fast local forward pass (~10ms) up to a slow
// remote runner near its client timeout (120s).
var LatencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexttoken_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexttoken_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	// ProviderRequestsTotal counts distribution computations by provider and
	// outcome ("ok", "degraded", or an error class).
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexttoken_provider_requests_total",
			Help: "Provider computations",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency records provider computation time in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexttoken_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LatencyBuckets,
		},
		[]string{"provider"},
	)

	// ModelReady is 1 once the local model handle has finished loading.
	ModelReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexttoken_model_ready",
			Help: "Whether the local model is loaded",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexttoken_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ProviderRequestsTotal,
		ProviderLatency,
		ModelReady,
		RateLimitRejectedTotal,
	)
}

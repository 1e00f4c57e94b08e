package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus mirrors of the gateway metrics, served at
// /metrics/prometheus for scrape-based monitoring.
var (
	// PromRequestsTotal counts requests by endpoint and status code.
	PromRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"endpoint", "status_code"},
	)

	// PromRequestDuration measures request latency distribution.
	PromRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_request_duration_seconds",
			Help:    "Gateway request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	// PromInFlightRequests tracks concurrent requests.
	PromInFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_requests_in_flight",
			Help: "Number of requests currently in flight",
		},
	)

	// PromProviderRequests counts upstream provider calls by outcome.
	PromProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_provider_requests_total",
			Help: "Total upstream provider calls",
		},
		[]string{"provider", "outcome"},
	)
)

// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the iotdash API.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotdash_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iotdash_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// AuthzDecisionsTotal counts authorization decisions by how the role
	// was resolved and whether access was granted.
	AuthzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotdash_authz_decisions_total",
			Help: "Authorization decisions",
		},
		[]string{"outcome", "decision"},
	)

	// DirectoryErrorsTotal counts failed directory lookups by kind
	// (not_found, timeout, error).
	DirectoryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotdash_directory_errors_total",
			Help: "Directory lookup failures",
		},
		[]string{"kind"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotdash_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"route"},
	)

	// RateLimitErrorsTotal counts rate checks that failed closed.
	RateLimitErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotdash_ratelimit_errors_total",
			Help: "Rate limit store failures",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthzDecisionsTotal,
		DirectoryErrorsTotal,
		RateLimitRejectedTotal,
		RateLimitErrorsTotal,
	)
}

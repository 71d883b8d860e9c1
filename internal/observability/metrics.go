package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_passenger"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"},
		[]string{"path"},
	)
	DiagnosticFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "diagnostic_failures_total", Help: "Failed dependency checks by check"},
		[]string{"check"},
	)

	BackendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "backend_calls_total", Help: "Backend access layer calls by outcome"},
		[]string{"op", "result"},
	)
	BackendRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "backend_retries_total", Help: "Backend call attempts beyond the first"},
		[]string{"op"},
	)

	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_total", Help: "Row change events received"},
		[]string{"table"},
	)
	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_subscriptions", Help: "Open realtime subscriptions"})

	TrackedRides    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "tracked_rides", Help: "Ride tracking views currently open"})
	ActiveSessions  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_active", Help: "Signed-in browser sessions"})
	ProfilesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "profiles_self_healed_total", Help: "Default profiles created for sessions without one"})

	CheckoutSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "checkout_sessions_total", Help: "Payment checkout sessions by outcome"},
		[]string{"result"},
	)
)

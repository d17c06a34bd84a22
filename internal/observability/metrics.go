package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Rides accepted into the system"})
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "transitions_applied_total", Help: "Accepted state transitions"},
		[]string{"event"},
	)
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "version_conflicts_total", Help: "Optimistic concurrency losses (expected under racing)"})
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "event_publish_failures_total", Help: "Domain events dropped after publish retries"})

	OffersBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "offers_broadcast_total", Help: "Offer rounds broadcast to candidates"})
	OfferOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offer_outcomes_total", Help: "Offer round resolutions"},
		[]string{"outcome"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Request-to-assignment latency", Buckets: prometheus.DefBuckets})
	RidesUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "rides_unmatched_total", Help: "Rides that exhausted every offer round"})

	HeartbeatsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "heartbeats_consumed_total", Help: "Driver heartbeats applied to the index"})
	HeartbeatsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "heartbeats_invalid_total", Help: "Heartbeat messages that failed to decode"})
	DriversEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "drivers_evicted_total", Help: "Drivers evicted by the staleness sweep"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CheckinOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorlist_checkin_outcomes_total",
			Help: "Check-in attempts by outcome",
		},
		[]string{"outcome", "replayed"},
	)

	CheckinDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doorlist_checkin_duration_seconds",
			Help:    "Time spent processing one check-in action",
			Buckets: prometheus.DefBuckets,
		},
	)

	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doorlist_live_sessions",
			Help: "Currently subscribed live sessions",
		},
	)

	LiveSessionsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorlist_live_sessions_dropped_total",
			Help: "Live sessions dropped by the broadcaster",
		},
		[]string{"reason"},
	)

	BroadcastMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorlist_broadcast_messages_total",
			Help: "Messages enqueued to live sessions by type",
		},
		[]string{"type"},
	)

	IdempotencyPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doorlist_idempotency_pruned_total",
			Help: "Expired idempotency log entries removed",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CheckinOutcomesTotal,
			CheckinDuration,
			LiveSessions,
			LiveSessionsDroppedTotal,
			BroadcastMessagesTotal,
			IdempotencyPrunedTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

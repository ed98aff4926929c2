// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package metrics defines the Prometheus instrumentation of mediasync.
// All collectors register with the default registry and are served by the
// local status API at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection Metrics
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediasync_connection_state",
			Help: "Sync socket state (0=disconnected, 1=connecting, 2=connected, 3=authenticated, 4=error)",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediasync_reconnects_total",
			Help: "Total number of scheduled reconnect attempts",
		},
	)

	ReconnectDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediasync_reconnect_delay_seconds",
			Help: "Delay before the next scheduled reconnect",
		},
	)

	PongTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediasync_pong_timeouts_total",
			Help: "Sockets force-closed because no pong arrived in time",
		},
	)

	// Operation Metrics
	OperationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_operations_sent_total",
			Help: "Operations written to the sync socket",
		},
		[]string{"collection"},
	)

	OperationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_operations_applied_total",
			Help: "Remote operations applied to the local library",
		},
		[]string{"collection", "result"}, // result: "applied", "noop", "error"
	)

	OperationsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediasync_operations_suppressed_total",
			Help: "Local broadcasts suppressed while applying remote operations",
		},
	)

	EchoDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediasync_echo_dropped_total",
			Help: "Inbound operations discarded because this device produced them",
		},
	)

	PendingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediasync_pending_queue_depth",
			Help: "Operations in the persisted pending queue",
		},
	)

	// Reconciliation Metrics
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediasync_reconcile_duration_seconds",
			Help:    "Duration of snapshot reconciliation runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcilePushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediasync_reconcile_pushed_total",
			Help: "Local-only entities pushed to the server during reconciliation",
		},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_reconcile_runs_total",
			Help: "Reconciliation runs by outcome",
		},
		[]string{"result"}, // "ok", "snapshot_failed", "push_failed"
	)

	// REST Client Metrics
	RESTRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediasync_rest_request_duration_seconds",
			Help:    "Duration of coordination server REST calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediasync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Status API Metrics
	StatusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediasync_status_subscribers",
			Help: "UI clients connected to /ws/status",
		},
	)
)

// SetConnectionState records the numeric value of a connection state.
func SetConnectionState(state int) {
	ConnectionState.Set(float64(state))
}

// RecordReconnect counts a scheduled reconnect and its delay.
func RecordReconnect(delay time.Duration) {
	Reconnects.Inc()
	ReconnectDelay.Set(delay.Seconds())
}

// RecordApplied counts one remote operation by outcome.
func RecordApplied(collection string, changed bool, err error) {
	result := "applied"
	switch {
	case err != nil:
		result = "error"
	case !changed:
		result = "noop"
	}
	OperationsApplied.WithLabelValues(collection, result).Inc()
}

// RecordReconcile records a reconciliation run.
func RecordReconcile(duration time.Duration, pushed int, result string) {
	ReconcileDuration.Observe(duration.Seconds())
	ReconcilePushed.Add(float64(pushed))
	ReconcileRuns.WithLabelValues(result).Inc()
}

// RecordRESTRequest records a coordination server call.
func RecordRESTRequest(endpoint, status string, duration time.Duration) {
	RESTRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

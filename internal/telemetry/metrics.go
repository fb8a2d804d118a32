/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "torque"

// HTTP metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP requests.",
	})
)

// Scheduling metrics
var (
	// ScheduleOperationsTotal counts coordinator operations by outcome
	// (ok, validation, unavailable, conflict, no_match, not_found, error).
	ScheduleOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "operations_total",
		Help:      "Schedule, reschedule and unschedule operations by outcome.",
	}, []string{"operation", "outcome"})

	ScheduleOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "operation_duration_seconds",
		Help:      "Coordinator operation latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"operation"})

	AvailabilityRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "availability_rejections_total",
		Help:      "Candidate windows rejected, by violated rule.",
	}, []string{"rule"})

	ChainSegments = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "chain_segments",
		Help:      "Number of booking segments per committed chain.",
		Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
	})

	ConflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "conflict_retries_total",
		Help:      "Revalidations triggered by the storage overlap guard.",
	})

	LockWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "locking",
		Name:      "wait_seconds",
		Help:      "Time spent acquiring technician-day locks.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
	}, []string{"backend", "outcome"})

	BookingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "booking_transitions_total",
		Help:      "Booking status transitions applied by the lifecycle sweeper.",
	}, []string{"to"})
)

// Database metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database operation latency by operation and table.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Database errors by operation.",
	}, []string{"operation", "type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connections_active",
		Help:      "Open database connections.",
	})
)

// Cluster metrics
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "leader",
		Name:      "status",
		Help:      "1 when this instance holds leadership.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "leader",
		Name:      "changes_total",
		Help:      "Leadership acquisitions and losses.",
	}, []string{"instance_id", "change"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events forwarded to external brokers.",
	}, []string{"broker", "type", "status"})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics declares the Prometheus collectors for this runtime,
// built with the same promauto declarative style used throughout this
// codebase: scheduler/reactor/diag/bridge counters and gauges registered
// at package init instead of lazily.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics, named after the Scheduler.Stats() counters;
	// internal/scheduler does not update them itself.
	SchedulerSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coprocrt_scheduler_switches_total",
			Help: "Total number of fiber switches performed",
		},
	)

	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coprocrt_scheduler_polls_total",
			Help: "Total number of reactor polls performed",
		},
	)

	SchedulerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coprocrt_scheduler_ops_total",
			Help: "Total number of suspension-primitive invocations",
		},
		[]string{"op"},
	)

	SchedulerDeadlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coprocrt_scheduler_deadlocks_total",
			Help: "Total number of deadlock conditions detected",
		},
	)

	// Coprocess lifecycle metrics, one gauge per state.
	CoprocessesByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coprocrt_coprocesses",
			Help: "Current number of coprocesses in each lifecycle state",
		},
		[]string{"state"},
	)

	CoprocessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coprocrt_coprocess_duration_seconds",
			Help:    "Coprocess lifetime from spawn to termination, in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
		},
		[]string{"outcome"},
	)

	// Reactor watcher-count metrics by kind. internal/reactor does not
	// update this gauge; live counts come from Reactor.Stats().
	ReactorWatchers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coprocrt_reactor_watchers",
			Help: "Current number of live reactor watchers by kind",
		},
		[]string{"kind"},
	)

	// internal/diag HTTP metrics.
	DiagRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coprocrt_diag_http_request_duration_seconds",
			Help:    "Diag HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	DiagRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coprocrt_diag_http_requests_total",
			Help: "Total number of diag HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	DiagWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coprocrt_diag_websocket_connections",
			Help: "Current number of live diag trace-stream WebSocket connections",
		},
	)

	// internal/bridge Redis-relay metrics.
	BridgeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coprocrt_bridge_operation_duration_seconds",
			Help:    "Bridge Redis operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	BridgeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coprocrt_bridge_errors_total",
			Help: "Total number of bridge Redis errors",
		},
		[]string{"operation"},
	)
)

// RecordSwitch increments the scheduler's switch counter.
func RecordSwitch() { SchedulerSwitches.Inc() }

// RecordPoll increments the scheduler's poll counter.
func RecordPoll() { SchedulerPolls.Inc() }

// RecordOp increments the named suspension-primitive counter.
func RecordOp(op string) { SchedulerOps.WithLabelValues(op).Inc() }

// RecordDeadlock increments the deadlock counter.
func RecordDeadlock() { SchedulerDeadlocks.Inc() }

// SetCoprocessesByState sets the gauge for one lifecycle state.
func SetCoprocessesByState(state string, count float64) {
	CoprocessesByState.WithLabelValues(state).Set(count)
}

// RecordCoprocessDuration records a terminated coprocess's lifetime.
func RecordCoprocessDuration(outcome string, seconds float64) {
	CoprocessDuration.WithLabelValues(outcome).Observe(seconds)
}

// SetReactorWatchers sets the live-watcher gauge for one kind.
func SetReactorWatchers(kind string, count float64) {
	ReactorWatchers.WithLabelValues(kind).Set(count)
}

// RecordDiagRequest records a diag HTTP request.
func RecordDiagRequest(method, path, status string, duration float64) {
	DiagRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	DiagRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetDiagWebSocketConnections sets the diag WebSocket connection gauge.
func SetDiagWebSocketConnections(count float64) { DiagWebSocketConnections.Set(count) }

// RecordBridgeOperation records a bridge Redis operation's duration.
func RecordBridgeOperation(operation string, duration float64) {
	BridgeOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordBridgeError increments the bridge error counter for operation.
func RecordBridgeError(operation string) { BridgeErrors.WithLabelValues(operation).Inc() }

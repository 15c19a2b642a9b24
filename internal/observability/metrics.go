// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the kernel, its orchestration layer, and the IPC boundary.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PROCESS METRICS
// =============================================================================

var (
	processesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentkernel_processes_total",
			Help: "Total number of processes created, by terminal state",
		},
		[]string{"state"}, // state: completed, failed, terminated, zombie
	)

	processDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentkernel_process_duration_seconds",
			Help:    "Process lifetime from creation to terminal state, in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"state"},
	)
)

// =============================================================================
// AGENT HOP METRICS
// =============================================================================

var (
	agentHopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentkernel_agent_hops_total",
			Help: "Total number of agent hops executed by the orchestrator",
		},
		[]string{"agent", "status"}, // status: success, error
	)

	agentHopDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentkernel_agent_hop_duration_seconds",
			Help:    "Agent hop duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"agent"},
	)
)

// =============================================================================
// INTERRUPT METRICS
// =============================================================================

var (
	interruptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentkernel_interrupts_total",
			Help: "Total number of flow interrupts, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: resolved, cancelled, expired
	)

	interruptResolutionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentkernel_interrupt_resolution_seconds",
			Help:    "Time from interrupt creation to resolution, in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)
)

// =============================================================================
// IPC METRICS
// =============================================================================

var (
	ipcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentkernel_ipc_requests_total",
			Help: "Total IPC requests dispatched, by method and outcome",
		},
		[]string{"method", "status"}, // status: ok, error
	)

	ipcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentkernel_ipc_request_duration_seconds",
			Help:    "IPC request dispatch duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)

	ipcConnectionsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentkernel_ipc_connections_rejected_total",
			Help: "Total IPC connections rejected due to admission control",
		},
	)
)

// =============================================================================
// MESSAGE BUS METRICS
// =============================================================================

var (
	busMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentkernel_bus_messages_total",
			Help: "Total messages handled by the in-process bus, by kind and status",
		},
		[]string{"kind", "status"}, // kind: publish, send, query
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordProcessTerminal records a process reaching a terminal state.
func RecordProcessTerminal(state string, durationMS int64) {
	processesTotal.WithLabelValues(state).Inc()
	processDurationSeconds.WithLabelValues(state).Observe(float64(durationMS) / 1000.0)
}

// RecordAgentHop records a single orchestrator agent hop.
func RecordAgentHop(agent string, status string, durationMS int64) {
	agentHopsTotal.WithLabelValues(agent, status).Inc()
	agentHopDurationSeconds.WithLabelValues(agent).Observe(float64(durationMS) / 1000.0)
}

// RecordInterrupt records a flow interrupt reaching outcome, measuring the
// time from creation to resolution.
func RecordInterrupt(kind string, outcome string, resolutionSeconds float64) {
	interruptsTotal.WithLabelValues(kind, outcome).Inc()
	interruptResolutionSeconds.WithLabelValues(kind).Observe(resolutionSeconds)
}

// RecordIPCRequest records a dispatched IPC request.
func RecordIPCRequest(method string, status string, durationMS int64) {
	ipcRequestsTotal.WithLabelValues(method, status).Inc()
	ipcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

// RecordIPCConnectionRejected records an admission-control rejection.
func RecordIPCConnectionRejected() {
	ipcConnectionsRejectedTotal.Inc()
}

// RecordBusMessage records a message handled by the bus.
func RecordBusMessage(kind string, status string) {
	busMessagesTotal.WithLabelValues(kind, status).Inc()
}

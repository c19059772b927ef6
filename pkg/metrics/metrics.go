// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsTotal counts handled chat events by kind and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Chat events handled, by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// BackendTurnDuration tracks generative backend turn latency.
	BackendTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_backend_turn_duration_seconds",
			Help:    "Generative backend turn duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"backend", "status"},
	)

	// ToolCallsTotal counts tool executions.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tool_calls_total",
			Help: "Tool executions requested by the backend",
		},
		[]string{"tool", "status"},
	)

	// ParticipantLookupsTotal counts participant cache refreshes.
	ParticipantLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_participant_lookups_total",
			Help: "Participant count lookups, by result",
		},
		[]string{"result"},
	)

	// MessagesStoredTotal counts history appends.
	MessagesStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_stored_total",
			Help: "Messages appended to conversation history",
		},
		[]string{"role"},
	)

	// QueueDepth tracks events waiting in per-conversation queues.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Events waiting in per-conversation queues",
		},
	)

	// NATSStreamMessages tracks messages in the history stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEvent records the outcome of one handled event.
func RecordEvent(kind, outcome string) {
	EventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordBackendTurn records metrics for one backend turn.
func RecordBackendTurn(backend, status string, duration float64) {
	BackendTurnDuration.WithLabelValues(backend, status).Observe(duration)
}

// RecordToolCall records one tool execution.
func RecordToolCall(tool, status string) {
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordParticipantLookup records a participant cache refresh result.
func RecordParticipantLookup(result string) {
	ParticipantLookupsTotal.WithLabelValues(result).Inc()
}

// RecordMessageStored records a history append.
func RecordMessageStored(role string) {
	MessagesStoredTotal.WithLabelValues(role).Inc()
}

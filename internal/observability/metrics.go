// Package observability exposes Prometheus metrics for the chat backend:
// turn outcomes, model round trips, tool executions, and transport retries.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed turns by terminal status (done, failed).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "turns_total",
		Help:      "Completed orchestration turns by terminal status.",
	}, []string{"status"})

	// TurnDuration observes wall-clock turn duration in seconds.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aide",
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of orchestration turns.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ModelRequestsTotal counts completion requests issued to the provider,
	// including validation-retry re-queries and depth recursions.
	ModelRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "model_requests_total",
		Help:      "Completion requests sent to the model provider.",
	})

	// ToolExecutionsTotal counts tool executions by tool name and outcome.
	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "tool_executions_total",
		Help:      "Tool executions by tool and outcome (completed, error, skipped).",
	}, []string{"tool", "outcome"})

	// ToolDuration observes tool execution duration in seconds by tool.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aide",
		Name:      "tool_duration_seconds",
		Help:      "Duration of tool executions.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"tool"})

	// TransportRetries counts retried completion attempts at the transport.
	TransportRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "transport_retries_total",
		Help:      "Completion request attempts beyond the first.",
	})

	// EmptyStreamRetries counts empty-stream recovery attempts.
	EmptyStreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "empty_stream_retries_total",
		Help:      "Re-queries issued after the provider returned an empty stream.",
	})
)

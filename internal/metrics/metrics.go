// Package metrics exposes the gateway's Prometheus instrumentation. All
// collectors register on the default registry; both binaries serve them on
// /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolCalls counts dispatches per tool and outcome
	// (ok, error, invalid, not_found).
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_tool_calls_total",
		Help: "Tool dispatches by tool name and outcome.",
	}, []string{"tool", "outcome"})

	// ToolCallDuration observes handler latency per tool.
	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_tool_call_duration_seconds",
		Help:    "Tool handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	// SafeguardDecisions counts gate outcomes per level.
	SafeguardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safeguard_decisions_total",
		Help: "SAFEGUARD gate decisions by level and outcome.",
	}, []string{"level", "allowed"})

	// PendingApprovals tracks the live approval queue depth.
	PendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safeguard_pending_approvals",
		Help: "Approval records currently pending.",
	})

	// WorkflowRuns counts runner executions per workflow and outcome
	// (ok, error, timeout, invalid).
	WorkflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_runs_total",
		Help: "Workflow runs by name and outcome.",
	}, []string{"workflow", "outcome"})
)

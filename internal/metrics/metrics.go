/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines the Prometheus metrics emitted by the kernel,
// gateway, agent runtimes, and orchestration engine.
//
// Metrics are registered with prometheus.DefaultRegisterer so any process
// that imports this package gets them on its /metrics endpoint for free.
//
// Metric naming follows Prometheus conventions:
//   - toka_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AgentRunsTotal counts agent runtime completions by agent spec name and
	// terminal state (Completed, Failed, Terminated).
	AgentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toka_agent_runs_total",
			Help: "Total number of agent runtime completions by agent and terminal state.",
		},
		[]string{"agent", "state"},
	)

	// AgentRunDurationSeconds is a histogram of agent runtime wall-clock
	// duration, from spawn to terminal state, by agent spec name.
	AgentRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toka_agent_run_duration_seconds",
			Help:    "Duration of agent runtime runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"agent"},
	)

	// TokensUsedTotal counts prompt and completion tokens consumed through
	// the gateway, by agent and model hint.
	TokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toka_tokens_used_total",
			Help: "Total tokens consumed by gateway completions.",
		},
		[]string{"agent", "model", "kind"},
	)

	// ToolInvocationsTotal counts tool invocations by tool name and outcome
	// (ok, denied, error).
	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toka_tool_invocations_total",
			Help: "Total tool invocations by tool name and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	// RetriesTotal counts transient-error retries taken by an agent runtime
	// before either succeeding or exhausting its retry budget.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toka_agent_retries_total",
			Help: "Total transient-error retries taken by agent runtimes.",
		},
		[]string{"agent"},
	)

	// SessionsTotal counts orchestration sessions by terminal phase
	// (completed, failed).
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toka_orchestration_sessions_total",
			Help: "Total orchestration sessions by terminal phase.",
		},
		[]string{"phase"},
	)

	// ActiveAgentRuns is the number of agent runtimes currently executing
	// across every in-flight orchestration session.
	ActiveAgentRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toka_active_agent_runs",
			Help: "Number of agent runtimes currently executing.",
		},
	)

	// ActiveSessions is the number of orchestration sessions currently
	// in flight on a runtime Handle.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toka_active_sessions",
			Help: "Number of orchestration sessions currently in flight.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AgentRunsTotal,
		AgentRunDurationSeconds,
		TokensUsedTotal,
		ToolInvocationsTotal,
		RetriesTotal,
		SessionsTotal,
		ActiveAgentRuns,
		ActiveSessions,
	)
}

// RecordAgentRun records the outcome of one agent runtime's terminal
// transition.
func RecordAgentRun(agent, state string, duration time.Duration) {
	AgentRunsTotal.WithLabelValues(agent, state).Inc()
	AgentRunDurationSeconds.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordTokensUsed records prompt/completion token counts for one gateway
// completion attributed to agent running model.
func RecordTokensUsed(agent, model string, promptTokens, completionTokens int64) {
	TokensUsedTotal.WithLabelValues(agent, model, "prompt").Add(float64(promptTokens))
	TokensUsedTotal.WithLabelValues(agent, model, "completion").Add(float64(completionTokens))
}

// RecordToolInvocation records the outcome of a single tool call.
func RecordToolInvocation(tool, outcome string) {
	ToolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordRetry records one transient-error retry taken by an agent runtime.
func RecordRetry(agent string) {
	RetriesTotal.WithLabelValues(agent).Inc()
}

// RecordSessionComplete records the terminal phase of one orchestration
// session.
func RecordSessionComplete(phase string) {
	SessionsTotal.WithLabelValues(phase).Inc()
}

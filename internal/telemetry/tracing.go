/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the kernel,
// gateway, and agent runtimes.
//
// Spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the LLM provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens — tokens consumed
//   - gen_ai.usage.output_tokens — tokens generated
//
// Custom span attributes use the `toka.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "toka-systems/toka"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (noop provider is
// used). Returns a shutdown function that must be called on application
// exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("tokad"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartSessionSpan creates the parent span for one orchestration session.
func StartSessionSpan(ctx context.Context, sessionID string, agentCount int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "orchestration.session",
		trace.WithAttributes(
			attribute.String("toka.session_id", sessionID),
			attribute.Int("toka.agent_count", agentCount),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartAgentRunSpan creates the parent span for a single agent runtime.
func StartAgentRunSpan(ctx context.Context, agent string, entity int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agentruntime.run",
		trace.WithAttributes(
			attribute.String("toka.agent", agent),
			attribute.Int64("toka.entity_id", entity),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndAgentRunSpan enriches the agent run span with its terminal state.
func EndAgentRunSpan(span trace.Span, state string) {
	span.SetAttributes(attribute.String("toka.terminal_state", state))
	span.End()
}

// StartLLMCallSpan creates a child span for a gateway completion call,
// following GenAI conventions.
func StartLLMCallSpan(ctx context.Context, model, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLLMCallSpan enriches the LLM span with usage data.
func EndLLMCallSpan(span trace.Span, inputTokens, outputTokens int64) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
	)
	span.End()
}

// StartToolCallSpan creates a child span for a tool execution.
func StartToolCallSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agentruntime.tool_call",
		trace.WithAttributes(
			attribute.String("toka.tool", tool),
		),
	)
}

// EndToolCallSpan enriches the tool span with the outcome.
func EndToolCallSpan(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("toka.outcome", outcome))
	span.End()
}

// StartKernelOpSpan creates a span for a single kernel operation dispatch.
func StartKernelOpSpan(ctx context.Context, op string, origin int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "kernel.dispatch",
		trace.WithAttributes(
			attribute.String("toka.op", op),
			attribute.Int64("toka.origin", origin),
		),
	)
}

// EndKernelOpSpan enriches the kernel span with the outcome.
func EndKernelOpSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("toka.error", err.Error()))
	}
	span.End()
}

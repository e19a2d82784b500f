/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errUnknownAgent = errors.New("unknown agent")

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartAgentRunSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartAgentRunSpan(ctx, "upstream-agent", 7)
	EndAgentRunSpan(span, "Completed")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "agentruntime.run" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "agentruntime.run")
	}

	foundAgent := false
	foundState := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "toka.agent" && a.Value.AsString() == "upstream-agent" {
			foundAgent = true
		}
		if string(a.Key) == "toka.terminal_state" && a.Value.AsString() == "Completed" {
			foundState = true
		}
	}
	if !foundAgent {
		t.Error("missing toka.agent attribute")
	}
	if !foundState {
		t.Error("missing toka.terminal_state attribute")
	}
}

func TestStartLLMCallSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, llmSpan := StartLLMCallSpan(ctx, "claude-sonnet-4-5", "anthropic")
	EndLLMCallSpan(llmSpan, 1000, 500)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "gen_ai.chat" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "gen_ai.chat")
	}

	foundModel := false
	foundSystem := false
	foundInputTokens := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "gen_ai.request.model" && a.Value.AsString() == "claude-sonnet-4-5" {
			foundModel = true
		}
		if string(a.Key) == "gen_ai.system" && a.Value.AsString() == "anthropic" {
			foundSystem = true
		}
		if string(a.Key) == "gen_ai.usage.input_tokens" && a.Value.AsInt64() == 1000 {
			foundInputTokens = true
		}
	}
	if !foundModel {
		t.Error("missing gen_ai.request.model")
	}
	if !foundSystem {
		t.Error("missing gen_ai.system")
	}
	if !foundInputTokens {
		t.Error("missing gen_ai.usage.input_tokens")
	}
}

func TestStartToolCallSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, toolSpan := StartToolCallSpan(ctx, "kubectl.get")
	EndToolCallSpan(toolSpan, "ok")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "agentruntime.tool_call" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "agentruntime.tool_call")
	}
}

func TestToolCallSpanDenied(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, toolSpan := StartToolCallSpan(ctx, "kubectl.delete")
	EndToolCallSpan(toolSpan, "denied")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "toka.outcome" && a.Value.AsString() == "denied" {
			found = true
		}
	}
	if !found {
		t.Error("missing toka.outcome attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, sessionSpan := StartSessionSpan(ctx, "session-1", 2)
	_, runSpan := StartAgentRunSpan(ctx, "test-agent", 1)
	runSpan.End()
	sessionSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	runStub := spans[0] // run span ends first
	sessionStub := spans[1]

	if runStub.Parent.TraceID() != sessionStub.SpanContext.TraceID() {
		t.Error("run span should share trace ID with session span")
	}
	if !runStub.Parent.SpanID().IsValid() {
		t.Error("run span should have a valid parent span ID")
	}
}

func TestKernelOpSpanRecordsError(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartKernelOpSpan(ctx, "SpawnSubAgent", 0)
	EndKernelOpSpan(span, errUnknownAgent)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "toka.error" {
			found = true
		}
	}
	if !found {
		t.Error("missing toka.error attribute")
	}
}

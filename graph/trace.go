//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentName identifies this package's spans to whatever
// TracerProvider the embedding application has configured. Left
// unconfigured, otel.Tracer falls back to a no-op tracer, so Tracer is
// always safe to use even when the caller never wires a real exporter.
const instrumentName = "trpc.group/trpc-go/trpc-agent-go/graph"

// Tracer is the package-level tracer used for superstep and task spans.
// It is resolved from the global TracerProvider at package init, mirroring
// how internal/telemetry resolves its meters and tracers from global
// providers rather than threading one through every call.
var Tracer trace.Tracer = otel.Tracer(instrumentName)

// Span attribute keys used across superstep and task spans.
const (
	KeyThreadID   = "langgraph.thread_id"
	KeyStep       = "langgraph.step"
	KeyTaskCount  = "langgraph.task_count"
	KeyNodeID     = "langgraph.node_id"
	KeyTaskID     = "langgraph.task_id"
	KeyAttempt    = "langgraph.attempt"
	SpanSuperstep = "graph.superstep"
	SpanTask      = "graph.task"
)

// startSuperstepSpan opens one span per BSP superstep, covering task
// preparation, execution, write application, and checkpointing.
func startSuperstepSpan(ctx context.Context, threadID string, step, taskCount int) (context.Context, trace.Span) {
	return Tracer.Start(ctx, SpanSuperstep, trace.WithAttributes(
		attribute.String(KeyThreadID, threadID),
		attribute.Int(KeyStep, step),
		attribute.Int(KeyTaskCount, taskCount),
	))
}

// startTaskSpan opens one span per task execution attempt within a
// superstep.
func startTaskSpan(ctx context.Context, task *Task, attempt int) (context.Context, trace.Span) {
	return Tracer.Start(ctx, SpanTask, trace.WithAttributes(
		attribute.String(KeyNodeID, task.NodeID),
		attribute.String(KeyTaskID, task.ID),
		attribute.Int(KeyAttempt, attempt),
	))
}

// endSpan records err (if any) on span and ends it. status is left OK when
// err is nil, matching the convention used by internal/telemetry's
// call_llm and execute_tool spans.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

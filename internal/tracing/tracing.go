// Package tracing allocates and propagates trace_id/span_id across the
// orchestration core's asynchronous boundaries. A trace_id is allocated
// once at workflow creation and carried through every envelope, DB row,
// and log line for that workflow's lifetime; a fresh span_id is minted at
// each task publication. IDs use OTel's TraceID/SpanID wire format (16 and
// 8 random bytes, lowercase hex) so they interoperate with the spans
// common/telemetry exports, but propagation itself is plain
// context.Context — no OTel types leak into envelope or repository code.
package tracing

import (
	"context"
	"crypto/rand"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/lyzr/orchestrator/internal/apperr"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	spanIDKey
	parentSpanIDKey
)

// NewTraceID allocates a fresh, globally-unique trace id as a lowercase hex
// string (OTel's 16-byte TraceID format).
func NewTraceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(apperr.Fatal("TRACE_ID_GENERATION_FAILED", "failed to read random bytes for trace id", err))
	}
	return oteltrace.TraceID(b).String()
}

// NewSpanID allocates a fresh span id as a lowercase hex string (OTel's
// 8-byte SpanID format).
func NewSpanID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(apperr.Fatal("SPAN_ID_GENERATION_FAILED", "failed to read random bytes for span id", err))
	}
	return oteltrace.SpanID(b).String()
}

// WithTrace stores trace_id, span_id, and (optionally) parent_span_id on
// ctx for the remainder of the call chain. Message-bus handlers call this
// to restore a workflow's trace context from the envelope before invoking
// user code, since propagation across an asynchronous boundary is never
// implicit.
func WithTrace(ctx context.Context, traceID, spanID, parentSpanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, spanID)
	if parentSpanID != "" {
		ctx = context.WithValue(ctx, parentSpanIDKey, parentSpanID)
	}
	return ctx
}

// WithSpan derives a child span from ctx's current span: spanID becomes
// current, and ctx's current span_id becomes the new parent_span_id.
// orchestrator.dispatchTask does not call it; it mints each task's span id
// with NewSpanID and records the context's span id as the parent.
func WithSpan(ctx context.Context, spanID string) context.Context {
	parent, _ := SpanIDFromContext(ctx)
	ctx = context.WithValue(ctx, parentSpanIDKey, parent)
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceIDFromContext reads the trace_id ctx carries, if any.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	return v, ok
}

// SpanIDFromContext reads the span_id ctx carries, if any.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(spanIDKey).(string)
	return v, ok
}

// ParentSpanIDFromContext reads the parent_span_id ctx carries, if any.
func ParentSpanIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(parentSpanIDKey).(string)
	return v, ok
}

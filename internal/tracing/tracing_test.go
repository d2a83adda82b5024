package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID_IsUniqueAndCorrectLength(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == b {
		t.Fatal("expected two trace ids to differ")
	}
	if len(a) != 32 { // 16 bytes hex-encoded
		t.Fatalf("got trace id length %d, want 32", len(a))
	}
}

func TestNewSpanID_CorrectLength(t *testing.T) {
	s := NewSpanID()
	if len(s) != 16 { // 8 bytes hex-encoded
		t.Fatalf("got span id length %d, want 16", len(s))
	}
}

func TestWithTrace_RoundTrip(t *testing.T) {
	ctx := WithTrace(context.Background(), "trace1", "span1", "parent1")

	traceID, ok := TraceIDFromContext(ctx)
	if !ok || traceID != "trace1" {
		t.Fatalf("got (%q, %v)", traceID, ok)
	}
	spanID, ok := SpanIDFromContext(ctx)
	if !ok || spanID != "span1" {
		t.Fatalf("got (%q, %v)", spanID, ok)
	}
	parentSpanID, ok := ParentSpanIDFromContext(ctx)
	if !ok || parentSpanID != "parent1" {
		t.Fatalf("got (%q, %v)", parentSpanID, ok)
	}
}

func TestWithSpan_ChainsParent(t *testing.T) {
	ctx := WithTrace(context.Background(), "trace1", "span1", "")
	ctx = WithSpan(ctx, "span2")

	spanID, _ := SpanIDFromContext(ctx)
	if spanID != "span2" {
		t.Fatalf("got span_id %q, want span2", spanID)
	}
	parentSpanID, _ := ParentSpanIDFromContext(ctx)
	if parentSpanID != "span1" {
		t.Fatalf("got parent_span_id %q, want span1", parentSpanID)
	}
}

func TestTraceIDFromContext_MissingReportsFalse(t *testing.T) {
	if _, ok := TraceIDFromContext(context.Background()); ok {
		t.Fatal("expected no trace id on a bare context")
	}
}

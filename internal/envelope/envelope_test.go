package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validTaskEnvelope() *TaskEnvelope {
	return &TaskEnvelope{
		MessageID:  uuid.New(),
		TaskID:     uuid.New(),
		WorkflowID: uuid.New(),
		AgentType:  "scaffold",
		Priority:   "medium",
		Status:     "pending",
		Constraints: Constraints{
			TimeoutMS:  300000,
			MaxRetries: 3,
		},
		Payload: json.RawMessage(`{"foo":"bar"}`),
		Metadata: Metadata{
			CreatedAt:       time.Now().UTC(),
			CreatedBy:       "orchestrator",
			EnvelopeVersion: EnvelopeVersion,
		},
		Trace: Trace{TraceID: "t1", SpanID: "s1"},
		WorkflowContext: WorkflowContext{
			WorkflowType: "bugfix",
			CurrentStage: "scaffold",
			StageOutputs: map[string]json.RawMessage{},
		},
	}
}

func TestTaskEnvelopeRoundTrip(t *testing.T) {
	want := validTaskEnvelope()
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeTaskEnvelope(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TaskID != want.TaskID || got.AgentType != want.AgentType {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
}

func TestTaskEnvelopeValidate_MissingFields(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*TaskEnvelope)
	}{
		{"missing message_id", func(e *TaskEnvelope) { e.MessageID = uuid.Nil }},
		{"missing agent_type", func(e *TaskEnvelope) { e.AgentType = "" }},
		{"wrong status", func(e *TaskEnvelope) { e.Status = "running" }},
		{"missing trace", func(e *TaskEnvelope) { e.Trace = Trace{} }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := validTaskEnvelope()
			c.mut(e)
			if err := e.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func validResultEnvelope() *ResultEnvelope {
	return &ResultEnvelope{
		TaskID:     uuid.New(),
		WorkflowID: uuid.New(),
		AgentID:    "agent-1",
		AgentType:  "scaffold",
		Success:    true,
		Status:     ResultCompleted,
		Action:     "scaffold.generate",
		Result:     json.RawMessage(`{"ok":true}`),
		Metrics:    Metrics{DurationMS: 1200},
		Timestamp:  time.Now().UTC(),
		Version:    ResultVersion,
		Stage:      "scaffold",
	}
}

func TestResultEnvelopeRoundTrip(t *testing.T) {
	want := validResultEnvelope()
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeResultEnvelope(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Stage != want.Stage || got.Status != want.Status {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
}

func TestResultEnvelopeValidate_FailedRequiresError(t *testing.T) {
	e := validResultEnvelope()
	e.Success = false
	e.Status = ResultFailed
	e.Error = nil
	if err := e.Validate(); err == nil {
		t.Fatalf("expected validation error for failed result without error")
	}
}

func TestResultEnvelopeValidate_BadVersion(t *testing.T) {
	e := validResultEnvelope()
	e.Version = "2.0.0"
	if err := e.Validate(); err == nil {
		t.Fatalf("expected validation error for bad version")
	}
}

func TestResultEnvelopeValidate_BadStatus(t *testing.T) {
	e := validResultEnvelope()
	e.Status = ResultStatus("bogus")
	if err := e.Validate(); err == nil {
		t.Fatalf("expected validation error for bad status")
	}
}

func TestLifecycleEventRoundTrip(t *testing.T) {
	wfID := uuid.New()
	want := &LifecycleEvent{
		EventType:  EventWorkflowCompleted,
		WorkflowID: &wfID,
		TraceID:    "trace-123",
		Timestamp:  time.Now().UTC(),
		Payload:    json.RawMessage(`{}`),
	}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeLifecycleEvent(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EventType != want.EventType || got.TraceID != want.TraceID {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
}

func TestLifecycleEventValidate_RequiresTraceID(t *testing.T) {
	e := &LifecycleEvent{EventType: EventWorkflowCreated, Timestamp: time.Now()}
	if err := e.Validate(); err == nil {
		t.Fatalf("expected validation error for missing trace_id")
	}
}

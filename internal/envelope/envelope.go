// Package envelope defines the canonical wire shapes exchanged between the
// orchestrator and agents: task envelopes, result envelopes, and workflow
// lifecycle events. Each kind validates itself with a pure, side-effect-free
// Validate method; the orchestrator is the sole producer of task envelopes,
// agents the sole producers of result envelopes.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/orchestrator/internal/apperr"
)

// EnvelopeVersion is stamped into every task envelope's metadata.
const EnvelopeVersion = "1.0.0"

// ResultVersion is the literal version every result envelope must carry.
const ResultVersion = "1.0.0"

// Trace carries the propagated trace/span identifiers for one envelope.
type Trace struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// Constraints describes per-task execution limits.
type Constraints struct {
	TimeoutMS          int64   `json:"timeout_ms"`
	MaxRetries         int     `json:"max_retries"`
	RequiredConfidence float64 `json:"required_confidence,omitempty"`
}

// Metadata carries provenance for a task envelope.
type Metadata struct {
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	EnvelopeVersion string   `json:"envelope_version"`
}

// WorkflowContext embeds everything a stage needs to act without querying
// the orchestrator back.
type WorkflowContext struct {
	WorkflowType  string                     `json:"workflow_type"`
	CurrentStage  string                     `json:"current_stage"`
	StageOutputs  map[string]json.RawMessage `json:"stage_outputs"`
	PlatformID    *uuid.UUID                 `json:"platform_id,omitempty"`
	SurfaceID     *uuid.UUID                 `json:"surface_id,omitempty"`
}

// TaskEnvelope is published by the orchestrator on
// orchestrator:tasks:<agent_type>. The orchestrator is its sole producer.
type TaskEnvelope struct {
	MessageID       uuid.UUID       `json:"message_id"`
	TaskID          uuid.UUID       `json:"task_id"`
	WorkflowID      uuid.UUID       `json:"workflow_id"`
	AgentType       string          `json:"agent_type"`
	Priority        string          `json:"priority"`
	Status          string          `json:"status"`
	Constraints     Constraints     `json:"constraints"`
	Payload         json.RawMessage `json:"payload"`
	Metadata        Metadata        `json:"metadata"`
	Trace           Trace           `json:"trace"`
	WorkflowContext WorkflowContext `json:"workflow_context"`
}

// Validate checks structural invariants without doing any I/O.
func (e *TaskEnvelope) Validate() error {
	if e.MessageID == uuid.Nil {
		return apperr.Validation("ENVELOPE_INVALID", "task envelope: message_id is required")
	}
	if e.TaskID == uuid.Nil {
		return apperr.Validation("ENVELOPE_INVALID", "task envelope: task_id is required")
	}
	if e.WorkflowID == uuid.Nil {
		return apperr.Validation("ENVELOPE_INVALID", "task envelope: workflow_id is required")
	}
	if e.AgentType == "" {
		return apperr.Validation("ENVELOPE_INVALID", "task envelope: agent_type is required")
	}
	if e.Status != "pending" {
		return apperr.Validationf("ENVELOPE_INVALID", "task envelope: status must be 'pending' at publish, got %q", e.Status)
	}
	if e.Trace.TraceID == "" || e.Trace.SpanID == "" {
		return apperr.Validation("ENVELOPE_INVALID", "task envelope: trace_id and span_id are required")
	}
	if e.Metadata.EnvelopeVersion == "" {
		return apperr.Validation("ENVELOPE_INVALID", "task envelope: metadata.envelope_version is required")
	}
	return nil
}

// ResultStatus is the closed enum of result envelope statuses.
type ResultStatus string

const (
	ResultPending   ResultStatus = "pending"
	ResultQueued    ResultStatus = "queued"
	ResultRunning   ResultStatus = "running"
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
	ResultTimeout   ResultStatus = "timeout"
	ResultPartial   ResultStatus = "partial"
)

func (s ResultStatus) valid() bool {
	switch s {
	case ResultPending, ResultQueued, ResultRunning, ResultCompleted, ResultFailed, ResultCancelled, ResultTimeout, ResultPartial:
		return true
	}
	return false
}

// Metrics carries per-task execution metrics; DurationMS is the only
// required field.
type Metrics struct {
	DurationMS int64  `json:"duration_ms"`
	TokensUsed *int64 `json:"tokens_used,omitempty"`
	APICalls   *int64 `json:"api_calls,omitempty"`
	MemoryBytes *int64 `json:"memory_bytes,omitempty"`
}

// ResultError describes a failed or errored result.
type ResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Stack     string `json:"stack,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ResultEnvelope is published by agents on orchestrator:results. Agents are
// its sole producers. Top-level domain data MUST NOT appear outside
// `Result`; everything stage-specific is nested there.
type ResultEnvelope struct {
	TaskID     uuid.UUID       `json:"task_id"`
	WorkflowID uuid.UUID       `json:"workflow_id"`
	AgentID    string          `json:"agent_id"`
	AgentType  string          `json:"agent_type"`
	Success    bool            `json:"success"`
	Status     ResultStatus    `json:"status"`
	Action     string          `json:"action"`
	Result     json.RawMessage `json:"result"`
	Artifacts  []string        `json:"artifacts,omitempty"`
	Metrics    Metrics         `json:"metrics"`
	Error      *ResultError    `json:"error,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    string          `json:"version"`
	// Stage is the workflow stage name, not the agent type. Critical for
	// routing: the defensive gate compares this against the workflow's
	// current_stage, not AgentType.
	Stage string `json:"stage"`
}

func (e *ResultEnvelope) Validate() error {
	if e.TaskID == uuid.Nil {
		return apperr.Validation("ENVELOPE_INVALID", "result envelope: task_id is required")
	}
	if e.WorkflowID == uuid.Nil {
		return apperr.Validation("ENVELOPE_INVALID", "result envelope: workflow_id is required")
	}
	if e.AgentID == "" {
		return apperr.Validation("ENVELOPE_INVALID", "result envelope: agent_id is required")
	}
	if !e.Status.valid() {
		return apperr.Validationf("ENVELOPE_INVALID", "result envelope: invalid status %q", e.Status)
	}
	if e.Stage == "" {
		return apperr.Validation("ENVELOPE_INVALID", "result envelope: stage is required")
	}
	if e.Version != ResultVersion {
		return apperr.Validationf("ENVELOPE_INVALID", "result envelope: version must be %q, got %q", ResultVersion, e.Version)
	}
	if e.Metrics.DurationMS < 0 {
		return apperr.Validation("ENVELOPE_INVALID", "result envelope: metrics.duration_ms must be >= 0")
	}
	if !e.Success && e.Error == nil && (e.Status == ResultFailed || e.Status == ResultTimeout) {
		return apperr.Validation("ENVELOPE_INVALID", "result envelope: error is required when success=false and status is failed/timeout")
	}
	return nil
}

// EventType is the closed enum of workflow lifecycle events.
type EventType string

const (
	EventWorkflowCreated   EventType = "workflow.created"
	EventWorkflowStarted   EventType = "workflow.started"
	EventStageCompleted    EventType = "stage.completed"
	EventStageFailed       EventType = "stage.failed"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowCancelled EventType = "workflow.cancelled"
	EventWorkflowPaused    EventType = "workflow.paused"
	EventWorkflowResumed   EventType = "workflow.resumed"
	EventTaskCreated       EventType = "task.created"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
	EventAgentRegistered   EventType = "agent.registered"
	EventAgentOffline      EventType = "agent.offline"
)

func (t EventType) valid() bool {
	switch t {
	case EventWorkflowCreated, EventWorkflowStarted, EventStageCompleted, EventStageFailed,
		EventWorkflowCompleted, EventWorkflowFailed, EventWorkflowCancelled, EventWorkflowPaused,
		EventWorkflowResumed, EventTaskCreated, EventTaskCompleted, EventTaskFailed,
		EventAgentRegistered, EventAgentOffline:
		return true
	}
	return false
}

// LifecycleEvent is broadcast on orchestrator:events for observers.
// Event publishing MUST read trace_id from the current context, never
// synthesize one from workflow_id — see internal/tracing.
type LifecycleEvent struct {
	EventType  EventType       `json:"event_type"`
	WorkflowID *uuid.UUID      `json:"workflow_id,omitempty"`
	TraceID    string          `json:"trace_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

func (e *LifecycleEvent) Validate() error {
	if !e.EventType.valid() {
		return apperr.Validationf("ENVELOPE_INVALID", "lifecycle event: invalid event_type %q", e.EventType)
	}
	if e.TraceID == "" {
		return apperr.Validation("ENVELOPE_INVALID", "lifecycle event: trace_id is required")
	}
	if e.Timestamp.IsZero() {
		return apperr.Validation("ENVELOPE_INVALID", "lifecycle event: timestamp is required")
	}
	return nil
}

// DecodeTaskEnvelope parses and validates bytes as a TaskEnvelope.
func DecodeTaskEnvelope(b []byte) (*TaskEnvelope, error) {
	var e TaskEnvelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, apperr.Validationf("ENVELOPE_MALFORMED", "task envelope: %v", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeResultEnvelope parses and validates bytes as a ResultEnvelope.
func DecodeResultEnvelope(b []byte) (*ResultEnvelope, error) {
	var e ResultEnvelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, apperr.Validationf("ENVELOPE_MALFORMED", "result envelope: %v", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeLifecycleEvent parses and validates bytes as a LifecycleEvent.
func DecodeLifecycleEvent(b []byte) (*LifecycleEvent, error) {
	var e LifecycleEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, apperr.Validationf("ENVELOPE_MALFORMED", "lifecycle event: %v", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

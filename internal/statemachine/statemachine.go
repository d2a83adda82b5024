// Package statemachine implements the per-workflow finite state machine.
// Apply is data-oriented and pure: given persisted state and an event, it
// computes the next state (including any terminal status) and the effects
// the caller must carry out (dispatch a task, publish a lifecycle event,
// or log an ignored event). Nothing in Apply performs I/O.
package statemachine

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/definition"
	"github.com/lyzr/orchestrator/internal/envelope"
)

// Status is one of the FSM's named states.
type Status string

const (
	StatusInitiated        Status = "initiated"
	StatusRunning          Status = "running"
	StatusPaused           Status = "paused"
	StatusEvaluating       Status = "evaluating"
	StatusAwaitingDecision Status = "awaiting_decision"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

func (s Status) isTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsTerminal reports whether status is one of the FSM's terminal states
// (completed/failed/cancelled). Exported for callers enforcing the
// late-arrival discard policy ahead of a full Apply call.
func IsTerminal(status Status) bool {
	return Status(status).isTerminal()
}

// EventType is one of the events the FSM accepts.
type EventType string

const (
	EventStart         EventType = "START"
	EventStageComplete EventType = "STAGE_COMPLETE"
	EventStageFailed   EventType = "STAGE_FAILED"
	EventPause         EventType = "PAUSE"
	EventResume        EventType = "RESUME"
	EventCancel        EventType = "CANCEL"
	EventRetry         EventType = "RETRY"
	EventTimeout       EventType = "TIMEOUT"
)

// Event is one transition input. Not every field applies to every EventType;
// the comment on each field names the event types that read it.
type Event struct {
	Type       EventType
	Stage      string                 // STAGE_COMPLETE / STAGE_FAILED
	ResultData map[string]interface{} // STAGE_COMPLETE, fed to CEL routing
	FailErr    *apperr.Error           // STAGE_FAILED
	FromStage  string                 // RETRY
	TaskID     string                 // TIMEOUT
}

// EventID derives the stable, idempotency-bounding identifier for a
// STAGE_COMPLETE/STAGE_FAILED event: sha1(task_id + agent_id + result.status).
func EventID(taskID, agentID, resultStatus string) string {
	h := sha1.Sum([]byte(taskID + agentID + resultStatus))
	return hex.EncodeToString(h[:])
}

// PersistedState is the authoritative, durable representation of a
// workflow's FSM position. The in-memory FSM never holds more than this.
type PersistedState struct {
	WorkflowID      uuid.UUID
	Status          Status
	CurrentStage    string
	CompletedStages map[string]bool
	Progress        int
	Version         int64
	CurrentSpanID   string
	// QueuedEvents is reapplied in arrival order on RESUME. Apply never
	// appends to it (a STAGE_COMPLETE/STAGE_FAILED/TIMEOUT arriving while
	// Paused is rejected as not running), and internal/repository does not
	// persist it.
	QueuedEvents []Event
}

func cloneCompleted(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ActionKind names the side effect a caller must perform after Apply
// returns. Apply never performs these itself.
type ActionKind string

const (
	ActionDispatchTask  ActionKind = "dispatch_task"
	ActionPublishEvent  ActionKind = "publish_event"
	ActionIgnored       ActionKind = "event_ignored"
)

// Effect is one side effect Apply wants performed. Stage is set for
// ActionDispatchTask; LifecycleEvent is set for ActionPublishEvent.
type Effect struct {
	Kind            ActionKind
	Stage           string
	LifecycleEvent  string
	Reason          string
}

// Apply computes the next PersistedState and the effects to carry out for
// one event. def may be nil only when Status is already terminal (no
// routing decision is needed to ignore an event).
func Apply(def *definition.Definition, state PersistedState, event Event) (PersistedState, []Effect, error) {
	if state.Status.isTerminal() {
		return state, []Effect{{Kind: ActionIgnored, Reason: fmt.Sprintf("workflow is %s, event %s ignored", state.Status, event.Type)}}, nil
	}

	switch event.Type {
	case EventStart:
		return applyStart(def, state)
	case EventStageComplete:
		return applyStageComplete(def, state, event)
	case EventStageFailed:
		return applyStageFailed(def, state, event)
	case EventPause:
		return applyPause(state)
	case EventResume:
		return applyResume(def, state)
	case EventCancel:
		return applyCancel(state)
	case EventRetry:
		return applyRetry(def, state, event)
	case EventTimeout:
		return applyTimeout(def, state)
	default:
		return state, nil, apperr.Validationf("INVALID_EVENT", "unknown event type %q", event.Type)
	}
}

func applyStart(def *definition.Definition, state PersistedState) (PersistedState, []Effect, error) {
	if state.Status != StatusInitiated {
		return state, nil, apperr.BusinessRulef(apperr.CodeWorkflowTerminal, "START is only valid from initiated, workflow is %s", state.Status)
	}
	entry, err := definition.FirstStage(def)
	if err != nil {
		return state, nil, err
	}
	next := state
	next.Status = StatusRunning
	next.CurrentStage = entry
	next.CompletedStages = map[string]bool{}
	return next, []Effect{{Kind: ActionDispatchTask, Stage: entry}, {Kind: ActionPublishEvent, LifecycleEvent: string(envelope.EventWorkflowStarted)}}, nil
}

// defensive gate: reject an event whose stage doesn't match current_stage.
func gateStage(state PersistedState, eventStage string) error {
	if eventStage != state.CurrentStage {
		return apperr.BusinessRulef(apperr.CodeStageMismatch, "event for stage %q does not match workflow's current stage %q", eventStage, state.CurrentStage)
	}
	return nil
}

func applyStageComplete(def *definition.Definition, state PersistedState, event Event) (PersistedState, []Effect, error) {
	if state.Status != StatusRunning {
		return state, nil, apperr.BusinessRulef(apperr.CodeWorkflowTerminal, "STAGE_COMPLETE is only valid while running, workflow is %s", state.Status)
	}
	if err := gateStage(state, event.Stage); err != nil {
		return state, nil, err
	}

	completed := cloneCompleted(state.CompletedStages)
	completed[event.Stage] = true

	next, err := definition.NextStage(def, event.Stage, definition.OutcomeSuccess, event.ResultData)
	if err != nil {
		return state, nil, err
	}

	progress, err := definition.CalculateProgress(def, completed)
	if err != nil {
		return state, nil, err
	}

	out := state
	out.CompletedStages = completed
	out.Progress = progress

	if next == definition.TargetEnd {
		out.Status = StatusCompleted
		out.CurrentStage = ""
		return out, []Effect{
			{Kind: ActionPublishEvent, Stage: event.Stage, LifecycleEvent: string(envelope.EventStageCompleted)},
			{Kind: ActionPublishEvent, LifecycleEvent: string(envelope.EventWorkflowCompleted)},
		}, nil
	}

	out.Status = StatusRunning
	out.CurrentStage = next
	return out, []Effect{
		{Kind: ActionDispatchTask, Stage: next},
		{Kind: ActionPublishEvent, Stage: event.Stage, LifecycleEvent: string(envelope.EventStageCompleted)},
	}, nil
}

func applyStageFailed(def *definition.Definition, state PersistedState, event Event) (PersistedState, []Effect, error) {
	if state.Status != StatusRunning {
		return state, nil, apperr.BusinessRulef(apperr.CodeWorkflowTerminal, "STAGE_FAILED is only valid while running, workflow is %s", state.Status)
	}
	if err := gateStage(state, event.Stage); err != nil {
		return state, nil, err
	}

	next, err := definition.NextStage(def, event.Stage, definition.OutcomeFailure, event.ResultData)
	if err != nil {
		return state, nil, err
	}

	out := state
	if next == "FAIL" {
		out.Status = StatusFailed
		out.CurrentStage = ""
		return out, []Effect{
			{Kind: ActionPublishEvent, Stage: event.Stage, LifecycleEvent: string(envelope.EventStageFailed)},
			{Kind: ActionPublishEvent, LifecycleEvent: string(envelope.EventWorkflowFailed)},
		}, nil
	}
	if next == definition.TargetEnd {
		completed := cloneCompleted(state.CompletedStages)
		completed[event.Stage] = true
		progress, perr := definition.CalculateProgress(def, completed)
		if perr != nil {
			return state, nil, perr
		}
		out.CompletedStages = completed
		out.Progress = progress
		out.Status = StatusCompleted
		out.CurrentStage = ""
		return out, []Effect{
			{Kind: ActionPublishEvent, Stage: event.Stage, LifecycleEvent: string(envelope.EventStageFailed)},
			{Kind: ActionPublishEvent, LifecycleEvent: string(envelope.EventWorkflowCompleted)},
		}, nil
	}

	out.Status = StatusRunning
	out.CurrentStage = next
	return out, []Effect{
		{Kind: ActionDispatchTask, Stage: next},
		{Kind: ActionPublishEvent, Stage: event.Stage, LifecycleEvent: string(envelope.EventStageFailed)},
	}, nil
}

func applyPause(state PersistedState) (PersistedState, []Effect, error) {
	out := state
	out.Status = StatusPaused
	return out, []Effect{{Kind: ActionPublishEvent, LifecycleEvent: string(envelope.EventWorkflowPaused)}}, nil
}

// applyResume restores Running and reapplies any events queued while
// Paused, in arrival order. Queued events that fail to apply are dropped
// (already-stale by the time the workflow resumed) rather than aborting
// the resume.
func applyResume(def *definition.Definition, state PersistedState) (PersistedState, []Effect, error) {
	if state.Status != StatusPaused {
		return state, nil, apperr.BusinessRulef(apperr.CodeWorkflowTerminal, "RESUME is only valid from paused, workflow is %s", state.Status)
	}
	out := state
	out.Status = StatusRunning
	queued := out.QueuedEvents
	out.QueuedEvents = nil

	effects := []Effect{{Kind: ActionPublishEvent, LifecycleEvent: string(envelope.EventWorkflowResumed)}}
	for _, qe := range queued {
		var qeffects []Effect
		var err error
		out, qeffects, err = Apply(def, out, qe)
		if err != nil {
			continue
		}
		effects = append(effects, qeffects...)
	}
	return out, effects, nil
}

func applyCancel(state PersistedState) (PersistedState, []Effect, error) {
	out := state
	out.Status = StatusCancelled
	out.CurrentStage = ""
	return out, []Effect{{Kind: ActionPublishEvent, LifecycleEvent: string(envelope.EventWorkflowCancelled)}}, nil
}

func applyRetry(def *definition.Definition, state PersistedState, event Event) (PersistedState, []Effect, error) {
	if state.Status != StatusFailed {
		return state, nil, apperr.BusinessRulef(apperr.CodeInvalidRetryStage, "RETRY is only valid from failed, workflow is %s", state.Status)
	}
	stage := event.FromStage
	if stage == "" {
		return state, nil, apperr.Validation(apperr.CodeInvalidRetryStage, "RETRY requires from_stage")
	}
	out := state
	out.Status = StatusRunning
	out.CurrentStage = stage
	// Retrying a failed stage dispatches a new task for it; task.created is
	// the closed enum's event for that, same as a first-time stage dispatch.
	return out, []Effect{{Kind: ActionDispatchTask, Stage: stage}, {Kind: ActionPublishEvent, Stage: stage, LifecycleEvent: string(envelope.EventTaskCreated)}}, nil
}

func applyTimeout(def *definition.Definition, state PersistedState) (PersistedState, []Effect, error) {
	return applyStageFailed(def, state, Event{
		Type:  EventStageFailed,
		Stage: state.CurrentStage,
	})
}

package statemachine

import (
	"testing"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/internal/definition"
)

func testDef() *definition.Definition {
	return &definition.Definition{
		Name: "linear",
		Stages: []definition.StageDefinition{
			{Name: "scaffold", AgentType: "scaffold", OnSuccess: "validation", OnFailure: "fail"},
			{Name: "validation", AgentType: "validation", OnSuccess: "deployment", OnFailure: "fail"},
			{Name: "deployment", AgentType: "deployment", OnSuccess: definition.TargetEnd, OnFailure: "fail"},
		},
	}
}

func initiated() PersistedState {
	return PersistedState{WorkflowID: uuid.New(), Status: StatusInitiated, Version: 1}
}

func TestApply_StartDispatchesEntryStage(t *testing.T) {
	def := testDef()
	next, effects, err := Apply(def, initiated(), Event{Type: EventStart})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Status != StatusRunning || next.CurrentStage != "scaffold" {
		t.Fatalf("got status=%s stage=%s", next.Status, next.CurrentStage)
	}
	if len(effects) == 0 || effects[0].Kind != ActionDispatchTask || effects[0].Stage != "scaffold" {
		t.Fatalf("expected dispatch_task effect for scaffold, got %+v", effects)
	}
}

// Scenario A shape: running -> STAGE_COMPLETE(scaffold) -> dispatch validation.
func TestApply_StageCompleteDispatchesNext(t *testing.T) {
	def := testDef()
	state := PersistedState{Status: StatusRunning, CurrentStage: "scaffold", CompletedStages: map[string]bool{}}
	next, effects, err := Apply(def, state, Event{Type: EventStageComplete, Stage: "scaffold"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.CurrentStage != "validation" || !next.CompletedStages["scaffold"] {
		t.Fatalf("got %+v", next)
	}
	if next.Progress != 33 {
		t.Fatalf("got progress %d, want 33", next.Progress)
	}
	if effects[0].Kind != ActionDispatchTask || effects[0].Stage != "validation" {
		t.Fatalf("got %+v", effects)
	}
}

func TestApply_StageCompleteOnLastStageCompletesWorkflow(t *testing.T) {
	def := testDef()
	state := PersistedState{Status: StatusRunning, CurrentStage: "deployment", CompletedStages: map[string]bool{"scaffold": true, "validation": true}}
	next, effects, err := Apply(def, state, Event{Type: EventStageComplete, Stage: "deployment"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Status != StatusCompleted || next.Progress != 100 {
		t.Fatalf("got %+v", next)
	}
	if len(effects) != 2 || effects[0].LifecycleEvent != "stage.completed" || effects[1].LifecycleEvent != "workflow.completed" {
		t.Fatalf("got %+v", effects)
	}
}

func TestApply_StageFailedTerminatesWorkflow(t *testing.T) {
	def := testDef()
	state := PersistedState{Status: StatusRunning, CurrentStage: "scaffold", CompletedStages: map[string]bool{}}
	next, effects, err := Apply(def, state, Event{Type: EventStageFailed, Stage: "scaffold"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Status != StatusFailed {
		t.Fatalf("got status %s", next.Status)
	}
	if len(effects) != 2 || effects[0].LifecycleEvent != "stage.failed" || effects[1].LifecycleEvent != "workflow.failed" {
		t.Fatalf("got %+v", effects)
	}
}

// Defensive gate: an event for a stage that doesn't match current_stage
// must be rejected, not applied.
func TestApply_DefensiveGateRejectsStageMismatch(t *testing.T) {
	def := testDef()
	state := PersistedState{Status: StatusRunning, CurrentStage: "scaffold", CompletedStages: map[string]bool{}}
	_, _, err := Apply(def, state, Event{Type: EventStageComplete, Stage: "validation"})
	if err == nil {
		t.Fatal("expected a stage-mismatch error")
	}
}

func TestApply_TerminalStatesIgnoreEvents(t *testing.T) {
	def := testDef()
	for _, status := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		state := PersistedState{Status: status, CurrentStage: "scaffold"}
		next, effects, err := Apply(def, state, Event{Type: EventStageComplete, Stage: "scaffold"})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", status, err)
		}
		if next.Status != status {
			t.Fatalf("%s: status changed to %s", status, next.Status)
		}
		if len(effects) != 1 || effects[0].Kind != ActionIgnored {
			t.Fatalf("%s: expected a single ignored effect, got %+v", status, effects)
		}
	}
}

func TestApply_PauseThenResumeReappliesQueuedEvents(t *testing.T) {
	def := testDef()
	running := PersistedState{Status: StatusRunning, CurrentStage: "scaffold", CompletedStages: map[string]bool{}}

	paused, _, err := Apply(def, running, Event{Type: EventPause})
	if err != nil || paused.Status != StatusPaused {
		t.Fatalf("pause: got (%+v, %v)", paused, err)
	}

	paused.QueuedEvents = []Event{{Type: EventStageComplete, Stage: "scaffold"}}

	resumed, effects, err := Apply(def, paused, Event{Type: EventResume})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != StatusRunning || resumed.CurrentStage != "validation" {
		t.Fatalf("expected the queued STAGE_COMPLETE to be reapplied, got %+v", resumed)
	}
	foundDispatch := false
	for _, e := range effects {
		if e.Kind == ActionDispatchTask && e.Stage == "validation" {
			foundDispatch = true
		}
	}
	if !foundDispatch {
		t.Fatalf("expected a dispatch effect for validation among %+v", effects)
	}
}

func TestApply_CancelMarksTerminal(t *testing.T) {
	def := testDef()
	state := PersistedState{Status: StatusRunning, CurrentStage: "scaffold"}
	next, effects, err := Apply(def, state, Event{Type: EventCancel})
	if err != nil || next.Status != StatusCancelled {
		t.Fatalf("got (%+v, %v)", next, err)
	}
	if effects[0].LifecycleEvent != "workflow.cancelled" {
		t.Fatalf("got %+v", effects)
	}
}

func TestApply_RetryFromFailedDispatchesFromStage(t *testing.T) {
	def := testDef()
	state := PersistedState{Status: StatusFailed}
	next, effects, err := Apply(def, state, Event{Type: EventRetry, FromStage: "validation"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Status != StatusRunning || next.CurrentStage != "validation" {
		t.Fatalf("got %+v", next)
	}
	if effects[0].Kind != ActionDispatchTask || effects[0].Stage != "validation" {
		t.Fatalf("got %+v", effects)
	}
}

func TestApply_TimeoutBehavesLikeStageFailed(t *testing.T) {
	def := testDef()
	state := PersistedState{Status: StatusRunning, CurrentStage: "scaffold"}
	next, _, err := Apply(def, state, Event{Type: EventTimeout, TaskID: "t1"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Status != StatusFailed {
		t.Fatalf("got status %s", next.Status)
	}
}

func TestEventID_IsDeterministic(t *testing.T) {
	a := EventID("task1", "agent1", "completed")
	b := EventID("task1", "agent1", "completed")
	if a != b {
		t.Fatal("expected EventID to be deterministic")
	}
	c := EventID("task1", "agent1", "failed")
	if a == c {
		t.Fatal("expected different result status to produce a different EventID")
	}
}

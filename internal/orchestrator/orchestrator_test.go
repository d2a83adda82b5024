package orchestrator

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/bus"
	"github.com/lyzr/orchestrator/internal/definition"
	"github.com/lyzr/orchestrator/internal/envelope"
	"github.com/lyzr/orchestrator/internal/repository"
)

func testResult() *envelope.ResultEnvelope {
	return &envelope.ResultEnvelope{TaskID: uuid.New()}
}

func testDef() *definition.Definition {
	return &definition.Definition{
		Name: "pr-review",
		Stages: []definition.StageDefinition{
			{Name: "scaffold", AgentType: "scaffold-agent", OnSuccess: "review"},
			{Name: "review", AgentType: "review-agent", OnSuccess: definition.TargetEnd},
		},
	}
}

func TestStageByName(t *testing.T) {
	def := testDef()

	stage, ok := stageByName(def, "review")
	if !ok || stage.AgentType != "review-agent" {
		t.Fatalf("got (%+v, %v), want review-agent stage", stage, ok)
	}

	if _, ok := stageByName(def, "missing"); ok {
		t.Fatal("expected miss for unknown stage name")
	}
}

func TestDefinitionID(t *testing.T) {
	def := testDef()
	if got := definitionID(def); got != nil {
		t.Fatalf("expected nil for a legacy (zero-ID) definition, got %v", got)
	}

	def.ID = uuid.New()
	got := definitionID(def)
	if got == nil || *got != def.ID {
		t.Fatalf("got %v, want pointer to %v", got, def.ID)
	}
}

func TestHandleTransitionError_TransientRequeues(t *testing.T) {
	s := &Service{log: logger.New("error", "json")}
	wf := &repository.Workflow{ID: uuid.New()}

	err := apperr.Transient("RESULT_APPLY_FAILED", "kv unavailable", nil)
	ack := s.handleTransitionError(context.Background(), wf, testResult(), err)
	if ack != bus.AckRequeue {
		t.Fatalf("got %v, want AckRequeue for a transient error", ack)
	}
}

func TestHandleTransitionError_BusinessRuleDrops(t *testing.T) {
	s := &Service{log: logger.New("error", "json")}
	wf := &repository.Workflow{ID: uuid.New()}

	err := apperr.BusinessRule(apperr.CodeStageMismatch, "event for stage X does not match current stage Y")
	ack := s.handleTransitionError(context.Background(), wf, testResult(), err)
	if ack != bus.AckDrop {
		t.Fatalf("got %v, want AckDrop for a stage-mismatch rejection", ack)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("abc"); got != "abc" {
		t.Fatalf("got %q, want passthrough of a non-empty value", got)
	}
	if got := firstNonEmpty(""); got == "" {
		t.Fatal("expected a freshly minted trace id for an empty value")
	}
}

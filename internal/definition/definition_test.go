package definition

import (
	"testing"

	"github.com/google/uuid"
)

type allowAllResolver struct{}

func (allowAllResolver) Exists(agentType string, platformID *uuid.UUID) bool { return true }

func linearDef(t *testing.T) *Definition {
	t.Helper()
	return &Definition{
		Name: "linear",
		Stages: []StageDefinition{
			{Name: "A", AgentType: "scaffold", OnSuccess: "B", OnFailure: "fail"},
			{Name: "B", AgentType: "validation", OnSuccess: "C", OnFailure: "skip"},
			{Name: "C", AgentType: "deployment", OnSuccess: TargetEnd, OnFailure: "fail"},
		},
	}
}

func TestFirstStage(t *testing.T) {
	def := linearDef(t)
	entry, err := FirstStage(def)
	if err != nil {
		t.Fatalf("FirstStage: %v", err)
	}
	if entry != "A" {
		t.Fatalf("expected entry stage A, got %s", entry)
	}
}

// Scenario D — definition routing with skip: A->B->C, B.on_failure=skip.
// A completes success, B completes failure -> C is dispatched.
func TestNextStage_SkipRoutesToNextInDeclarationOrder(t *testing.T) {
	def := linearDef(t)

	next, err := NextStage(def, "A", OutcomeSuccess, nil)
	if err != nil || next != "B" {
		t.Fatalf("A success: got (%q, %v), want (B, nil)", next, err)
	}

	next, err = NextStage(def, "B", OutcomeFailure, nil)
	if err != nil || next != "C" {
		t.Fatalf("B failure (skip): got (%q, %v), want (C, nil)", next, err)
	}

	next, err = NextStage(def, "C", OutcomeSuccess, nil)
	if err != nil || next != TargetEnd {
		t.Fatalf("C success: got (%q, %v), want (END, nil)", next, err)
	}
}

// Boundary: on_failure="skip" on the LAST stage completes the workflow.
func TestNextStage_SkipOnLastStageCompletes(t *testing.T) {
	def := &Definition{
		Name: "skip-last",
		Stages: []StageDefinition{
			{Name: "only", AgentType: "scaffold", OnSuccess: TargetEnd, OnFailure: ActionSkip},
		},
	}
	next, err := NextStage(def, "only", OutcomeFailure, nil)
	if err != nil || next != TargetEnd {
		t.Fatalf("got (%q, %v), want (END, nil)", next, err)
	}
}

// Boundary: on_success="END" from the entry stage on a single-stage
// workflow.
func TestNextStage_SingleStageEndsImmediately(t *testing.T) {
	def := &Definition{
		Name: "single",
		Stages: []StageDefinition{
			{Name: "only", AgentType: "scaffold", OnSuccess: TargetEnd, OnFailure: "fail"},
		},
	}
	entry, err := FirstStage(def)
	if err != nil || entry != "only" {
		t.Fatalf("FirstStage: got (%q, %v)", entry, err)
	}
	next, err := NextStage(def, "only", OutcomeSuccess, nil)
	if err != nil || next != TargetEnd {
		t.Fatalf("got (%q, %v), want (END, nil)", next, err)
	}
	progress, err := CalculateProgress(def, map[string]bool{"only": true})
	if err != nil || progress != 100 {
		t.Fatalf("progress: got (%d, %v), want (100, nil)", progress, err)
	}
}

func TestNextStage_ExplicitFailureJump(t *testing.T) {
	def := &Definition{
		Name: "jump",
		Stages: []StageDefinition{
			{Name: "A", AgentType: "scaffold", OnSuccess: "B", OnFailure: "remediate"},
			{Name: "B", AgentType: "validation", OnSuccess: TargetEnd, OnFailure: "fail"},
			{Name: "remediate", AgentType: "scaffold", OnSuccess: "B", OnFailure: "fail"},
		},
	}
	next, err := NextStage(def, "A", OutcomeFailure, nil)
	if err != nil || next != "remediate" {
		t.Fatalf("got (%q, %v), want (remediate, nil)", next, err)
	}
}

func TestNextStage_Fail(t *testing.T) {
	def := linearDef(t)
	next, err := NextStage(def, "A", OutcomeFailure, nil)
	if err != nil || next != "FAIL" {
		t.Fatalf("got (%q, %v), want (FAIL, nil)", next, err)
	}
}

func TestCalculateProgress(t *testing.T) {
	def := linearDef(t)
	progress, err := CalculateProgress(def, map[string]bool{"A": true})
	if err != nil {
		t.Fatalf("CalculateProgress: %v", err)
	}
	if progress != 33 {
		t.Fatalf("got %d, want 33", progress)
	}

	progress, err = CalculateProgress(def, map[string]bool{"A": true, "C": true})
	if err != nil || progress != 67 {
		t.Fatalf("got (%d, %v), want (67, nil)", progress, err)
	}
}

func TestValidate_RejectsCycle(t *testing.T) {
	def := &Definition{
		Name: "cyclic",
		Stages: []StageDefinition{
			{Name: "A", AgentType: "scaffold", OnSuccess: "B", OnFailure: "fail"},
			{Name: "B", AgentType: "validation", OnSuccess: "A", OnFailure: "fail"},
		},
	}
	if err := Validate(def, allowAllResolver{}); err == nil {
		t.Fatal("expected validation error for circular on_success chain")
	}
}

func TestValidate_RejectsDuplicateStageNames(t *testing.T) {
	def := &Definition{
		Name: "dup",
		Stages: []StageDefinition{
			{Name: "A", AgentType: "scaffold", OnSuccess: TargetEnd, OnFailure: "fail"},
			{Name: "A", AgentType: "validation", OnSuccess: TargetEnd, OnFailure: "fail"},
		},
	}
	if err := Validate(def, allowAllResolver{}); err == nil {
		t.Fatal("expected validation error for duplicate stage names")
	}
}

func TestValidate_RejectsUnknownRoutingTarget(t *testing.T) {
	def := &Definition{
		Name: "bad-target",
		Stages: []StageDefinition{
			{Name: "A", AgentType: "scaffold", OnSuccess: "nope", OnFailure: "fail"},
		},
	}
	if err := Validate(def, allowAllResolver{}); err == nil {
		t.Fatal("expected validation error for unknown on_success target")
	}
}

func TestValidate_RejectsUnreachableStage(t *testing.T) {
	def := &Definition{
		Name: "unreachable",
		Stages: []StageDefinition{
			{Name: "A", AgentType: "scaffold", OnSuccess: TargetEnd, OnFailure: "fail"},
			{Name: "orphan", AgentType: "validation", OnSuccess: TargetEnd, OnFailure: "fail"},
		},
	}
	if err := Validate(def, allowAllResolver{}); err == nil {
		t.Fatal("expected validation error for unreachable stage")
	}
}

func TestValidate_AcceptsValidLinearDefinition(t *testing.T) {
	def := linearDef(t)
	if err := Validate(def, allowAllResolver{}); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
}

type rejectAllResolver struct{}

func (rejectAllResolver) Exists(agentType string, platformID *uuid.UUID) bool { return false }

func TestValidate_RejectsUnknownAgentType(t *testing.T) {
	def := linearDef(t)
	if err := Validate(def, rejectAllResolver{}); err == nil {
		t.Fatal("expected validation error for unregistered agent_type")
	}
}

func TestNextStage_RoutingConditionEnrichment(t *testing.T) {
	def := &Definition{
		Name: "conditional",
		Stages: []StageDefinition{
			{
				Name:      "A",
				AgentType: "validation",
				OnFailure: "fail",
				Routes: []ConditionalRoute{
					{Condition: "result.confidence >= 0.8", Target: "B"},
					{Condition: "true", Target: "C"},
				},
			},
			{Name: "B", AgentType: "deployment", OnSuccess: TargetEnd, OnFailure: "fail"},
			{Name: "C", AgentType: "scaffold", OnSuccess: TargetEnd, OnFailure: "fail"},
		},
	}
	if err := Validate(def, allowAllResolver{}); err != nil {
		t.Fatalf("expected valid definition with routes, got %v", err)
	}

	next, err := NextStage(def, "A", OutcomeSuccess, map[string]interface{}{"confidence": 0.95})
	if err != nil || next != "B" {
		t.Fatalf("high confidence: got (%q, %v), want (B, nil)", next, err)
	}

	next, err = NextStage(def, "A", OutcomeSuccess, map[string]interface{}{"confidence": 0.1})
	if err != nil || next != "C" {
		t.Fatalf("low confidence: got (%q, %v), want (C, nil)", next, err)
	}
}

func TestLoadLegacyDefinitions(t *testing.T) {
	defs, err := LoadLegacyDefinitions(allowAllResolver{})
	if err != nil {
		t.Fatalf("LoadLegacyDefinitions: %v", err)
	}
	wantCounts := map[string]int{"bugfix": 3, "feature": 5, "app": 8}
	for typ, want := range wantCounts {
		def, ok := defs[typ]
		if !ok {
			t.Fatalf("missing legacy definition %q", typ)
		}
		if len(def.Stages) != want {
			t.Fatalf("%s: got %d stages, want %d", typ, len(def.Stages), want)
		}
	}
}

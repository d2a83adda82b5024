// Package definition implements the workflow-definition engine: a pure,
// side-effect-free set of operations (FirstStage, NextStage,
// CalculateProgress, Validate) over a loaded Definition value. Nothing in
// this package performs I/O; callers load Definitions from
// internal/repository and pass them in.
package definition

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/internal/apperr"
)

// Reserved routing targets alongside explicit stage names.
const (
	TargetEnd  = "END"
	ActionFail = "fail"
	ActionSkip = "skip"
)

// Outcome is the result of one stage's execution, as fed into NextStage.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ConditionalRoute is an enrichment over spec.md's plain on_success field: a
// CEL expression evaluated against the stage's result data, tried in
// declaration order; the first route whose condition is true wins. When a
// StageDefinition has no Routes, on_success behaves exactly as spec.md
// describes (single deterministic target).
type ConditionalRoute struct {
	// Condition is a CEL expression, e.g. "result.confidence >= 0.8". The
	// evaluation environment exposes the stage's result data as `result`.
	Condition string `yaml:"condition" json:"condition"`
	Target    string `yaml:"target" json:"target"`
}

// StageDefinition is one node in a workflow-definition DAG.
type StageDefinition struct {
	Name       string             `yaml:"name" json:"name"`
	AgentType  string             `yaml:"agent_type" json:"agent_type"`
	TimeoutMS  int64              `yaml:"timeout_ms" json:"timeout_ms"`
	MaxRetries int                `yaml:"max_retries" json:"max_retries"`
	OnSuccess  string             `yaml:"on_success" json:"on_success"`
	OnFailure  string             `yaml:"on_failure" json:"on_failure"`
	Config     json.RawMessage    `yaml:"-" json:"config,omitempty"`
	// Routes is the additive CEL-routing enrichment (see ConditionalRoute).
	Routes []ConditionalRoute `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// Definition is a named, versioned DAG of stages owned by a platform (or
// global, for legacy type-keyed definitions).
type Definition struct {
	ID         uuid.UUID         `json:"id"`
	PlatformID *uuid.UUID        `json:"platform_id,omitempty"`
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Stages     []StageDefinition `json:"stages"`
	Metadata   json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (d *Definition) stage(name string) (*StageDefinition, bool) {
	for i := range d.Stages {
		if d.Stages[i].Name == name {
			return &d.Stages[i], true
		}
	}
	return nil, false
}

func (d *Definition) declarationIndex(name string) int {
	for i := range d.Stages {
		if d.Stages[i].Name == name {
			return i
		}
	}
	return -1
}

// FirstStage returns the entry stage: the one stage with no incoming edge.
// Validate must have already confirmed this invariant; FirstStage does not
// re-derive it defensively beyond a basic sanity check.
func FirstStage(d *Definition) (string, error) {
	if len(d.Stages) == 0 {
		return "", apperr.Fatal("DEFINITION_EMPTY", "definition has no stages", nil)
	}
	incoming := incomingCounts(d)
	var entry string
	found := 0
	for _, s := range d.Stages {
		if incoming[s.Name] == 0 {
			entry = s.Name
			found++
		}
	}
	if found != 1 {
		return "", apperr.Fatal("DEFINITION_NO_ENTRY", fmt.Sprintf("definition %s has %d candidate entry stages, expected 1", d.Name, found), nil)
	}
	return entry, nil
}

func incomingCounts(d *Definition) map[string]int {
	incoming := make(map[string]int, len(d.Stages))
	for _, s := range d.Stages {
		incoming[s.Name] = 0
	}
	for _, s := range d.Stages {
		if _, ok := incoming[s.OnSuccess]; ok {
			incoming[s.OnSuccess]++
		}
		for _, r := range s.Routes {
			if _, ok := incoming[r.Target]; ok {
				incoming[r.Target]++
			}
		}
		if s.OnFailure != ActionFail && s.OnFailure != ActionSkip {
			if _, ok := incoming[s.OnFailure]; ok {
				incoming[s.OnFailure]++
			}
		}
	}
	return incoming
}

// NextStage routes from currentStage given the stage's outcome. resultData
// is consulted only when the stage declares conditional Routes (the CEL
// routing enrichment); it may be nil otherwise. Returns a stage name,
// TargetEnd, or "FAIL".
func NextStage(d *Definition, currentStage string, outcome Outcome, resultData map[string]interface{}) (string, error) {
	stage, ok := d.stage(currentStage)
	if !ok {
		return "", apperr.BusinessRulef(apperr.CodeStageMismatch, "stage %q not found in definition %s", currentStage, d.Name)
	}

	switch outcome {
	case OutcomeSuccess:
		if len(stage.Routes) > 0 {
			target, err := evaluateRoutes(stage.Routes, resultData)
			if err != nil {
				return "", err
			}
			return target, nil
		}
		return stage.OnSuccess, nil

	case OutcomeFailure:
		switch stage.OnFailure {
		case ActionFail:
			return "FAIL", nil
		case ActionSkip:
			idx := d.declarationIndex(currentStage)
			if idx == len(d.Stages)-1 {
				// Boundary: on_failure=skip on the last stage completes
				// the workflow successfully.
				return TargetEnd, nil
			}
			return d.Stages[idx+1].Name, nil
		default:
			// Explicit stage-name jump.
			return stage.OnFailure, nil
		}

	default:
		return "", apperr.Validationf("INVALID_OUTCOME", "unknown outcome %q", outcome)
	}
}

func evaluateRoutes(routes []ConditionalRoute, resultData map[string]interface{}) (string, error) {
	env, err := cel.NewEnv(cel.Variable("result", cel.DynType))
	if err != nil {
		return "", apperr.Fatal("CEL_ENV_FAILED", "failed to construct CEL environment", err)
	}
	if resultData == nil {
		resultData = map[string]interface{}{}
	}

	for _, route := range routes {
		ast, issues := env.Compile(route.Condition)
		if issues != nil && issues.Err() != nil {
			return "", apperr.Validationf("ROUTING_CONDITION_INVALID", "routing condition %q: %v", route.Condition, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return "", apperr.Validationf("ROUTING_CONDITION_INVALID", "routing condition %q: %v", route.Condition, err)
		}
		out, _, err := prg.Eval(map[string]interface{}{"result": resultData})
		if err != nil {
			// A condition that errors on this result (e.g. missing field)
			// is treated as non-matching, not fatal — later routes still
			// get a chance.
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			return route.Target, nil
		}
	}
	return "", apperr.BusinessRule("ROUTING_NO_MATCH", "no routing condition matched and no default on_success is reachable")
}

// CalculateProgress returns round(100 * |completed| / |total|), clamped to
// [0, 100]. Definitions with zero stages are rejected at Validate time, so
// this is not expected to be called with an empty definition in practice,
// but it still fails closed rather than dividing by zero.
func CalculateProgress(d *Definition, completedStages map[string]bool) (int, error) {
	total := len(d.Stages)
	if total == 0 {
		return 0, apperr.Fatal("DEFINITION_EMPTY", "cannot calculate progress over a definition with no stages", nil)
	}
	completed := 0
	for _, s := range d.Stages {
		if completedStages[s.Name] {
			completed++
		}
	}
	pct := int((100*completed + total/2) / total) // round to nearest
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct, nil
}

// AgentResolver is the minimal contract Validate needs from the agent
// registry — satisfied by internal/registry.Registry.
type AgentResolver interface {
	Exists(agentType string, platformID *uuid.UUID) bool
}

// ValidationErrors collects every problem found by Validate rather than
// failing on the first one, so a single definition-create request can
// report all of its mistakes at once.
type ValidationErrors struct {
	Errors []string
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("definition invalid: %v", v.Errors)
}

func (v *ValidationErrors) add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate enforces every invariant spec.md §4.4 names: unique stage names,
// acyclicity, valid routing targets, agent_type resolution, and
// reachability from the entry stage.
func Validate(d *Definition, resolver AgentResolver) error {
	verrs := &ValidationErrors{}

	if len(d.Stages) == 0 {
		verrs.add("definition must declare at least one stage")
		return toErr(verrs)
	}

	names := make(map[string]bool, len(d.Stages))
	for _, s := range d.Stages {
		if names[s.Name] {
			verrs.add("duplicate stage name %q", s.Name)
		}
		names[s.Name] = true
	}

	for _, s := range d.Stages {
		if s.OnSuccess != TargetEnd && !names[s.OnSuccess] && len(s.Routes) == 0 {
			verrs.add("stage %q: on_success target %q does not exist", s.Name, s.OnSuccess)
		}
		for _, r := range s.Routes {
			if r.Target != TargetEnd && !names[r.Target] {
				verrs.add("stage %q: routing condition target %q does not exist", s.Name, r.Target)
			}
		}
		if s.OnFailure != ActionFail && s.OnFailure != ActionSkip && !names[s.OnFailure] {
			verrs.add("stage %q: on_failure target %q does not exist", s.Name, s.OnFailure)
		}
		if resolver != nil && !resolver.Exists(s.AgentType, d.PlatformID) {
			verrs.add("stage %q: agent_type %q is not registered", s.Name, s.AgentType)
		}
	}

	if len(verrs.Errors) == 0 {
		if err := checkAcyclic(d); err != nil {
			verrs.add("%s", err.Error())
		}
	}

	if len(verrs.Errors) == 0 {
		if _, err := FirstStage(d); err != nil {
			verrs.add("%s", err.Error())
		} else if err := checkReachability(d); err != nil {
			verrs.add("%s", err.Error())
		}
	}

	return toErr(verrs)
}

func toErr(v *ValidationErrors) error {
	if len(v.Errors) == 0 {
		return nil
	}
	sort.Strings(v.Errors)
	return apperr.Validationf("DEFINITION_INVALID", "%s", v.Error())
}

// checkAcyclic runs Kahn's algorithm over the on_success/routing-target
// graph (on_failure "fail"/"skip" are not graph edges; explicit-stage
// on_failure jumps are).
func checkAcyclic(d *Definition) error {
	indegree := incomingCounts(d)
	adjacency := map[string][]string{}
	for _, s := range d.Stages {
		if _, ok := indegree[s.OnSuccess]; ok {
			adjacency[s.Name] = append(adjacency[s.Name], s.OnSuccess)
		}
		for _, r := range s.Routes {
			if _, ok := indegree[r.Target]; ok {
				adjacency[s.Name] = append(adjacency[s.Name], r.Target)
			}
		}
		if s.OnFailure != ActionFail && s.OnFailure != ActionSkip {
			if _, ok := indegree[s.OnFailure]; ok {
				adjacency[s.Name] = append(adjacency[s.Name], s.OnFailure)
			}
		}
	}

	queue := make([]string, 0, len(d.Stages))
	for _, s := range d.Stages {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adjacency[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(d.Stages) {
		return apperr.Validation(apperr.CodeCyclicDefinition, "definition contains a cycle")
	}
	return nil
}

// checkReachability ensures every stage is reachable from the entry stage
// via on_success/routing/explicit-failure-jump edges.
func checkReachability(d *Definition) error {
	entry, err := FirstStage(d)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(d.Stages))
	for _, s := range d.Stages {
		names[s.Name] = false
	}

	queue := []string{entry}
	names[entry] = true
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		stage, _ := d.stage(n)
		targets := []string{}
		if _, ok := names[stage.OnSuccess]; ok {
			targets = append(targets, stage.OnSuccess)
		}
		for _, r := range stage.Routes {
			if _, ok := names[r.Target]; ok {
				targets = append(targets, r.Target)
			}
		}
		if stage.OnFailure != ActionFail && stage.OnFailure != ActionSkip {
			targets = append(targets, stage.OnFailure)
		}
		for _, t := range targets {
			if !names[t] {
				names[t] = true
				queue = append(queue, t)
			}
		}
	}

	for name, reached := range names {
		if !reached {
			return apperr.Validationf("DEFINITION_UNREACHABLE", "stage %q is unreachable from entry stage %q", name, entry)
		}
	}
	return nil
}

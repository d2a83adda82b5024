// Package orchestrator implements the orchestration service lifecycle:
// create_workflow, the sole canonical task-envelope producer
// (dispatchTask), and the long-lived results subscription that feeds
// the per-workflow FSM. It composes every lower package — bus, kv,
// definition, registry, statemachine, repository, envelope, tracing,
// apperr — into the one place spec.md §4.7 describes.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/bus"
	"github.com/lyzr/orchestrator/internal/definition"
	"github.com/lyzr/orchestrator/internal/envelope"
	"github.com/lyzr/orchestrator/internal/kv"
	"github.com/lyzr/orchestrator/internal/notifier"
	"github.com/lyzr/orchestrator/internal/registry"
	"github.com/lyzr/orchestrator/internal/repository"
	"github.com/lyzr/orchestrator/internal/statemachine"
	"github.com/lyzr/orchestrator/internal/tracing"
)

// defaultTaskTimeoutMS/defaultMaxRetries backstop a stage definition that
// doesn't declare its own.
const (
	defaultTaskTimeoutMS = 300000
	defaultMaxRetries    = 3
)

// SurfaceContext describes which surface a create_workflow request entered
// through. internal/surface.Router is the only producer; nil means the
// caller is a trusted internal path (migration tooling, tests) rather than
// an external surface, and the binding check is skipped.
type SurfaceContext struct {
	SurfaceID   uuid.UUID
	SurfaceType repository.SurfaceType
	EntryMeta   map[string]string
}

// CreateWorkflowRequest is the uniform shape every surface normalizes into
// before handing off to Service.CreateWorkflow.
type CreateWorkflowRequest struct {
	Type           string // legacy workflow type, used when DefinitionName is empty
	DefinitionName string
	PlatformID     *uuid.UUID
	Payload        json.RawMessage
	CreatedBy      string
}

// Service implements the orchestration core's lifecycle.
type Service struct {
	bus         bus.Bus
	kv          kv.KV
	registry    *registry.Registry
	workflows   *repository.WorkflowRepository
	definitions *repository.DefinitionRepository
	surfaces    *repository.SurfaceRepository
	tasks       *repository.TaskRepository
	legacy      map[string]*definition.Definition
	coordinator *statemachine.Coordinator
	notifier    *notifier.Notifier
	log         *logger.Logger
	watchdog    *watchdog
}

// New constructs a Service. legacyDefs is the set loaded once at startup via
// definition.LoadLegacyDefinitions. notify may be nil, in which case
// lifecycle events are published to the bus only (no outbound webhook push).
func New(
	busPort bus.Bus,
	kvPort kv.KV,
	reg *registry.Registry,
	workflows *repository.WorkflowRepository,
	definitions *repository.DefinitionRepository,
	surfaces *repository.SurfaceRepository,
	tasks *repository.TaskRepository,
	legacyDefs map[string]*definition.Definition,
	coordinator *statemachine.Coordinator,
	notify *notifier.Notifier,
	log *logger.Logger,
) *Service {
	return &Service{
		bus:         busPort,
		kv:          kvPort,
		registry:    reg,
		workflows:   workflows,
		definitions: definitions,
		surfaces:    surfaces,
		tasks:       tasks,
		legacy:      legacyDefs,
		coordinator: coordinator,
		notifier:    notify,
		log:         log,
		watchdog:    newWatchdog(),
	}
}

// tracedContext attaches wf's trace id to ctx with a fresh span, for code
// paths (the timeout watchdog) that run outside the request/message
// lifetime that normally carries tracing.WithTrace.
func (s *Service) tracedContext(ctx context.Context, wf *repository.Workflow) context.Context {
	return tracing.WithTrace(ctx, wf.TraceID, tracing.NewSpanID(), wf.CurrentSpanID)
}

// Start subscribes the long-lived results consumer on orchestrator:results,
// consumer group orchestrator-group, per spec.md §4.7. consumerID should be
// unique per process (e.g. hostname-pid).
func (s *Service) Start(ctx context.Context, consumerID string) (bus.Subscription, error) {
	return s.bus.Subscribe(ctx, bus.TopicResults, bus.ResultsGroup, consumerID, s.handleResult)
}

func (s *Service) resolveDefinition(ctx context.Context, req CreateWorkflowRequest) (*definition.Definition, error) {
	if req.PlatformID != nil && req.DefinitionName != "" {
		return s.definitions.GetByPlatformAndName(ctx, *req.PlatformID, req.DefinitionName)
	}
	def, ok := s.legacy[req.Type]
	if !ok {
		return nil, apperr.BusinessRulef("WORKFLOW_TYPE_UNKNOWN", "no legacy definition registered for workflow type %q", req.Type)
	}
	return def, nil
}

// CreateWorkflow implements spec.md §4.7's create_workflow lifecycle.
func (s *Service) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest, surfaceCtx *SurfaceContext) (*repository.Workflow, error) {
	def, err := s.resolveDefinition(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.PlatformID != nil && surfaceCtx != nil {
		enabled, err := s.surfaces.IsEnabled(ctx, *req.PlatformID, surfaceCtx.SurfaceType)
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, apperr.BusinessRulef(apperr.CodeSurfaceNotBound,
				"surface %q is not enabled for this platform; enable it in platform settings", surfaceCtx.SurfaceType)
		}
	}

	entry, err := definition.FirstStage(def)
	if err != nil {
		return nil, err
	}
	firstStage, _ := stageByName(def, entry)
	if exists, suggestion := s.registry.ValidateAgent(firstStage.AgentType, req.PlatformID); !exists {
		msg := apperr.BusinessRulef(apperr.CodeAgentUnknown, "agent_type %q is not registered", firstStage.AgentType)
		if suggestion != "" {
			msg.Message = msg.Message + ". " + registry.SuggestionMessage(suggestion)
		}
		return nil, msg
	}

	workflowID := uuid.New()
	traceID := tracing.NewTraceID()
	spanID := tracing.NewSpanID()
	now := time.Now()

	wf := &repository.Workflow{
		ID:            workflowID,
		PlatformID:    req.PlatformID,
		DefinitionID:  definitionID(def),
		Type:          req.Type,
		Payload:       req.Payload,
		Status:        string(statemachine.StatusInitiated),
		Version:       1,
		TraceID:       traceID,
		CurrentSpanID: spanID,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if surfaceCtx != nil {
		wf.SurfaceID = &surfaceCtx.SurfaceID
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}

	ctx = tracing.WithTrace(ctx, traceID, spanID, "")
	s.publishLifecycleEvent(ctx, envelope.EventWorkflowCreated, &workflowID, req.PlatformID, nil)

	state, effects, err := s.coordinator.HandleEvent(ctx, def, workflowID, statemachine.Event{Type: statemachine.EventStart}, "")
	if err != nil {
		return nil, err
	}
	if err := s.dispatchEffects(ctx, def, wf, state, effects); err != nil {
		return nil, err
	}

	wf.Status = string(state.Status)
	wf.CurrentStage = state.CurrentStage
	wf.Version = state.Version
	return wf, nil
}

func stageByName(def *definition.Definition, name string) (*definition.StageDefinition, bool) {
	for i := range def.Stages {
		if def.Stages[i].Name == name {
			return &def.Stages[i], true
		}
	}
	return nil, false
}

func definitionID(def *definition.Definition) *uuid.UUID {
	if def.ID == uuid.Nil {
		return nil
	}
	id := def.ID
	return &id
}

// ApplyAdminEvent drives a synchronous admin-triggered transition (CANCEL,
// RETRY, PAUSE, RESUME) straight through the coordinator, bypassing the bus
// entirely — these originate from an HTTP request, not an agent result, so
// there is nothing to deduplicate against redelivery.
func (s *Service) ApplyAdminEvent(ctx context.Context, wf *repository.Workflow, event statemachine.Event) error {
	def, err := s.definitionForWorkflow(ctx, wf)
	if err != nil {
		return err
	}
	if event.Type == statemachine.EventRetry {
		if _, ok := stageByName(def, event.FromStage); !ok {
			return apperr.Validationf(apperr.CodeInvalidRetryStage, "from_stage %q is not a stage of this workflow's definition", event.FromStage)
		}
	}
	state, effects, err := s.coordinator.HandleEvent(ctx, def, wf.ID, event, "")
	if err != nil {
		return err
	}
	return s.dispatchEffects(ctx, def, wf, state, effects)
}

// dispatchEffects carries out the side effects Apply computed: publishing
// task envelopes (the sole path through dispatchTask) and lifecycle
// events.
func (s *Service) dispatchEffects(ctx context.Context, def *definition.Definition, wf *repository.Workflow, state statemachine.PersistedState, effects []statemachine.Effect) error {
	for _, eff := range effects {
		switch eff.Kind {
		case statemachine.ActionDispatchTask:
			if err := s.dispatchTask(ctx, def, wf, state, eff.Stage); err != nil {
				return err
			}
		case statemachine.ActionPublishEvent:
			s.publishLifecycleEvent(ctx, envelope.EventType(eff.LifecycleEvent), &wf.ID, wf.PlatformID, stagePayload(eff.Stage))
		case statemachine.ActionIgnored:
			s.log.Info("event ignored", "workflow_id", wf.ID, "reason", eff.Reason)
		}
	}
	return nil
}

func (s *Service) dispatchTask(ctx context.Context, def *definition.Definition, wf *repository.Workflow, state statemachine.PersistedState, stageName string) error {
	stage, ok := stageByName(def, stageName)
	if !ok {
		return apperr.Fatal("DEFINITION_STAGE_MISSING", "dispatch target stage not found in definition", nil)
	}

	stageOutputs, err := s.collectStageOutputs(ctx, wf.ID)
	if err != nil {
		return err
	}

	traceID, _ := tracing.TraceIDFromContext(ctx)
	currentSpanID, _ := tracing.SpanIDFromContext(ctx)
	newSpanID := tracing.NewSpanID()

	taskID := uuid.New()
	timeoutMS := stage.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = defaultTaskTimeoutMS
	}
	maxRetries := stage.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	env := &envelope.TaskEnvelope{
		MessageID:  uuid.New(),
		TaskID:     taskID,
		WorkflowID: wf.ID,
		AgentType:  stage.AgentType,
		Priority:   "normal",
		Status:     "pending",
		Constraints: envelope.Constraints{
			TimeoutMS:  timeoutMS,
			MaxRetries: maxRetries,
		},
		Payload: wf.Payload,
		Metadata: envelope.Metadata{
			CreatedAt:       time.Now(),
			CreatedBy:       wf.CreatedBy,
			EnvelopeVersion: envelope.EnvelopeVersion,
		},
		Trace: envelope.Trace{
			TraceID:      traceID,
			SpanID:       newSpanID,
			ParentSpanID: currentSpanID,
		},
		WorkflowContext: envelope.WorkflowContext{
			WorkflowType: wf.Type,
			CurrentStage: stageName,
			StageOutputs: stageOutputs,
			PlatformID:   wf.PlatformID,
			SurfaceID:    wf.SurfaceID,
		},
	}
	if err := env.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return apperr.Fatal("ENVELOPE_MARSHAL_FAILED", "failed to marshal task envelope", err)
	}

	now := time.Now()
	if err := s.tasks.Create(ctx, &repository.AgentTask{
		ID:           uuid.New(),
		TaskID:       taskID,
		WorkflowID:   wf.ID,
		Stage:        stageName,
		AgentType:    stage.AgentType,
		Status:       "pending",
		Priority:     0,
		TraceID:      traceID,
		SpanID:       newSpanID,
		ParentSpanID: currentSpanID,
		AssignedAt:   &now,
		MaxRetries:   maxRetries,
		TimeoutMS:    timeoutMS,
	}); err != nil {
		return err
	}

	if err := s.bus.Publish(ctx, bus.TaskTopic(stage.AgentType), bus.Envelope{
		Body:    body,
		Headers: map[string]string{"trace_id": traceID, "kind": "task"},
	}, bus.PublishOptions{MirrorToStream: true}); err != nil {
		return err
	}

	s.watchdog.arm(taskID, time.Duration(timeoutMS)*time.Millisecond, s.onTimeout(wf.ID, taskID, stageName))
	return nil
}

// collectStageOutputs reconstructs workflow_context.stage_outputs from the
// task audit trail: the result body of every completed task, keyed by
// stage name.
func (s *Service) collectStageOutputs(ctx context.Context, workflowID uuid.UUID) (map[string]json.RawMessage, error) {
	tasks, err := s.tasks.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(tasks))
	for _, t := range tasks {
		if len(t.Result) > 0 {
			out[t.Stage] = t.Result
		}
	}
	return out, nil
}

// stagePayload wraps a stage name into the lifecycle event payload shape
// observers expect for stage.completed/stage.failed/task.created; empty
// for workflow-level events, which carry no stage.
func stagePayload(stage string) json.RawMessage {
	if stage == "" {
		return nil
	}
	b, err := json.Marshal(map[string]string{"stage": stage})
	if err != nil {
		return nil
	}
	return b
}

func (s *Service) publishLifecycleEvent(ctx context.Context, eventType envelope.EventType, workflowID *uuid.UUID, platformID *uuid.UUID, payload json.RawMessage) {
	traceID, _ := tracing.TraceIDFromContext(ctx)
	evt := &envelope.LifecycleEvent{
		EventType:  eventType,
		WorkflowID: workflowID,
		TraceID:    traceID,
		Timestamp:  time.Now(),
		Payload:    payload,
	}
	if err := evt.Validate(); err != nil {
		s.log.Error("refusing to publish invalid lifecycle event", "error", err)
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		s.log.Error("failed to marshal lifecycle event", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, bus.TopicEvents, bus.Envelope{Body: body, Headers: map[string]string{"trace_id": traceID}}, bus.PublishOptions{}); err != nil {
		s.log.Warn("failed to publish lifecycle event", "event_type", eventType, "error", err)
	}
	if s.notifier != nil && platformID != nil {
		s.notifier.Notify(ctx, *platformID, string(eventType), body)
	}
}

// handleResult is the orchestrator:results handler: parse, validate, look
// up the workflow, feed STAGE_COMPLETE/STAGE_FAILED into the FSM, dispatch
// whatever effects come back, then ack. Parse/validation failures and
// unroutable workflows are poison-messaged to the DLQ and acked rather than
// redelivered, per spec.md §4.7's poison-message policy.
func (s *Service) handleResult(ctx context.Context, msg bus.Envelope) bus.Ack {
	ctx = tracing.WithTrace(ctx, firstNonEmpty(msg.Headers["trace_id"]), tracing.NewSpanID(), "")

	result, err := envelope.DecodeResultEnvelope(msg.Body)
	if err != nil {
		s.log.Error("result envelope failed to parse/validate, routing to DLQ", "error", err)
		s.publishLifecycleEvent(ctx, envelope.EventStageFailed, partialWorkflowID(msg.Body), nil, nil)
		s.deadLetter(ctx, bus.TopicResults, msg, err)
		return bus.AckDrop
	}
	s.watchdog.disarm(result.TaskID)

	wf, err := s.workflows.GetByID(ctx, result.WorkflowID)
	if err != nil {
		s.log.Error("result for unknown workflow, routing to DLQ", "workflow_id", result.WorkflowID, "error", err)
		s.deadLetter(ctx, bus.TopicResults, msg, err)
		return bus.AckDrop
	}

	if statemachine.IsTerminal(statemachine.Status(wf.Status)) {
		s.log.Info("result for terminal workflow discarded", "workflow_id", wf.ID, "status", wf.Status)
		eventID := statemachine.EventID(result.TaskID.String(), result.AgentID, string(result.Status))
		if _, err := s.kv.SetIfAbsent(ctx, kv.DedupKey(eventID), []byte("1"), kv.DedupTTL); err != nil {
			s.log.Warn("failed to record late-arrival dedup record", "error", err)
		}
		return bus.AckOK
	}

	def, err := s.definitionForWorkflow(ctx, wf)
	if err != nil {
		s.log.Error("failed to resolve workflow definition for result", "workflow_id", wf.ID, "error", err)
		s.deadLetter(ctx, bus.TopicResults, msg, err)
		return bus.AckDrop
	}

	var resultData map[string]interface{}
	if len(result.Result) > 0 {
		_ = json.Unmarshal(result.Result, &resultData)
	}

	event := statemachine.Event{Stage: result.Stage, ResultData: resultData}
	if result.Success && result.Status == envelope.ResultCompleted {
		event.Type = statemachine.EventStageComplete
	} else {
		event.Type = statemachine.EventStageFailed
		if result.Error != nil {
			event.FailErr = apperr.BusinessRule(result.Error.Code, result.Error.Message)
		}
	}

	eventID := statemachine.EventID(result.TaskID.String(), result.AgentID, string(result.Status))
	state, effects, err := s.coordinator.HandleEvent(ctx, def, wf.ID, event, eventID)
	if err != nil {
		return s.handleTransitionError(ctx, wf, result, err)
	}

	if err := s.tasks.UpdateResult(ctx, result.TaskID, string(result.Status), result.Result); err != nil {
		s.log.Warn("failed to update task audit row", "task_id", result.TaskID, "error", err)
	}

	if err := s.dispatchEffects(ctx, def, wf, state, effects); err != nil {
		s.log.Error("failed to dispatch effects for result", "workflow_id", wf.ID, "error", err)
		return bus.AckRequeue
	}
	return bus.AckOK
}

// handleTransitionError decides the ack verdict for a coordinator error.
// Stage mismatches and other business-rule rejections are structural, not
// transient: logged and dropped rather than redelivered. Transient errors
// (DB/KV unavailable, CAS budget exhausted) are requeued so the bus
// redelivers, eventually dead-lettering after its own redelivery-count
// policy if the dependency never recovers.
func (s *Service) handleTransitionError(ctx context.Context, wf *repository.Workflow, result *envelope.ResultEnvelope, err error) bus.Ack {
	if apperr.IsCategory(err, apperr.CategoryTransient) {
		s.log.Warn("transient failure applying result, requeueing", "workflow_id", wf.ID, "error", err)
		return bus.AckRequeue
	}
	s.log.Info("event ignored", "workflow_id", wf.ID, "task_id", result.TaskID, "reason", err.Error())
	return bus.AckDrop
}

func (s *Service) definitionForWorkflow(ctx context.Context, wf *repository.Workflow) (*definition.Definition, error) {
	if wf.DefinitionID != nil {
		return s.definitions.GetByID(ctx, *wf.DefinitionID)
	}
	def, ok := s.legacy[wf.Type]
	if !ok {
		return nil, apperr.BusinessRulef("WORKFLOW_TYPE_UNKNOWN", "no legacy definition registered for workflow type %q", wf.Type)
	}
	return def, nil
}

func (s *Service) deadLetter(ctx context.Context, topic string, msg bus.Envelope, cause error) {
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}
	msg.Headers["dlq_reason"] = cause.Error()
	if err := s.bus.Publish(ctx, bus.DLQTopic(topic), msg, bus.PublishOptions{}); err != nil {
		s.log.Error("failed to route poison message to DLQ", "topic", topic, "error", err)
	}
}

func firstNonEmpty(v string) string {
	if v == "" {
		return tracing.NewTraceID()
	}
	return v
}

// partialWorkflowID best-effort extracts workflow_id from a result envelope
// that failed full decode/validation, so the stage.failed event raised for
// a poison message can still be attributed to its workflow when the JSON
// itself was well-formed.
func partialWorkflowID(body []byte) *uuid.UUID {
	var partial struct {
		WorkflowID uuid.UUID `json:"workflow_id"`
	}
	if err := json.Unmarshal(body, &partial); err != nil || partial.WorkflowID == uuid.Nil {
		return nil
	}
	id := partial.WorkflowID
	return &id
}

// Package models holds the HTTP wire shapes for orchestratord: request
// bodies and response envelopes distinct from the internal/repository rows
// they're built from, mirroring the teacher's own cmd-local models package.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/internal/repository"
)

// CreateWorkflowRequest is the POST /api/v1/workflows body.
type CreateWorkflowRequest struct {
	Type           string          `json:"type"`
	DefinitionName string          `json:"definition_name"`
	PlatformID     *uuid.UUID      `json:"platform_id"`
	Payload        json.RawMessage `json:"payload"`
}

// RetryRequest is the POST /api/v1/workflows/{id}/retry body.
type RetryRequest struct {
	FromStage string `json:"from_stage"`
}

// WorkflowResponse is the JSON shape returned for a single workflow.
type WorkflowResponse struct {
	ID              uuid.UUID       `json:"id"`
	PlatformID      *uuid.UUID      `json:"platform_id,omitempty"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	CurrentStage    string          `json:"current_stage,omitempty"`
	CompletedStages json.RawMessage `json:"completed_stages"`
	Progress        int             `json:"progress"`
	TraceID         string          `json:"trace_id"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func FromWorkflow(w *repository.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:              w.ID,
		PlatformID:      w.PlatformID,
		Type:            w.Type,
		Status:          w.Status,
		CurrentStage:    w.CurrentStage,
		CompletedStages: w.CompletedStages,
		Progress:        w.Progress,
		TraceID:         w.TraceID,
		CreatedBy:       w.CreatedBy,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}
}

// TaskResponse is the JSON shape returned for a single agent task.
type TaskResponse struct {
	TaskID      uuid.UUID       `json:"task_id"`
	WorkflowID  uuid.UUID       `json:"workflow_id"`
	Stage       string          `json:"stage"`
	AgentType   string          `json:"agent_type"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	TraceID     string          `json:"trace_id"`
	SpanID      string          `json:"span_id"`
	AssignedAt  *time.Time      `json:"assigned_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func FromTask(t *repository.AgentTask) TaskResponse {
	return TaskResponse{
		TaskID:      t.TaskID,
		WorkflowID:  t.WorkflowID,
		Stage:       t.Stage,
		AgentType:   t.AgentType,
		Status:      t.Status,
		Result:      t.Result,
		TraceID:     t.TraceID,
		SpanID:      t.SpanID,
		AssignedAt:  t.AssignedAt,
		CompletedAt: t.CompletedAt,
	}
}

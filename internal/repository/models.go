// Package repository persists the orchestration core's durable entities
// (Platform, WorkflowDefinition, PlatformSurface, Workflow, AgentTask,
// Agent) via raw SQL over a pgx pool, following the teacher's
// repository-per-entity layout: $1,$2... placeholders, db-tagged model
// structs, errors wrapped with %w.
package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PlatformLayer classifies a platform's position in the tenant hierarchy,
// per spec.md §3.
type PlatformLayer string

const (
	LayerApplication    PlatformLayer = "application"
	LayerData           PlatformLayer = "data"
	LayerInfrastructure PlatformLayer = "infrastructure"
	LayerEnterprise     PlatformLayer = "enterprise"
)

// Platform is a tenant that owns workflow definitions and surfaces.
type Platform struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Layer     PlatformLayer   `db:"layer" json:"layer"`
	Enabled   bool            `db:"enabled" json:"enabled"`
	Config    json.RawMessage `db:"config" json:"config,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// WorkflowDefinitionRow is the persisted form of internal/definition.Definition.
// Stages is stored as JSONB; DefinitionRepository.Create and
// rowToDefinition marshal it to/from []definition.StageDefinition.
type WorkflowDefinitionRow struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	PlatformID *uuid.UUID      `db:"platform_id" json:"platform_id,omitempty"`
	Name       string          `db:"name" json:"name"`
	Version    string          `db:"version" json:"version"`
	Stages     json.RawMessage `db:"stages" json:"stages"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// SurfaceType enumerates the surfaces a platform may enable.
type SurfaceType string

const (
	SurfaceREST      SurfaceType = "rest"
	SurfaceWebhook   SurfaceType = "webhook"
	SurfaceCLI       SurfaceType = "cli"
	SurfaceDashboard SurfaceType = "dashboard"
	SurfaceMobile    SurfaceType = "mobile"
)

// PlatformSurface records whether a surface is enabled for a platform, and
// any surface-specific config (e.g. webhook HMAC secret reference).
type PlatformSurface struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PlatformID  uuid.UUID       `db:"platform_id" json:"platform_id"`
	SurfaceType SurfaceType     `db:"surface_type" json:"surface_type"`
	Enabled     bool            `db:"enabled" json:"enabled"`
	Config      json.RawMessage `db:"config" json:"config,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Workflow is the authoritative, durable FSM position for one workflow run.
type Workflow struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PlatformID      *uuid.UUID      `db:"platform_id" json:"platform_id,omitempty"`
	DefinitionID    *uuid.UUID      `db:"definition_id" json:"definition_id,omitempty"`
	Type            string          `db:"type" json:"type"`
	Payload         json.RawMessage `db:"payload" json:"payload,omitempty"`
	Status          string          `db:"status" json:"status"`
	CurrentStage    string          `db:"current_stage" json:"current_stage"`
	CompletedStages json.RawMessage `db:"completed_stages" json:"completed_stages"`
	Progress        int             `db:"progress" json:"progress"`
	Version         int64           `db:"version" json:"version"`
	TraceID         string          `db:"trace_id" json:"trace_id"`
	CurrentSpanID   string          `db:"current_span_id" json:"current_span_id"`
	CreatedBy       string          `db:"created_by" json:"created_by"`
	SurfaceID       *uuid.UUID      `db:"surface_id" json:"surface_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// AgentTask is the per-stage audit row backing GET /workflows/{id}/tasks and
// GET /tasks/{id}.
type AgentTask struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TaskID      uuid.UUID       `db:"task_id" json:"task_id"`
	WorkflowID  uuid.UUID       `db:"workflow_id" json:"workflow_id"`
	Stage       string          `db:"stage" json:"stage"`
	AgentType   string          `db:"agent_type" json:"agent_type"`
	Status      string          `db:"status" json:"status"`
	Priority    int             `db:"priority" json:"priority"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	Result      json.RawMessage `db:"result" json:"result,omitempty"`
	TraceID     string          `db:"trace_id" json:"trace_id"`
	SpanID      string          `db:"span_id" json:"span_id"`
	ParentSpanID string         `db:"parent_span_id" json:"parent_span_id,omitempty"`
	AssignedAt  *time.Time      `db:"assigned_at" json:"assigned_at,omitempty"`
	StartedAt   *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	TimeoutMS   int64           `db:"timeout_ms" json:"timeout_ms"`
}

// Agent is one entry in the agent/platform registry's backing store.
type Agent struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	AgentType            string     `db:"agent_type" json:"agent_type"`
	PlatformID           *uuid.UUID `db:"platform_id" json:"platform_id,omitempty"`
	HeartbeatIntervalSec int        `db:"heartbeat_interval_sec" json:"heartbeat_interval_sec"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

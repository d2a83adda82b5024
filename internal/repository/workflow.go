package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/statemachine"
)

// WorkflowRepository handles database operations for workflow runs. It also
// satisfies internal/statemachine.StateStore, so the FSM coordinator can
// persist transitions directly against it.
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Create inserts a new Workflow row at version 1, status=initiated.
func (r *WorkflowRepository) Create(ctx context.Context, w *Workflow) error {
	if w.CompletedStages == nil {
		w.CompletedStages = json.RawMessage(`{}`)
	}
	query := `
		INSERT INTO workflow (id, platform_id, definition_id, type, payload, status, current_stage, completed_stages,
			progress, version, trace_id, current_span_id, created_by, surface_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Exec(ctx, query, w.ID, w.PlatformID, w.DefinitionID, w.Type, w.Payload, w.Status, w.CurrentStage,
		w.CompletedStages, w.Progress, w.Version, w.TraceID, w.CurrentSpanID, w.CreatedBy, w.SurfaceID, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return apperr.Transient("WORKFLOW_CREATE_FAILED", "failed to create workflow", err)
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	w := &Workflow{}
	err := row.Scan(&w.ID, &w.PlatformID, &w.DefinitionID, &w.Type, &w.Payload, &w.Status, &w.CurrentStage, &w.CompletedStages,
		&w.Progress, &w.Version, &w.TraceID, &w.CurrentSpanID, &w.CreatedBy, &w.SurfaceID, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.BusinessRule(apperr.CodeWorkflowNotFound, "workflow not found")
	}
	if err != nil {
		return nil, apperr.Transient("WORKFLOW_SCAN_FAILED", "failed to scan workflow row", err)
	}
	return w, nil
}

const workflowColumns = `id, platform_id, definition_id, type, payload, status, current_stage, completed_stages,
	progress, version, trace_id, current_span_id, created_by, surface_id, created_at, updated_at`

// GetByID retrieves a workflow by id.
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	return scanWorkflow(r.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflow WHERE id = $1`, id))
}

// GetByTraceID retrieves a workflow by its trace id.
func (r *WorkflowRepository) GetByTraceID(ctx context.Context, traceID string) (*Workflow, error) {
	return scanWorkflow(r.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflow WHERE trace_id = $1`, traceID))
}

// ListFilter narrows List's results; zero values are treated as "no filter".
type ListFilter struct {
	Status     string
	Type       string
	PlatformID *uuid.UUID
	Limit      int
	Offset     int
}

// List returns workflows matching the given filter, most recent first.
func (r *WorkflowRepository) List(ctx context.Context, f ListFilter) ([]*Workflow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3::uuid IS NULL OR platform_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, f.Status, f.Type, f.PlatformID, limit, f.Offset)
	if err != nil {
		return nil, apperr.Transient("WORKFLOW_LIST_FAILED", "failed to list workflows", err)
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("WORKFLOW_LIST_FAILED", "error iterating workflows", err)
	}
	return out, nil
}

func toPersistedState(w *Workflow) (statemachine.PersistedState, error) {
	var completed map[string]bool
	if len(w.CompletedStages) > 0 {
		if err := json.Unmarshal(w.CompletedStages, &completed); err != nil {
			return statemachine.PersistedState{}, apperr.Fatal("WORKFLOW_STATE_MALFORMED", "stored completed_stages is not valid JSON", err)
		}
	} else {
		completed = map[string]bool{}
	}
	return statemachine.PersistedState{
		WorkflowID:      w.ID,
		Status:          statemachine.Status(w.Status),
		CurrentStage:    w.CurrentStage,
		CompletedStages: completed,
		Progress:        w.Progress,
		Version:         w.Version,
		CurrentSpanID:   w.CurrentSpanID,
	}, nil
}

// Load satisfies internal/statemachine.StateStore.
func (r *WorkflowRepository) Load(ctx context.Context, workflowID uuid.UUID) (statemachine.PersistedState, error) {
	w, err := r.GetByID(ctx, workflowID)
	if err != nil {
		return statemachine.PersistedState{}, err
	}
	return toPersistedState(w)
}

// CompareAndSwap satisfies internal/statemachine.StateStore: updates the
// workflow row only if its version still matches expectedVersion, bumping
// to expectedVersion+1 on success.
func (r *WorkflowRepository) CompareAndSwap(ctx context.Context, expectedVersion int64, next statemachine.PersistedState) (bool, error) {
	completed, err := json.Marshal(next.CompletedStages)
	if err != nil {
		return false, apperr.Fatal("WORKFLOW_STATE_MARSHAL_FAILED", "failed to marshal completed_stages", err)
	}
	query := `
		UPDATE workflow
		SET status = $1, current_stage = $2, completed_stages = $3, progress = $4,
			current_span_id = $5, version = $6, updated_at = $7
		WHERE id = $8 AND version = $9
	`
	tag, err := r.db.Exec(ctx, query, string(next.Status), next.CurrentStage, completed, next.Progress,
		next.CurrentSpanID, expectedVersion+1, time.Now(), next.WorkflowID, expectedVersion)
	if err != nil {
		return false, apperr.Transient("WORKFLOW_CAS_FAILED", "failed to persist workflow state transition", err)
	}
	return tag.RowsAffected() == 1, nil
}

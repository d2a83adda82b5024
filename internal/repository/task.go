package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/internal/apperr"
)

// TaskRepository handles database operations for the per-stage task audit
// trail (AgentTask).
type TaskRepository struct {
	db *db.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(database *db.DB) *TaskRepository {
	return &TaskRepository{db: database}
}

const taskColumns = `id, task_id, workflow_id, stage, agent_type, status, priority, payload, result,
	trace_id, span_id, parent_span_id, assigned_at, started_at, completed_at, retry_count, max_retries, timeout_ms`

// Create inserts a new AgentTask row at publish time.
func (r *TaskRepository) Create(ctx context.Context, t *AgentTask) error {
	query := `
		INSERT INTO agent_task (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := r.db.Exec(ctx, query, t.ID, t.TaskID, t.WorkflowID, t.Stage, t.AgentType, t.Status, t.Priority,
		t.Payload, t.Result, t.TraceID, t.SpanID, t.ParentSpanID, t.AssignedAt, t.StartedAt, t.CompletedAt,
		t.RetryCount, t.MaxRetries, t.TimeoutMS)
	if err != nil {
		return apperr.Transient("TASK_CREATE_FAILED", "failed to create agent task", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*AgentTask, error) {
	t := &AgentTask{}
	err := row.Scan(&t.ID, &t.TaskID, &t.WorkflowID, &t.Stage, &t.AgentType, &t.Status, &t.Priority,
		&t.Payload, &t.Result, &t.TraceID, &t.SpanID, &t.ParentSpanID, &t.AssignedAt, &t.StartedAt, &t.CompletedAt,
		&t.RetryCount, &t.MaxRetries, &t.TimeoutMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.BusinessRule("TASK_NOT_FOUND", "agent task not found")
	}
	if err != nil {
		return nil, apperr.Transient("TASK_SCAN_FAILED", "failed to scan agent task row", err)
	}
	return t, nil
}

// GetByTaskID retrieves a task by its canonical task_id.
func (r *TaskRepository) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*AgentTask, error) {
	return scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM agent_task WHERE task_id = $1`, taskID))
}

// ListByWorkflow returns every task recorded for a workflow, in dispatch order.
func (r *TaskRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*AgentTask, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM agent_task WHERE workflow_id = $1 ORDER BY assigned_at`, workflowID)
	if err != nil {
		return nil, apperr.Transient("TASK_LIST_FAILED", "failed to list agent tasks", err)
	}
	defer rows.Close()

	var out []*AgentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("TASK_LIST_FAILED", "error iterating agent tasks", err)
	}
	return out, nil
}

// ListByTraceID returns every task recorded under a trace, in span order —
// the query GET /api/v1/traces/{id}/spans answers.
func (r *TaskRepository) ListByTraceID(ctx context.Context, traceID string) ([]*AgentTask, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM agent_task WHERE trace_id = $1 ORDER BY assigned_at`, traceID)
	if err != nil {
		return nil, apperr.Transient("TASK_LIST_FAILED", "failed to list agent tasks by trace", err)
	}
	defer rows.Close()

	var out []*AgentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("TASK_LIST_FAILED", "error iterating agent tasks by trace", err)
	}
	return out, nil
}

// UpdateResult records a task's terminal result and status.
func (r *TaskRepository) UpdateResult(ctx context.Context, taskID uuid.UUID, status string, result []byte) error {
	query := `
		UPDATE agent_task
		SET status = $2, result = $3, completed_at = now()
		WHERE task_id = $1
	`
	_, err := r.db.Exec(ctx, query, taskID, status, result)
	if err != nil {
		return apperr.Transient("TASK_UPDATE_FAILED", "failed to update agent task result", err)
	}
	return nil
}

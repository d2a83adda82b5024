package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/definition"
)

// DefinitionRepository handles database operations for platform-owned
// workflow definitions. Stages are stored as JSONB and decoded through the
// same definition.Definition shape the engine operates on.
type DefinitionRepository struct {
	db *db.DB
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(database *db.DB) *DefinitionRepository {
	return &DefinitionRepository{db: database}
}

func rowToDefinition(row *WorkflowDefinitionRow) (*definition.Definition, error) {
	var stages []definition.StageDefinition
	if err := json.Unmarshal(row.Stages, &stages); err != nil {
		return nil, apperr.Fatal("DEFINITION_STAGES_MALFORMED", "stored definition stages are not valid JSON", err)
	}
	return &definition.Definition{
		ID:         row.ID,
		PlatformID: row.PlatformID,
		Name:       row.Name,
		Version:    row.Version,
		Stages:     stages,
		Metadata:   row.Metadata,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// Create inserts a new, already-validated workflow definition.
func (r *DefinitionRepository) Create(ctx context.Context, def *definition.Definition) error {
	stages, err := json.Marshal(def.Stages)
	if err != nil {
		return apperr.Validationf("DEFINITION_STAGES_INVALID", "failed to marshal definition stages: %v", err)
	}
	query := `
		INSERT INTO workflow_definition (id, platform_id, name, version, stages, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(ctx, query, def.ID, def.PlatformID, def.Name, def.Version, stages, def.Metadata, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return apperr.BusinessRulef(apperr.CodeDuplicateDefinition, "failed to create definition %q for platform: %v", def.Name, err)
	}
	return nil
}

// GetByID retrieves a definition by id.
func (r *DefinitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*definition.Definition, error) {
	query := `
		SELECT id, platform_id, name, version, stages, metadata, created_at, updated_at
		FROM workflow_definition
		WHERE id = $1
	`
	row := &WorkflowDefinitionRow{}
	err := r.db.QueryRow(ctx, query, id).Scan(&row.ID, &row.PlatformID, &row.Name, &row.Version, &row.Stages, &row.Metadata, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.BusinessRule(apperr.CodeDefinitionNotFound, "workflow definition not found")
	}
	if err != nil {
		return nil, apperr.Transient("DEFINITION_GET_FAILED", "failed to get workflow definition", err)
	}
	return rowToDefinition(row)
}

// GetByPlatformAndName retrieves a definition by its (platform_id, name)
// unique key — the lookup create_workflow performs when a request names an
// explicit definition rather than a legacy type.
func (r *DefinitionRepository) GetByPlatformAndName(ctx context.Context, platformID uuid.UUID, name string) (*definition.Definition, error) {
	query := `
		SELECT id, platform_id, name, version, stages, metadata, created_at, updated_at
		FROM workflow_definition
		WHERE platform_id = $1 AND name = $2
	`
	row := &WorkflowDefinitionRow{}
	err := r.db.QueryRow(ctx, query, platformID, name).Scan(&row.ID, &row.PlatformID, &row.Name, &row.Version, &row.Stages, &row.Metadata, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.BusinessRulef(apperr.CodeDefinitionNotFound, "workflow definition %q not found for platform", name)
	}
	if err != nil {
		return nil, apperr.Transient("DEFINITION_GET_FAILED", "failed to get workflow definition", err)
	}
	return rowToDefinition(row)
}

// ListByPlatform returns every definition owned by a platform.
func (r *DefinitionRepository) ListByPlatform(ctx context.Context, platformID uuid.UUID) ([]*definition.Definition, error) {
	query := `
		SELECT id, platform_id, name, version, stages, metadata, created_at, updated_at
		FROM workflow_definition
		WHERE platform_id = $1
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query, platformID)
	if err != nil {
		return nil, apperr.Transient("DEFINITION_LIST_FAILED", "failed to list workflow definitions", err)
	}
	defer rows.Close()

	var out []*definition.Definition
	for rows.Next() {
		row := &WorkflowDefinitionRow{}
		if err := rows.Scan(&row.ID, &row.PlatformID, &row.Name, &row.Version, &row.Stages, &row.Metadata, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, apperr.Transient("DEFINITION_SCAN_FAILED", "failed to scan workflow definition row", err)
		}
		def, err := rowToDefinition(row)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("DEFINITION_LIST_FAILED", "error iterating workflow definitions", err)
	}
	return out, nil
}

// Delete removes a definition.
func (r *DefinitionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM workflow_definition WHERE id = $1`, id)
	if err != nil {
		return apperr.Transient("DEFINITION_DELETE_FAILED", "failed to delete workflow definition", err)
	}
	return nil
}

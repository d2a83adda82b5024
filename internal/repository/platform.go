package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/internal/apperr"
)

// PlatformRepository handles database operations for platforms.
type PlatformRepository struct {
	db *db.DB
}

// NewPlatformRepository creates a new platform repository.
func NewPlatformRepository(database *db.DB) *PlatformRepository {
	return &PlatformRepository{db: database}
}

// Create inserts a new platform.
func (r *PlatformRepository) Create(ctx context.Context, p *Platform) error {
	query := `
		INSERT INTO platform (id, name, layer, enabled, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, p.ID, p.Name, p.Layer, p.Enabled, p.Config, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return apperr.Transient("PLATFORM_CREATE_FAILED", fmt.Sprintf("failed to create platform %s", p.Name), err)
	}
	return nil
}

// GetByID retrieves a platform by id.
func (r *PlatformRepository) GetByID(ctx context.Context, id uuid.UUID) (*Platform, error) {
	query := `
		SELECT id, name, layer, enabled, config, created_at, updated_at
		FROM platform
		WHERE id = $1
	`
	p := &Platform{}
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Layer, &p.Enabled, &p.Config, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.BusinessRulef("PLATFORM_NOT_FOUND", "platform %s not found", id)
	}
	if err != nil {
		return nil, apperr.Transient("PLATFORM_GET_FAILED", "failed to get platform", err)
	}
	return p, nil
}

// List returns every platform.
func (r *PlatformRepository) List(ctx context.Context) ([]*Platform, error) {
	query := `SELECT id, name, layer, enabled, config, created_at, updated_at FROM platform ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Transient("PLATFORM_LIST_FAILED", "failed to list platforms", err)
	}
	defer rows.Close()

	var out []*Platform
	for rows.Next() {
		p := &Platform{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Layer, &p.Enabled, &p.Config, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.Transient("PLATFORM_SCAN_FAILED", "failed to scan platform row", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("PLATFORM_LIST_FAILED", "error iterating platforms", err)
	}
	return out, nil
}

// Update persists a platform's mutable fields (name, layer, enabled, config).
func (r *PlatformRepository) Update(ctx context.Context, p *Platform) error {
	query := `
		UPDATE platform
		SET name = $2, layer = $3, enabled = $4, config = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, p.ID, p.Name, p.Layer, p.Enabled, p.Config, p.UpdatedAt)
	if err != nil {
		return apperr.Transient("PLATFORM_UPDATE_FAILED", "failed to update platform", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.BusinessRulef("PLATFORM_NOT_FOUND", "platform %s not found", p.ID)
	}
	return nil
}

// Delete removes a platform.
func (r *PlatformRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM platform WHERE id = $1`, id)
	if err != nil {
		return apperr.Transient("PLATFORM_DELETE_FAILED", "failed to delete platform", err)
	}
	return nil
}

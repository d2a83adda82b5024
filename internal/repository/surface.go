package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/internal/apperr"
)

// SurfaceRepository handles database operations for platform surfaces.
type SurfaceRepository struct {
	db *db.DB
}

// NewSurfaceRepository creates a new surface repository.
func NewSurfaceRepository(database *db.DB) *SurfaceRepository {
	return &SurfaceRepository{db: database}
}

// Upsert creates or updates a platform's surface binding (unique on
// (platform_id, surface_type)).
func (r *SurfaceRepository) Upsert(ctx context.Context, s *PlatformSurface) error {
	query := `
		INSERT INTO platform_surface (id, platform_id, surface_type, enabled, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (platform_id, surface_type)
		DO UPDATE SET enabled = EXCLUDED.enabled, config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query, s.ID, s.PlatformID, s.SurfaceType, s.Enabled, s.Config, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return apperr.Transient("SURFACE_UPSERT_FAILED", "failed to upsert platform surface", err)
	}
	return nil
}

// IsEnabled reports whether surfaceType is bound and enabled for platformID
// — the check create_workflow's surface-binding step (spec.md §4.7 step 2)
// relies on.
func (r *SurfaceRepository) IsEnabled(ctx context.Context, platformID uuid.UUID, surfaceType SurfaceType) (bool, error) {
	query := `
		SELECT enabled FROM platform_surface
		WHERE platform_id = $1 AND surface_type = $2
	`
	var enabled bool
	err := r.db.QueryRow(ctx, query, platformID, surfaceType).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Transient("SURFACE_LOOKUP_FAILED", "failed to look up platform surface", err)
	}
	return enabled, nil
}

// ListBySurfaceType returns every enabled binding of surfaceType across all
// platforms — used at startup to preload per-platform secrets (e.g. webhook
// HMAC keys) for surfaces that can't carry a lookup key any other way.
func (r *SurfaceRepository) ListBySurfaceType(ctx context.Context, surfaceType SurfaceType) ([]*PlatformSurface, error) {
	query := `
		SELECT id, platform_id, surface_type, enabled, config, created_at, updated_at
		FROM platform_surface
		WHERE surface_type = $1 AND enabled = true
	`
	rows, err := r.db.Query(ctx, query, surfaceType)
	if err != nil {
		return nil, apperr.Transient("SURFACE_LIST_FAILED", "failed to list platform surfaces by type", err)
	}
	defer rows.Close()

	var out []*PlatformSurface
	for rows.Next() {
		s := &PlatformSurface{}
		if err := rows.Scan(&s.ID, &s.PlatformID, &s.SurfaceType, &s.Enabled, &s.Config, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.Transient("SURFACE_SCAN_FAILED", "failed to scan platform surface row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("SURFACE_LIST_FAILED", "error iterating platform surfaces", err)
	}
	return out, nil
}

// ListByPlatform returns every surface binding for a platform.
func (r *SurfaceRepository) ListByPlatform(ctx context.Context, platformID uuid.UUID) ([]*PlatformSurface, error) {
	query := `
		SELECT id, platform_id, surface_type, enabled, config, created_at, updated_at
		FROM platform_surface
		WHERE platform_id = $1
		ORDER BY surface_type
	`
	rows, err := r.db.Query(ctx, query, platformID)
	if err != nil {
		return nil, apperr.Transient("SURFACE_LIST_FAILED", "failed to list platform surfaces", err)
	}
	defer rows.Close()

	var out []*PlatformSurface
	for rows.Next() {
		s := &PlatformSurface{}
		if err := rows.Scan(&s.ID, &s.PlatformID, &s.SurfaceType, &s.Enabled, &s.Config, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.Transient("SURFACE_SCAN_FAILED", "failed to scan platform surface row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("SURFACE_LIST_FAILED", "error iterating platform surfaces", err)
	}
	return out, nil
}

package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/registry"
)

// AgentRepository handles database operations for the agent registry's
// backing store. It also satisfies internal/registry.Loader so Registry
// can rebuild its in-memory snapshot directly from it.
type AgentRepository struct {
	db *db.DB
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(database *db.DB) *AgentRepository {
	return &AgentRepository{db: database}
}

// Register inserts or updates a registered agent_type.
func (r *AgentRepository) Register(ctx context.Context, a *Agent) error {
	query := `
		INSERT INTO agent (id, agent_type, platform_id, heartbeat_interval_sec, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_type, platform_id)
		DO UPDATE SET heartbeat_interval_sec = EXCLUDED.heartbeat_interval_sec
	`
	_, err := r.db.Exec(ctx, query, a.ID, a.AgentType, a.PlatformID, a.HeartbeatIntervalSec, a.CreatedAt)
	if err != nil {
		return apperr.Transient("AGENT_REGISTER_FAILED", "failed to register agent", err)
	}
	return nil
}

// Deregister removes a registered agent_type.
func (r *AgentRepository) Deregister(ctx context.Context, agentType string, platformID *uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM agent WHERE agent_type = $1 AND platform_id IS NOT DISTINCT FROM $2`, agentType, platformID)
	if err != nil {
		return apperr.Transient("AGENT_DEREGISTER_FAILED", "failed to deregister agent", err)
	}
	return nil
}

// LoadAgents satisfies internal/registry.Loader.
func (r *AgentRepository) LoadAgents(ctx context.Context) ([]registry.AgentRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT agent_type, platform_id, heartbeat_interval_sec FROM agent`)
	if err != nil {
		return nil, apperr.Transient("AGENT_LOAD_FAILED", "failed to load agent registry", err)
	}
	defer rows.Close()

	var out []registry.AgentRecord
	for rows.Next() {
		var rec registry.AgentRecord
		if err := rows.Scan(&rec.AgentType, &rec.PlatformID, &rec.HeartbeatIntervalSec); err != nil {
			return nil, apperr.Transient("AGENT_SCAN_FAILED", "failed to scan agent row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("AGENT_LOAD_FAILED", "error iterating agent rows", err)
	}
	return out, nil
}

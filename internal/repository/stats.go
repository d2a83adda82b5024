package repository

import (
	"fmt"
	"time"

	"context"

	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/internal/apperr"
)

// StatsRepository answers the read-only aggregate queries behind
// /api/v1/stats/*. It never participates in the write path.
type StatsRepository struct {
	db *db.DB
}

func NewStatsRepository(database *db.DB) *StatsRepository {
	return &StatsRepository{db: database}
}

// Overview is the shape GET /api/v1/stats/overview returns.
type Overview struct {
	TotalWorkflows int            `json:"total_workflows"`
	ByStatus       map[string]int `json:"by_status"`
	TotalTasks     int            `json:"total_tasks"`
	FailedTasks    int            `json:"failed_tasks"`
}

func (r *StatsRepository) Overview(ctx context.Context) (*Overview, error) {
	out := &Overview{ByStatus: map[string]int{}}

	rows, err := r.db.Query(ctx, `SELECT status, count(*) FROM workflow GROUP BY status`)
	if err != nil {
		return nil, apperr.Transient("STATS_OVERVIEW_FAILED", "failed to aggregate workflow status counts", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, apperr.Transient("STATS_OVERVIEW_FAILED", "failed to scan workflow status count", err)
		}
		out.ByStatus[status] = n
		out.TotalWorkflows += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("STATS_OVERVIEW_FAILED", "error iterating workflow status counts", err)
	}

	err = r.db.QueryRow(ctx, `SELECT count(*) FROM agent_task`).Scan(&out.TotalTasks)
	if err != nil {
		return nil, apperr.Transient("STATS_OVERVIEW_FAILED", "failed to count agent tasks", err)
	}
	err = r.db.QueryRow(ctx, `SELECT count(*) FROM agent_task WHERE status = 'failed'`).Scan(&out.FailedTasks)
	if err != nil {
		return nil, apperr.Transient("STATS_OVERVIEW_FAILED", "failed to count failed agent tasks", err)
	}
	return out, nil
}

// AgentStat is one row of GET /api/v1/stats/agents.
type AgentStat struct {
	AgentType      string  `json:"agent_type"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	FailedTasks    int     `json:"failed_tasks"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
}

func (r *StatsRepository) AgentStats(ctx context.Context) ([]AgentStat, error) {
	query := `
		SELECT
			agent_type,
			count(*) AS total,
			count(*) FILTER (WHERE status = 'completed') AS completed,
			count(*) FILTER (WHERE status = 'failed') AS failed,
			coalesce(avg(extract(epoch FROM (completed_at - started_at)) * 1000)
				FILTER (WHERE completed_at IS NOT NULL AND started_at IS NOT NULL), 0) AS avg_duration_ms
		FROM agent_task
		GROUP BY agent_type
		ORDER BY agent_type
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Transient("STATS_AGENTS_FAILED", "failed to aggregate agent task stats", err)
	}
	defer rows.Close()

	var out []AgentStat
	for rows.Next() {
		var s AgentStat
		if err := rows.Scan(&s.AgentType, &s.TotalTasks, &s.CompletedTasks, &s.FailedTasks, &s.AvgDurationMS); err != nil {
			return nil, apperr.Transient("STATS_AGENTS_FAILED", "failed to scan agent task stat row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("STATS_AGENTS_FAILED", "error iterating agent task stats", err)
	}
	return out, nil
}

// TimeSeriesPoint is one bucket of GET /api/v1/stats/timeseries.
type TimeSeriesPoint struct {
	Bucket    time.Time `json:"bucket"`
	Created   int       `json:"created"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
}

// timeSeriesBucket maps the period query parameter to a Postgres
// date_trunc unit and a lookback window, per spec.md §6's
// period=1h|24h|7d|30d.
func timeSeriesBucket(period string) (unit string, lookback time.Duration, err error) {
	switch period {
	case "1h":
		return "minute", time.Hour, nil
	case "24h":
		return "hour", 24 * time.Hour, nil
	case "7d":
		return "day", 7 * 24 * time.Hour, nil
	case "30d":
		return "day", 30 * 24 * time.Hour, nil
	default:
		return "", 0, apperr.Validationf("REQUEST_INVALID", "unsupported period %q (use 1h, 24h, 7d, or 30d)", period)
	}
}

func (r *StatsRepository) TimeSeries(ctx context.Context, period string) ([]TimeSeriesPoint, error) {
	unit, lookback, err := timeSeriesBucket(period)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			date_trunc('%s', created_at) AS bucket,
			count(*) AS created,
			count(*) FILTER (WHERE status = 'completed') AS completed,
			count(*) FILTER (WHERE status = 'failed') AS failed
		FROM workflow
		WHERE created_at >= $1
		GROUP BY bucket
		ORDER BY bucket
	`, unit)

	rows, err := r.db.Query(ctx, query, time.Now().Add(-lookback))
	if err != nil {
		return nil, apperr.Transient("STATS_TIMESERIES_FAILED", "failed to aggregate workflow timeseries", err)
	}
	defer rows.Close()

	var out []TimeSeriesPoint
	for rows.Next() {
		var p TimeSeriesPoint
		if err := rows.Scan(&p.Bucket, &p.Created, &p.Completed, &p.Failed); err != nil {
			return nil, apperr.Transient("STATS_TIMESERIES_FAILED", "failed to scan workflow timeseries row", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("STATS_TIMESERIES_FAILED", "error iterating workflow timeseries", err)
	}
	return out, nil
}

// WorkflowTypeStat is one row of GET /api/v1/stats/workflows.
type WorkflowTypeStat struct {
	Type          string  `json:"type"`
	Count         int     `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

func (r *StatsRepository) WorkflowStats(ctx context.Context) ([]WorkflowTypeStat, error) {
	query := `
		SELECT
			type,
			count(*) AS total,
			coalesce(avg(extract(epoch FROM (updated_at - created_at)) * 1000)
				FILTER (WHERE status IN ('completed', 'failed', 'cancelled')), 0) AS avg_duration_ms
		FROM workflow
		GROUP BY type
		ORDER BY type
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Transient("STATS_WORKFLOWS_FAILED", "failed to aggregate workflow type stats", err)
	}
	defer rows.Close()

	var out []WorkflowTypeStat
	for rows.Next() {
		var s WorkflowTypeStat
		if err := rows.Scan(&s.Type, &s.Count, &s.AvgDurationMS); err != nil {
			return nil, apperr.Transient("STATS_WORKFLOWS_FAILED", "failed to scan workflow type stat row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("STATS_WORKFLOWS_FAILED", "error iterating workflow type stats", err)
	}
	return out, nil
}

package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/repository"
)

// TraceHandler serves the tracing read endpoints. Per spec.md §3, a Span is
// "derivable from Workflow/AgentTask; may be a view, not a separate table",
// so this handler builds spans from those two repositories rather than a
// dedicated span store.
type TraceHandler struct {
	c *container.Container
}

func NewTraceHandler(c *container.Container) *TraceHandler {
	return &TraceHandler{c: c}
}

// TraceSummary is one row of GET /api/v1/traces.
type TraceSummary struct {
	TraceID    string    `json:"trace_id"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListTraces handles GET /api/v1/traces — one row per workflow, since a
// trace spans exactly one workflow's lifetime (spec.md §4.9).
func (h *TraceHandler) ListTraces(c echo.Context) error {
	var filter repository.ListFilter
	filter.Status = c.QueryParam("status")
	workflows, err := h.c.Workflows.List(c.Request().Context(), filter)
	if err != nil {
		return writeErr(c, err)
	}
	out := make([]TraceSummary, 0, len(workflows))
	for _, w := range workflows {
		out = append(out, TraceSummary{
			TraceID:    w.TraceID,
			WorkflowID: w.ID.String(),
			Status:     w.Status,
			CreatedAt:  w.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GetTrace handles GET /api/v1/traces/{id}.
func (h *TraceHandler) GetTrace(c echo.Context) error {
	traceID := c.Param("id")
	if traceID == "" {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "trace id is required"))
	}
	w, err := h.c.Workflows.GetByTraceID(c.Request().Context(), traceID)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// Span is one timed unit of work within a trace: either the workflow's own
// root span or one per-stage AgentTask.
type Span struct {
	SpanID       string     `json:"span_id"`
	ParentSpanID string     `json:"parent_span_id,omitempty"`
	TraceID      string     `json:"trace_id"`
	Name         string     `json:"name"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
}

// ListSpans handles GET /api/v1/traces/{id}/spans.
func (h *TraceHandler) ListSpans(c echo.Context) error {
	traceID := c.Param("id")
	if traceID == "" {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "trace id is required"))
	}
	w, err := h.c.Workflows.GetByTraceID(c.Request().Context(), traceID)
	if err != nil {
		return writeErr(c, err)
	}
	tasks, err := h.c.Tasks.ListByTraceID(c.Request().Context(), traceID)
	if err != nil {
		return writeErr(c, err)
	}

	spans := make([]Span, 0, len(tasks)+1)
	spans = append(spans, Span{
		SpanID:    w.CurrentSpanID,
		TraceID:   w.TraceID,
		Name:      "workflow:" + w.Type,
		StartedAt: &w.CreatedAt,
	})
	for _, t := range tasks {
		s := Span{
			SpanID:       t.SpanID,
			ParentSpanID: t.ParentSpanID,
			TraceID:      t.TraceID,
			Name:         "stage:" + t.Stage,
			StartedAt:    t.StartedAt,
			CompletedAt:  t.CompletedAt,
		}
		if t.StartedAt != nil && t.CompletedAt != nil {
			s.DurationMS = t.CompletedAt.Sub(*t.StartedAt).Milliseconds()
		}
		spans = append(spans, s)
	}
	return c.JSON(http.StatusOK, spans)
}

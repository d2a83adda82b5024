package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
	custommw "github.com/lyzr/orchestrator/cmd/orchestratord/middleware"
	"github.com/lyzr/orchestrator/cmd/orchestratord/models"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/repository"
	"github.com/lyzr/orchestrator/internal/statemachine"
	"github.com/lyzr/orchestrator/internal/surface"
)

// WorkflowHandler serves the workflow and task endpoints of spec.md §6.
type WorkflowHandler struct {
	c *container.Container
}

func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

func writeErr(c echo.Context, err error) error {
	return c.JSON(apperr.HTTPStatus(err), apperr.ToHTTPBody(err))
}

// CreateWorkflow handles POST /api/v1/workflows.
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	var req models.CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "request body is not valid JSON"))
	}

	wf, err := h.c.Router.CreateFromREST(c.Request().Context(), surface.RESTRequest{
		Type:           req.Type,
		DefinitionName: req.DefinitionName,
		PlatformID:     req.PlatformID,
		Payload:        req.Payload,
	}, custommw.GetUsername(c), nil)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, models.FromWorkflow(wf))
}

// ListWorkflows handles GET /api/v1/workflows.
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	var filter repository.ListFilter
	filter.Status = c.QueryParam("status")
	filter.Type = c.QueryParam("type")
	if pid := c.QueryParam("platform_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return writeErr(c, apperr.Validation("REQUEST_INVALID", "platform_id is not a valid UUID"))
		}
		filter.PlatformID = &id
	}
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		filter.Offset = offset
	}

	wfs, err := h.c.Workflows.List(c.Request().Context(), filter)
	if err != nil {
		return writeErr(c, err)
	}
	out := make([]models.WorkflowResponse, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, models.FromWorkflow(wf))
	}
	return c.JSON(http.StatusOK, out)
}

// GetWorkflow handles GET /api/v1/workflows/{id}.
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	wf, err := h.c.Workflows.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, models.FromWorkflow(wf))
}

// CancelWorkflow handles POST /api/v1/workflows/{id}/cancel.
func (h *WorkflowHandler) CancelWorkflow(c echo.Context) error {
	return h.transition(c, statemachine.Event{Type: statemachine.EventCancel})
}

// RetryWorkflow handles POST /api/v1/workflows/{id}/retry.
func (h *WorkflowHandler) RetryWorkflow(c echo.Context) error {
	var req models.RetryRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "request body is not valid JSON"))
	}
	if req.FromStage == "" {
		return writeErr(c, apperr.Validation(apperr.CodeInvalidRetryStage, "from_stage is required"))
	}
	return h.transition(c, statemachine.Event{Type: statemachine.EventRetry, FromStage: req.FromStage})
}

// transition loads the workflow's definition, feeds event to the FSM
// directly (bypassing the bus — these are synchronous admin operations, not
// agent results), and dispatches whatever effects come back.
func (h *WorkflowHandler) transition(c echo.Context, event statemachine.Event) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}

	wf, err := h.c.Workflows.GetByID(ctx, id)
	if err != nil {
		return writeErr(c, err)
	}
	if statemachine.IsTerminal(statemachine.Status(wf.Status)) {
		return writeErr(c, apperr.BusinessRule(apperr.CodeWorkflowTerminal, "workflow is already terminal"))
	}

	if err := h.c.Orchestrator.ApplyAdminEvent(ctx, wf, event); err != nil {
		return writeErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListWorkflowTasks handles GET /api/v1/workflows/{id}/tasks.
func (h *WorkflowHandler) ListWorkflowTasks(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	tasks, err := h.c.Tasks.ListByWorkflow(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	out := make([]models.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, models.FromTask(t))
	}
	return c.JSON(http.StatusOK, out)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *WorkflowHandler) GetTask(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	task, err := h.c.Tasks.GetByTaskID(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, models.FromTask(task))
}

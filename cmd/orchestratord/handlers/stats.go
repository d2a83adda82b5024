package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
)

// StatsHandler serves the read-only aggregate endpoints behind
// GET /api/v1/stats/*.
type StatsHandler struct {
	c *container.Container
}

func NewStatsHandler(c *container.Container) *StatsHandler {
	return &StatsHandler{c: c}
}

func (h *StatsHandler) Overview(c echo.Context) error {
	out, err := h.c.Stats.Overview(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *StatsHandler) Agents(c echo.Context) error {
	out, err := h.c.Stats.AgentStats(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// TimeSeries handles GET /api/v1/stats/timeseries?period=1h|24h|7d|30d.
func (h *StatsHandler) TimeSeries(c echo.Context) error {
	period := c.QueryParam("period")
	if period == "" {
		period = "24h"
	}
	out, err := h.c.Stats.TimeSeries(c.Request().Context(), period)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *StatsHandler) Workflows(c echo.Context) error {
	out, err := h.c.Stats.WorkflowStats(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

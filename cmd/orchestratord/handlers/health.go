package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
)

// HealthHandler serves GET /health, /health/ready, /health/detailed.
type HealthHandler struct {
	c *container.Container
}

func NewHealthHandler(c *container.Container) *HealthHandler {
	return &HealthHandler{c: c}
}

// Liveness handles GET /health: the process is up, nothing more.
func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness handles GET /health/ready: every dependency must respond.
func (h *HealthHandler) Readiness(c echo.Context) error {
	if err := h.c.Components.Health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// Detailed handles GET /health/detailed: per-dependency diagnostics for
// operator troubleshooting, not just an aggregate pass/fail.
func (h *HealthHandler) Detailed(c echo.Context) error {
	ctx := c.Request().Context()
	deps := map[string]string{}

	if err := h.c.Components.DB.Health(ctx); err != nil {
		deps["database"] = err.Error()
	} else {
		deps["database"] = "ok"
	}
	if h.c.Components.Bus != nil {
		if _, err := h.c.Components.Bus.Health(ctx); err != nil {
			deps["bus"] = err.Error()
		} else {
			deps["bus"] = "ok"
		}
	}
	if h.c.Components.KV != nil {
		if _, err := h.c.Components.KV.Health(ctx); err != nil {
			deps["kv"] = err.Error()
		} else {
			deps["kv"] = "ok"
		}
	}

	status := http.StatusOK
	for _, v := range deps {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	return c.JSON(status, map[string]interface{}{"dependencies": deps})
}

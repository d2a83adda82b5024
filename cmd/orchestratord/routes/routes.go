// Package routes registers every echo.Group for orchestratord, mirroring
// the teacher's routes/ -> handlers/ layering (one RegisterXRoutes function
// per resource family).
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
	"github.com/lyzr/orchestrator/cmd/orchestratord/handlers"
	custommw "github.com/lyzr/orchestrator/cmd/orchestratord/middleware"
	"github.com/google/uuid"
)

// RegisterWorkflowRoutes wires POST/GET/workflow-lifecycle endpoints.
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	wf := e.Group("/api/v1/workflows")
	wf.Use(custommw.ExtractUsername(), custommw.WithTrace())
	wf.POST("", h.CreateWorkflow)
	wf.GET("", h.ListWorkflows)
	wf.GET("/:id", h.GetWorkflow)
	wf.POST("/:id/cancel", h.CancelWorkflow)
	wf.POST("/:id/retry", h.RetryWorkflow)
	wf.GET("/:id/tasks", h.ListWorkflowTasks)

	e.GET("/api/v1/tasks/:id", h.GetTask, custommw.WithTrace())
}

// RegisterPlatformRoutes wires platform/definition/surface CRUD.
func RegisterPlatformRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPlatformHandler(c)

	p := e.Group("/api/v1/platforms")
	p.POST("", h.CreatePlatform)
	p.GET("", h.ListPlatforms)
	p.GET("/:id", h.GetPlatform)
	p.PUT("/:id", h.UpdatePlatform)
	p.DELETE("/:id", h.DeletePlatform)
	p.POST("/:id/definitions", h.CreateDefinition)
	p.GET("/:id/definitions", h.ListDefinitions)
	p.GET("/:id/definitions/:defID", h.GetDefinition)
	p.DELETE("/:id/definitions/:defID", h.DeleteDefinition)
	p.GET("/:id/surfaces", h.ListSurfaces)
	p.PUT("/:id/surfaces/:type", h.UpsertSurface)
}

// RegisterStatsRoutes wires the read-only aggregate endpoints.
func RegisterStatsRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewStatsHandler(c)

	s := e.Group("/api/v1/stats")
	s.GET("/overview", h.Overview)
	s.GET("/agents", h.Agents)
	s.GET("/timeseries", h.TimeSeries)
	s.GET("/workflows", h.Workflows)
}

// RegisterTraceRoutes wires the tracing read endpoints, derived entirely
// from Workflow/AgentTask rows per spec.md §3 ("Span... may be a view, not
// a separate table").
func RegisterTraceRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewTraceHandler(c)

	e.GET("/api/v1/traces", h.ListTraces)
	e.GET("/api/v1/traces/:id", h.GetTrace)
	e.GET("/api/v1/traces/:id/spans", h.ListSpans)
}

// RegisterWebhookRoutes wires the webhook surface. secrets maps platform_id
// to its registered webhook HMAC secret; an empty map disables the surface
// but still mounts the route (so misconfiguration surfaces as 403, not 404).
func RegisterWebhookRoutes(e *echo.Echo, c *container.Container, secrets map[uuid.UUID][]byte) {
	h := handlers.NewWebhookHandler(c, secrets)
	e.POST("/api/v1/github/webhook", h.GitHubWebhook)
}

// RegisterHealthRoutes wires liveness/readiness/detailed health checks.
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c)
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
	e.GET("/health/detailed", h.Detailed)
}

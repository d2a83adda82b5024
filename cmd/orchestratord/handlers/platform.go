package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/definition"
	"github.com/lyzr/orchestrator/internal/repository"
)

// encodeConfig re-marshals an already-decoded JSON object back into a
// json.RawMessage for storage; nil input yields nil (column left NULL).
func encodeConfig(m map[string]interface{}) json.RawMessage {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

// PlatformHandler serves the platform/definition/surface CRUD endpoints.
type PlatformHandler struct {
	c *container.Container
}

func NewPlatformHandler(c *container.Container) *PlatformHandler {
	return &PlatformHandler{c: c}
}

type platformRequest struct {
	Name    string                   `json:"name"`
	Layer   repository.PlatformLayer `json:"layer"`
	Enabled *bool                    `json:"enabled"`
	Config  map[string]interface{}   `json:"config"`
}

func (h *PlatformHandler) CreatePlatform(c echo.Context) error {
	var req platformRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "name is required"))
	}
	if req.Layer == "" {
		req.Layer = repository.LayerApplication
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := time.Now()
	p := &repository.Platform{
		ID:        uuid.New(),
		Name:      req.Name,
		Layer:     req.Layer,
		Enabled:   enabled,
		Config:    encodeConfig(req.Config),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.c.Platforms.Create(c.Request().Context(), p); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// UpdatePlatform handles PUT /api/v1/platforms/{id}.
func (h *PlatformHandler) UpdatePlatform(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	existing, err := h.c.Platforms.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	var req platformRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "request body is not valid JSON"))
	}
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Layer != "" {
		existing.Layer = req.Layer
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if req.Config != nil {
		existing.Config = encodeConfig(req.Config)
	}
	existing.UpdatedAt = time.Now()
	if err := h.c.Platforms.Update(c.Request().Context(), existing); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, existing)
}

func (h *PlatformHandler) ListPlatforms(c echo.Context) error {
	platforms, err := h.c.Platforms.List(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, platforms)
}

func (h *PlatformHandler) GetPlatform(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	p, err := h.c.Platforms.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *PlatformHandler) DeletePlatform(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	if err := h.c.Platforms.Delete(c.Request().Context(), id); err != nil {
		return writeErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDefinitions handles GET /api/v1/platforms/{id}/definitions.
func (h *PlatformHandler) ListDefinitions(c echo.Context) error {
	platformID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	defs, err := h.c.Definitions.ListByPlatform(c.Request().Context(), platformID)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, defs)
}

// GetDefinition handles GET /api/v1/platforms/{id}/definitions/{defID}.
func (h *PlatformHandler) GetDefinition(c echo.Context) error {
	defID, err := uuid.Parse(c.Param("defID"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "definition id is not a valid UUID"))
	}
	def, err := h.c.Definitions.GetByID(c.Request().Context(), defID)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// DeleteDefinition handles DELETE /api/v1/platforms/{id}/definitions/{defID}.
func (h *PlatformHandler) DeleteDefinition(c echo.Context) error {
	defID, err := uuid.Parse(c.Param("defID"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "definition id is not a valid UUID"))
	}
	if err := h.c.Definitions.Delete(c.Request().Context(), defID); err != nil {
		return writeErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type surfaceRequest struct {
	SurfaceType repository.SurfaceType `json:"surface_type"`
	Enabled     bool                   `json:"enabled"`
}

// UpsertSurface handles PUT /api/v1/platforms/{id}/surfaces/{type}.
func (h *PlatformHandler) UpsertSurface(c echo.Context) error {
	platformID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	var req surfaceRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "request body is not valid JSON"))
	}
	req.SurfaceType = repository.SurfaceType(c.Param("type"))

	now := time.Now()
	s := &repository.PlatformSurface{
		ID:          uuid.New(),
		PlatformID:  platformID,
		SurfaceType: req.SurfaceType,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.c.Surfaces.Upsert(c.Request().Context(), s); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// ListSurfaces handles GET /api/v1/platforms/{id}/surfaces.
func (h *PlatformHandler) ListSurfaces(c echo.Context) error {
	platformID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	surfaces, err := h.c.Surfaces.ListByPlatform(c.Request().Context(), platformID)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, surfaces)
}

type definitionRequest struct {
	Name    string                       `json:"name"`
	Version string                       `json:"version"`
	Stages  []definition.StageDefinition `json:"stages"`
}

// CreateDefinition handles POST /api/v1/platforms/{id}/definitions. The
// definition is rejected outright (no row persisted) unless it passes
// definition.Validate against the live agent registry, per spec.md §4.4.
func (h *PlatformHandler) CreateDefinition(c echo.Context) error {
	platformID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "id is not a valid UUID"))
	}
	var req definitionRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "request body is not valid JSON"))
	}
	if req.Name == "" || req.Version == "" {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "name and version are required"))
	}

	now := time.Now()
	def := &definition.Definition{
		ID:         uuid.New(),
		PlatformID: &platformID,
		Name:       req.Name,
		Version:    req.Version,
		Stages:     req.Stages,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := definition.Validate(def, h.c.Components.Registry); err != nil {
		return writeErr(c, apperr.Validationf("DEFINITION_INVALID", "%v", err))
	}
	if err := h.c.Definitions.Create(c.Request().Context(), def); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, def)
}

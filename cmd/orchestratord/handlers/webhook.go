package handlers

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/surface"
)

// WebhookHandler serves POST /api/v1/github/webhook, the webhook surface.
type WebhookHandler struct {
	c *container.Container
	// webhookSecrets maps platform_id (from the query string, since GitHub
	// can't carry arbitrary headers beyond its own) to the HMAC secret
	// registered for that platform's webhook surface.
	webhookSecrets map[uuid.UUID][]byte
}

func NewWebhookHandler(c *container.Container, secrets map[uuid.UUID][]byte) *WebhookHandler {
	return &WebhookHandler{c: c, webhookSecrets: secrets}
}

func (h *WebhookHandler) GitHubWebhook(c echo.Context) error {
	platformID, err := uuid.Parse(c.QueryParam("platform_id"))
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "platform_id query parameter is required"))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeErr(c, apperr.Validation("REQUEST_INVALID", "failed to read request body"))
	}

	secret, ok := h.webhookSecrets[platformID]
	if !ok {
		return writeErr(c, apperr.BusinessRule(apperr.CodeSurfaceNotBound, "no webhook secret registered for this platform"))
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	if !surface.VerifyHMAC(secret, body, signature) {
		return writeErr(c, apperr.Validation(apperr.CodeBadHMAC, "webhook signature verification failed"))
	}

	wf, err := h.c.Router.CreateFromWebhook(c.Request().Context(), surface.WebhookRequest{
		PlatformID:     platformID,
		DefinitionName: c.QueryParam("definition_name"),
		Payload:        body,
	}, uuid.New())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"workflow_id": wf.ID})
}

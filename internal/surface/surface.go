// Package surface normalizes the five surfaces (REST, webhook, CLI,
// dashboard, mobile) into a uniform orchestrator.CreateWorkflowRequest plus
// a SurfaceContext, and enforces the platform/surface binding check before
// handoff. Each surface's normalization is a small single-purpose function,
// matching the teacher's http-worker/security validator-per-concern style.
package surface

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/orchestrator"
	"github.com/lyzr/orchestrator/internal/repository"
)

// Router normalizes per-surface payloads into orchestrator.CreateWorkflowRequest
// and drives workflow creation through the orchestration service.
type Router struct {
	service *orchestrator.Service
}

func NewRouter(service *orchestrator.Service) *Router {
	return &Router{service: service}
}

// RESTRequest is the wire shape of POST /api/v1/workflows.
type RESTRequest struct {
	Type           string          `json:"type"`
	DefinitionName string          `json:"definition_name"`
	PlatformID     *uuid.UUID      `json:"platform_id"`
	Payload        json.RawMessage `json:"payload"`
}

// CreateFromREST handles a direct REST workflow-creation request. surfaceID
// is the platform's registered REST PlatformSurface row, looked up by the
// caller (the HTTP handler knows the platform from auth, not this package).
func (r *Router) CreateFromREST(ctx context.Context, req RESTRequest, createdBy string, surfaceID *uuid.UUID) (*repository.Workflow, error) {
	wfReq := orchestrator.CreateWorkflowRequest{
		Type:           req.Type,
		DefinitionName: req.DefinitionName,
		PlatformID:     req.PlatformID,
		Payload:        req.Payload,
		CreatedBy:      createdBy,
	}
	var surfaceCtx *orchestrator.SurfaceContext
	if req.PlatformID != nil {
		id := uuid.New()
		if surfaceID != nil {
			id = *surfaceID
		}
		surfaceCtx = &orchestrator.SurfaceContext{
			SurfaceID:   id,
			SurfaceType: repository.SurfaceREST,
		}
	}
	return r.service.CreateWorkflow(ctx, wfReq, surfaceCtx)
}

// WebhookRequest is the wire shape of an inbound webhook delivery, e.g.
// POST /api/v1/github/webhook.
type WebhookRequest struct {
	PlatformID     uuid.UUID       `json:"platform_id"`
	DefinitionName string          `json:"definition_name"`
	Payload        json.RawMessage `json:"payload"`
}

// VerifyHMAC checks an inbound webhook's X-Hub-Signature-256-style header
// (hex-encoded HMAC-SHA256 of the raw body, keyed by the platform's webhook
// secret) using constant-time comparison.
func VerifyHMAC(secret, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}

// CreateFromWebhook handles a signature-verified webhook delivery.
// VerifyHMAC must have already passed; this function does not re-check it.
func (r *Router) CreateFromWebhook(ctx context.Context, req WebhookRequest, surfaceID uuid.UUID) (*repository.Workflow, error) {
	wfReq := orchestrator.CreateWorkflowRequest{
		DefinitionName: req.DefinitionName,
		PlatformID:     &req.PlatformID,
		Payload:        req.Payload,
		CreatedBy:      "webhook",
	}
	surfaceCtx := &orchestrator.SurfaceContext{
		SurfaceID:   surfaceID,
		SurfaceType: repository.SurfaceWebhook,
	}
	return r.service.CreateWorkflow(ctx, wfReq, surfaceCtx)
}

// CLIRequest is the normalized shape of a CLI-submitted workflow.
type CLIRequest struct {
	Type       string
	PlatformID *uuid.UUID
	Args       map[string]string
	CreatedBy  string
}

func (r *Router) CreateFromCLI(ctx context.Context, req CLIRequest, surfaceID *uuid.UUID) (*repository.Workflow, error) {
	payload, err := json.Marshal(req.Args)
	if err != nil {
		return nil, apperr.Validationf("SURFACE_PAYLOAD_INVALID", "cli args did not marshal to JSON: %v", err)
	}
	wfReq := orchestrator.CreateWorkflowRequest{
		Type:       req.Type,
		PlatformID: req.PlatformID,
		Payload:    payload,
		CreatedBy:  req.CreatedBy,
	}
	surfaceCtx := surfaceContextFor(req.PlatformID, repository.SurfaceCLI, surfaceID)
	return r.service.CreateWorkflow(ctx, wfReq, surfaceCtx)
}

// DashboardRequest is the normalized shape of a dashboard form submission.
type DashboardRequest struct {
	DefinitionName string
	PlatformID     *uuid.UUID
	FormData       json.RawMessage
	CreatedBy      string
}

func (r *Router) CreateFromDashboard(ctx context.Context, req DashboardRequest, surfaceID *uuid.UUID) (*repository.Workflow, error) {
	wfReq := orchestrator.CreateWorkflowRequest{
		DefinitionName: req.DefinitionName,
		PlatformID:     req.PlatformID,
		Payload:        req.FormData,
		CreatedBy:      req.CreatedBy,
	}
	surfaceCtx := surfaceContextFor(req.PlatformID, repository.SurfaceDashboard, surfaceID)
	return r.service.CreateWorkflow(ctx, wfReq, surfaceCtx)
}

// MobileRequest is the normalized shape of a mobile-API workflow submission.
type MobileRequest struct {
	DefinitionName string
	PlatformID     *uuid.UUID
	Payload        json.RawMessage
	CreatedBy      string
}

func (r *Router) CreateFromMobile(ctx context.Context, req MobileRequest, surfaceID *uuid.UUID) (*repository.Workflow, error) {
	wfReq := orchestrator.CreateWorkflowRequest{
		DefinitionName: req.DefinitionName,
		PlatformID:     req.PlatformID,
		Payload:        req.Payload,
		CreatedBy:      req.CreatedBy,
	}
	surfaceCtx := surfaceContextFor(req.PlatformID, repository.SurfaceMobile, surfaceID)
	return r.service.CreateWorkflow(ctx, wfReq, surfaceCtx)
}

// surfaceContextFor builds a SurfaceContext only for platform-scoped
// requests; unscoped (legacy, internal-trust) requests skip the binding
// check entirely by returning nil, per orchestrator.CreateWorkflow's
// documented contract.
func surfaceContextFor(platformID *uuid.UUID, surfaceType repository.SurfaceType, surfaceID *uuid.UUID) *orchestrator.SurfaceContext {
	if platformID == nil {
		return nil
	}
	id := uuid.New()
	if surfaceID != nil {
		id = *surfaceID
	}
	return &orchestrator.SurfaceContext{SurfaceID: id, SurfaceType: surfaceType}
}

// Package notifier delivers lifecycle events to a platform's registered
// webhook callback URL (PlatformSurface.Config.callback_url for the WEBHOOK
// surface), as an outbound push alternative to polling the REST API or
// subscribing to the WebSocket fanout. Every delivery goes through a
// per-platform circuit breaker so a dead or slow callback endpoint degrades
// gracefully instead of blocking lifecycle-event publication.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/breaker"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/repository"
)

type surfaceConfig struct {
	CallbackURL string `json:"callback_url"`
}

// Notifier POSTs lifecycle event bodies to platform webhook callbacks.
type Notifier struct {
	surfaces *repository.SurfaceRepository
	breakers *breaker.Manager
	client   *http.Client
	log      *logger.Logger
}

func New(surfaces *repository.SurfaceRepository, log *logger.Logger) *Notifier {
	return &Notifier{
		surfaces: surfaces,
		breakers: breaker.NewManager(breaker.DefaultSettings, log),
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Notify looks up the platform's webhook surface config and, if a callback
// URL is registered, delivers body to it through that platform's breaker.
// Failures are logged, not returned — lifecycle-event publication must
// never block or fail because an external subscriber is unreachable.
func (n *Notifier) Notify(ctx context.Context, platformID uuid.UUID, eventType string, body []byte) {
	surfaces, err := n.surfaces.ListByPlatform(ctx, platformID)
	if err != nil {
		n.log.Warn("failed to look up platform surfaces for outbound notification", "platform_id", platformID, "error", err)
		return
	}

	for _, s := range surfaces {
		if s.SurfaceType != repository.SurfaceWebhook || !s.Enabled || len(s.Config) == 0 {
			continue
		}
		var cfg surfaceConfig
		if err := json.Unmarshal(s.Config, &cfg); err != nil || cfg.CallbackURL == "" {
			continue
		}

		breakerName := "webhook:" + platformID.String()
		err := n.breakers.Do(ctx, breakerName, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.CallbackURL, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := n.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 500 {
				return httpStatusError(resp.StatusCode)
			}
			return nil
		})
		if err != nil {
			n.log.Warn("outbound webhook notification failed", "platform_id", platformID, "event_type", eventType, "error", err)
		}
	}
}

type httpStatusError int

func (e httpStatusError) Error() string {
	return "callback endpoint returned a server error status"
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/orchestrator/cmd/orchestratord/container"
	"github.com/lyzr/orchestrator/cmd/orchestratord/routes"
	"github.com/lyzr/orchestrator/common/bootstrap"
	"github.com/lyzr/orchestrator/internal/bus"
	"github.com/lyzr/orchestrator/internal/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "orchestratord")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap orchestratord: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	serviceContainer, err := container.New(ctx, components)
	if err != nil {
		components.Logger.Error("failed to initialize service container", "error", err)
		os.Exit(1)
	}

	resultsConsumerID := fmt.Sprintf("orchestratord-%d", os.Getpid())
	resultsSub, err := serviceContainer.Orchestrator.Start(ctx, resultsConsumerID)
	if err != nil {
		components.Logger.Error("failed to start results subscription", "error", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	routes.RegisterHealthRoutes(e, serviceContainer)
	routes.RegisterWorkflowRoutes(e, serviceContainer)
	routes.RegisterPlatformRoutes(e, serviceContainer)
	routes.RegisterStatsRoutes(e, serviceContainer)
	routes.RegisterTraceRoutes(e, serviceContainer)
	webhookSecrets, err := loadWebhookSecrets(ctx, serviceContainer.Surfaces)
	if err != nil {
		components.Logger.Error("failed to load webhook secrets", "error", err)
		os.Exit(1)
	}
	routes.RegisterWebhookRoutes(e, serviceContainer, webhookSecrets)

	go func() {
		port := components.Config.Service.Port
		components.Logger.Info("orchestratord listening", "port", port)
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
			components.Logger.Info("http server stopped", "reason", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	components.Logger.Info("received shutdown signal, starting graceful shutdown", "signal", sig)

	gracefulShutdown(components, e, resultsSub)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

type webhookSurfaceConfig struct {
	HMACSecret string `json:"hmac_secret"`
}

// loadWebhookSecrets preloads every enabled WEBHOOK surface's HMAC secret
// from PlatformSurface.Config at startup. A platform whose config carries
// no hmac_secret is simply absent from the map, which GitHubWebhook treats
// as CodeSurfaceNotBound rather than accepting an unverifiable request.
func loadWebhookSecrets(ctx context.Context, surfaces *repository.SurfaceRepository) (map[uuid.UUID][]byte, error) {
	bound, err := surfaces.ListBySurfaceType(ctx, repository.SurfaceWebhook)
	if err != nil {
		return nil, err
	}

	secrets := make(map[uuid.UUID][]byte, len(bound))
	for _, s := range bound {
		if len(s.Config) == 0 {
			continue
		}
		var cfg webhookSurfaceConfig
		if err := json.Unmarshal(s.Config, &cfg); err != nil || cfg.HMACSecret == "" {
			continue
		}
		secrets[s.PlatformID] = []byte(cfg.HMACSecret)
	}
	return secrets, nil
}

type shutdownPhase struct {
	name     string
	fn       func(context.Context) error
	deadline time.Duration
}

// gracefulShutdown runs this binary's slice of spec.md §5's 6-phase
// sequence: stop accepting new HTTP requests (echo's own drain-in-flight
// behavior covers the "bounded wait" phase), close the results
// subscription, then close DB/bus/KV via components.Shutdown. The
// task-subscription and outbound-publish-flush phases belong to the agent
// worker processes, not this binary, which only ever subscribes to
// orchestrator:results. Each phase has its own deadline; exceeding it logs
// and moves on rather than blocking shutdown indefinitely.
func gracefulShutdown(components *bootstrap.Components, e *echo.Echo, resultsSub bus.Subscription) {
	phases := []shutdownPhase{
		{
			name:     "stop accepting new http requests",
			deadline: 5 * time.Second,
			fn: func(ctx context.Context) error {
				return e.Shutdown(ctx)
			},
		},
		{
			name:     "close results subscription",
			deadline: 10 * time.Second,
			fn: func(ctx context.Context) error {
				return resultsSub.Unsubscribe(ctx)
			},
		},
		{
			name:     "close db/bus/kv connections",
			deadline: 10 * time.Second,
			fn: func(ctx context.Context) error {
				return components.Shutdown(ctx)
			},
		},
	}

	for _, phase := range phases {
		ctx, cancel := context.WithTimeout(context.Background(), phase.deadline)
		if err := phase.fn(ctx); err != nil {
			components.Logger.Warn("shutdown phase did not complete cleanly", "phase", phase.name, "error", err)
		} else {
			components.Logger.Info("shutdown phase complete", "phase", phase.name)
		}
		cancel()
	}
}

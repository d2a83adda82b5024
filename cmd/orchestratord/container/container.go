// Package container wires the orchestration core's dependencies bottom-up,
// once, at process startup — mirroring the teacher's singleton-container
// pattern.
package container

import (
	"context"
	"fmt"

	"github.com/lyzr/orchestrator/common/bootstrap"
	"github.com/lyzr/orchestrator/internal/definition"
	"github.com/lyzr/orchestrator/internal/notifier"
	"github.com/lyzr/orchestrator/internal/orchestrator"
	"github.com/lyzr/orchestrator/internal/repository"
	"github.com/lyzr/orchestrator/internal/statemachine"
	"github.com/lyzr/orchestrator/internal/surface"
)

// Container holds every initialized repository, service, and the HTTP
// surface router, built once and shared across handlers.
type Container struct {
	Components *bootstrap.Components

	Workflows   *repository.WorkflowRepository
	Definitions *repository.DefinitionRepository
	Surfaces    *repository.SurfaceRepository
	Tasks       *repository.TaskRepository
	Platforms   *repository.PlatformRepository
	Stats       *repository.StatsRepository

	Orchestrator *orchestrator.Service
	Router       *surface.Router
}

// New initializes every repository and service, bottom-up. components must
// already carry a live DB, Bus, KV, and Registry (bootstrap.Setup's
// default wiring).
func New(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	workflows := repository.NewWorkflowRepository(components.DB)
	definitions := repository.NewDefinitionRepository(components.DB)
	surfaces := repository.NewSurfaceRepository(components.DB)
	tasks := repository.NewTaskRepository(components.DB)
	platforms := repository.NewPlatformRepository(components.DB)
	stats := repository.NewStatsRepository(components.DB)

	legacyDefs, err := definition.LoadLegacyDefinitions(components.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to load legacy definitions: %w", err)
	}

	coordinator := statemachine.NewCoordinator(workflows, components.KV, components.Logger)
	notify := notifier.New(surfaces, components.Logger)

	svc := orchestrator.New(
		components.Bus,
		components.KV,
		components.Registry,
		workflows,
		definitions,
		surfaces,
		tasks,
		legacyDefs,
		coordinator,
		notify,
		components.Logger,
	)

	router := surface.NewRouter(svc)

	return &Container{
		Components:   components,
		Workflows:    workflows,
		Definitions:  definitions,
		Surfaces:     surfaces,
		Tasks:        tasks,
		Platforms:    platforms,
		Stats:        stats,
		Orchestrator: svc,
		Router:       router,
	}, nil
}

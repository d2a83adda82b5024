package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/orchestrator/common/cache"
	"github.com/lyzr/orchestrator/common/config"
	"github.com/lyzr/orchestrator/common/db"
	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/common/queue"
	"github.com/lyzr/orchestrator/common/telemetry"
	"github.com/lyzr/orchestrator/internal/bus/streamredis"
	"github.com/lyzr/orchestrator/internal/kv/rediskv"
	"github.com/lyzr/orchestrator/internal/registry"
	"github.com/lyzr/orchestrator/internal/repository"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		// Run DB init hook if provided
		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx) // Cleanup what we've initialized
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	} else {
		options.skipRegistry = true
	}

	// 4. Initialize queue (if not skipped)
	if !options.skipQueue {
		components.Logger.Info("initializing queue",
			"type", components.Config.Queue.Type,
		)

		switch components.Config.Queue.Type {
		case "memory":
			components.Queue = queue.NewMemoryQueue(components.Logger)
		case "kafka":
			// TODO: Implement Kafka queue for production
			return nil, fmt.Errorf("kafka queue not yet implemented")
		default:
			return nil, fmt.Errorf("unknown queue type: %s", components.Config.Queue.Type)
		}

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing queue")
			return components.Queue.Close()
		})
	}

	// 5. Initialize cache (if not skipped)
	if !options.skipCache && components.Config.Cache.Enabled {
		components.Logger.Info("initializing cache",
			"size_mb", components.Config.Cache.SizeMB,
		)

		// For MVP, always use memory cache
		components.Cache = cache.NewMemoryCache(components.Logger)

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 6. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && components.Config.Telemetry.EnablePprof {
		components.Logger.Info("initializing telemetry")
		components.Telemetry, err = telemetry.New(
			components.Config.Telemetry.PprofPort,
			components.Config.Telemetry.MetricsPort,
			components.Logger,
			serviceName,
			components.Config.Telemetry.OTLPEndpoint,
		)
		if err != nil {
			components.Logger.Warn("failed to initialize telemetry", "error", err)
		} else {
			if err := components.Telemetry.Start(ctx); err != nil {
				components.Logger.Warn("failed to start telemetry", "error", err)
				// Don't fail startup if telemetry fails
			}
			components.addCleanup(func() error {
				components.Logger.Info("shutting down tracer provider")
				return components.Telemetry.Shutdown(context.Background())
			})
		}
	}

	// 7. Initialize message bus (if not skipped)
	if !options.skipBus {
		components.Logger.Info("connecting to message bus")
		busOpt, err := redis.ParseURL(components.Config.Bus.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid bus URL: %w", err)
		}
		busClient := redis.NewClient(busOpt)
		adapter, err := streamredis.New(ctx, busClient, components.Logger, streamredis.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to message bus: %w", err)
		}
		components.Bus = adapter

		components.addCleanup(func() error {
			components.Logger.Info("closing message bus connection")
			return components.Bus.Close(context.Background())
		})
	}

	// 8. Initialize KV store (if not skipped)
	if !options.skipKV {
		components.Logger.Info("connecting to kv store")
		kvOpt, err := redis.ParseURL(components.Config.KV.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid kv URL: %w", err)
		}
		kvClient := redis.NewClient(kvOpt)
		components.KV = rediskv.New(kvClient, components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing kv connection")
			return kvClient.Close()
		})
	}

	// 9. Initialize agent registry (if not skipped; requires DB)
	if !options.skipRegistry {
		components.Logger.Info("initializing agent registry")
		loader := repository.NewAgentRepository(components.DB)
		reg := registry.New(loader, components.Logger)
		if err := reg.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start agent registry: %w", err)
		}
		components.Registry = reg

		components.addCleanup(func() error {
			components.Logger.Info("stopping agent registry")
			return components.Registry.Close()
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
		"telemetry", components.Telemetry != nil,
		"bus", components.Bus != nil,
		"kv", components.KV != nil,
		"registry", components.Registry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}

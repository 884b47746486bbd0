package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/telemetry"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/internal/queue/streams"
	"github.com/mohammad-safakhou/research-assistant/internal/store"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App is the set of components a process builds from one Config. Optional
// components are nil when their section is not configured.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *Telemetry
	Metrics   *telemetry.Telemetry

	Redis     *redis.Client
	Store     *store.Store
	Knowledge *knowledge.Base
	Gateway   provider.Gateway
	Tools     *tools.Registry
	Relay     *core.Relay

	EventSchemas *streams.SchemaRegistry
	Events       *streams.Publisher
}

// AppOptions selects what Build wires.
type AppOptions struct {
	Service string
	Version string
	// KnowledgeOnly skips the LLM gateway and the pipeline, for commands
	// that only touch the knowledge base.
	KnowledgeOnly bool
	// Migrate applies pending store migrations on startup.
	Migrate bool
}

// Build wires every configured component. On error everything opened so far
// is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts AppOptions) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	app.Telemetry, err = SetupTelemetry(ctx, cfg.Telemetry, TelemetryOptions{ServiceName: opts.Service, ServiceVersion: opts.Version}, logger)
	if err != nil {
		return nil, err
	}
	app.Metrics = telemetry.New(app.Telemetry.Registry, logger)

	if cfg.Knowledge.Backend == "redis" || cfg.Events.Enabled {
		app.Redis, err = OpenRedis(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
	}

	embedder, err := core.NewEmbedder(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	app.Knowledge, err = core.NewKnowledgeBase(ctx, cfg.Knowledge, app.Redis, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}
	if opts.KnowledgeOnly {
		return app, nil
	}

	app.Store, err = OpenStore(ctx, cfg.Storage.Postgres, opts.Migrate)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	gw, err := core.NewGateway(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("llm gateway: %w", err)
	}
	app.Gateway = gw
	app.Tools, err = core.NewToolRegistry(cfg.Tools, cfg.Pipeline, app.Knowledge, logger.Named("tools"))
	if err != nil {
		return nil, err
	}

	relayOpts := []core.Option{core.WithLogger(logger.Named("relay")), core.WithTelemetry(app.Metrics)}
	if cfg.Events.Enabled {
		app.EventSchemas, err = streams.NewResearchRegistry()
		if err != nil {
			return nil, fmt.Errorf("event schemas: %w", err)
		}
		app.Events, err = streams.NewPublisher(app.Redis, app.EventSchemas, cfg.Events.Stream, cfg.Events.MaxLen)
		if err != nil {
			return nil, fmt.Errorf("event publisher: %w", err)
		}
		relayOpts = append(relayOpts, core.WithSinks(streams.NewSink(app.Events, false)))
	}
	app.Relay = core.NewRelay(cfg.Pipeline, gw, app.Tools, relayOpts...)

	logger.Info("components ready",
		zap.Strings("tools", toolNames(app.Tools)),
		zap.String("knowledge_backend", cfg.Knowledge.Backend),
		zap.Bool("store", app.Store != nil),
		zap.Bool("events", app.Events != nil),
	)
	return app, nil
}

// RunSinks returns the per-run sinks for req, currently the run store
// recorder when Postgres is configured.
func (a *App) RunSinks(req core.Request) []core.Sink {
	if a == nil || a.Store == nil {
		return nil
	}
	return []core.Sink{store.NewRunSink(a.Store, req, a.Logger.Named("store"))}
}

// Close releases every opened component.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Knowledge != nil {
		if err := a.Knowledge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("knowledge: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func toolNames(reg *tools.Registry) []string {
	if reg == nil {
		return nil
	}
	var out []string
	for _, n := range reg.Names() {
		out = append(out, string(n))
	}
	return out
}

// -----------------------------------------------------------------------
// App - dependency wiring and lifecycle for the scrape engine
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/extract"
	"github.com/ternarybob/laboro/internal/fetch"
	"github.com/ternarybob/laboro/internal/handlers"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/logs"
	"github.com/ternarybob/laboro/internal/services/dedup"
	"github.com/ternarybob/laboro/internal/services/engine"
	"github.com/ternarybob/laboro/internal/services/events"
	"github.com/ternarybob/laboro/internal/services/executor"
	"github.com/ternarybob/laboro/internal/services/normalize"
	"github.com/ternarybob/laboro/internal/services/ratelimit"
	"github.com/ternarybob/laboro/internal/services/scheduler"
	"github.com/ternarybob/laboro/internal/services/worker"
	"github.com/ternarybob/laboro/internal/storage/badger"
)

// App owns every service and handler of the engine. Construction wires
// dependencies bottom-up; Start launches the background loops; Close tears
// everything down in reverse order.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	LogService     *logs.Service

	RateLimiter *ratelimit.Limiter
	Deduper     *dedup.Deduper
	Executor    *executor.Executor
	Pool        *worker.Pool
	Scheduler   *scheduler.Service
	Engine      *engine.Service
	Metrics     *engine.Metrics
	Normalizer  *normalize.Service

	// HTTP layer
	BoardHandler      *handlers.BoardHandler
	ScheduleHandler   *handlers.ScheduleHandler
	JobHandler        *handlers.JobHandler
	RunHandler        *handlers.RunHandler
	NormalizedHandler *handlers.NormalizedHandler
	DashboardHandler  *handlers.DashboardHandler
	EngineHandler     *handlers.EngineHandler
	SettingsHandler   *handlers.SettingsHandler
	LogsHandler       *handlers.LogsHandler
	HealthHandler     *handlers.HealthHandler
	WSHandler         *handlers.WebSocketHandler

	cancel context.CancelFunc
}

// New initializes the application with all dependencies. Nothing runs
// until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storage, err := badger.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storage

	app.EventService = events.NewService(logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	// The log ring drains arbor's context channel; registering the channel
	// makes every derived logger feed the ring behind /api/logs.
	app.LogService = logs.NewService(app.EventService, logger, cfg.Logging.BufferSize, cfg.Logging.MinEventLevel)
	app.LogService.Start()
	logger.SetChannel("context", app.LogService.Consumer().Channel())

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	logger.Info().
		Str("normalizer_mode", cfg.Normalizer.Mode).
		Int("max_concurrent_jobs", cfg.Engine.MaxConcurrentJobs).
		Msg("Application initialization complete")
	return app, nil
}

func (a *App) initServices() error {
	cfg := a.Config

	a.RateLimiter = ratelimit.NewLimiter(&cfg.RateLimit, a.Logger)

	deduper, err := dedup.NewDeduper()
	if err != nil {
		return fmt.Errorf("failed to create deduper: %w", err)
	}
	a.Deduper = deduper

	httpFetcher := fetch.NewHTTPFetcher(&cfg.Fetcher, a.Logger)
	browserFetcher := fetch.NewBrowserFetcher(&cfg.Fetcher, a.Logger)
	extractors := extract.NewSet(a.Logger)

	a.Executor = executor.NewExecutor(
		a.RateLimiter,
		httpFetcher,
		browserFetcher,
		extractors,
		a.Deduper,
		a.StorageManager,
		a.Logger,
	)

	a.Pool = worker.NewPool(a.Executor, a.StorageManager, a.EventService, &cfg.Engine, a.Logger)

	// The pool's admission gate also gates schedule firing.
	a.Scheduler = scheduler.NewService(a.StorageManager, a.EventService, a.Pool, &cfg.Scheduler, a.Logger)

	a.Metrics = engine.NewMetrics()
	a.Engine = engine.NewService(a.StorageManager, a.EventService, a.Pool, a.RateLimiter, a.Metrics, &cfg.Engine, a.Logger)

	backend, err := normalize.NewBackend(cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create normalizer backend: %w", err)
	}
	a.Normalizer = normalize.NewService(backend, a.StorageManager, &cfg.Normalizer, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	storage := a.StorageManager
	a.BoardHandler = handlers.NewBoardHandler(storage.BoardStorage(), a.Config, a.Logger)
	a.ScheduleHandler = handlers.NewScheduleHandler(storage.ScheduleStorage(), storage.BoardStorage(), a.Logger)
	a.JobHandler = handlers.NewJobHandler(storage.JobStorage(), storage.BoardStorage(), a.EventService, a.Pool, a.Logger)
	a.RunHandler = handlers.NewRunHandler(storage.RunStorage(), a.Logger)
	a.NormalizedHandler = handlers.NewNormalizedHandler(storage.NormalizedJobStorage(), a.Logger)
	a.DashboardHandler = handlers.NewDashboardHandler(storage, a.Logger)
	a.EngineHandler = handlers.NewEngineHandler(a.Engine, a.Logger)
	a.SettingsHandler = handlers.NewSettingsHandler(storage.SettingsStorage(), a.Engine, a.Config, a.Logger)
	a.LogsHandler = handlers.NewLogsHandler(a.LogService, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(storage, a.Scheduler, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, &a.Config.WebSocket, a.Logger)
}

// Start launches the background loops: worker pool, scheduler, engine
// heartbeat and the normalizer.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.Pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := a.Engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine state service: %w", err)
	}
	a.Normalizer.Start(ctx)

	a.Logger.Info().Msg("Engine started")
	return nil
}

// Close stops background loops and releases resources in reverse
// initialization order.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.Normalizer != nil {
		a.Normalizer.Stop()
	}
	if a.Engine != nil {
		a.Engine.Stop()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.LogService != nil {
		a.LogService.Stop()
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event service close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/handlers"
	"github.com/ternarybob/purgo/internal/identifier"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/jobtypes"
	"github.com/ternarybob/purgo/internal/queue"
	"github.com/ternarybob/purgo/internal/services/jobs"
	"github.com/ternarybob/purgo/internal/services/scheduler"
	"github.com/ternarybob/purgo/internal/services/sessions"
	"github.com/ternarybob/purgo/internal/storage"
)

// shutdownGrace is how long Close waits for running sandboxes to finish.
const shutdownGrace = 30 * time.Second

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage and document pipeline
	Repository interfaces.Repository
	Identifier *identifier.MagicIdentifier
	Registry   *jobtypes.Registry
	Dispatcher *queue.Dispatcher

	// Business services
	JobService     *jobs.Service
	SessionService *sessions.Service
	Scheduler      *scheduler.Service

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	JobHandler     *handlers.JobHandler
	SessionHandler *handlers.SessionHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	app.Dispatcher.Start()
	if err := app.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start retention scheduler: %w", err)
	}

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Int("job_types", len(app.Registry.All())).
		Msg("Application initialization complete")
	return app, nil
}

// initDatabase initializes the storage layer selected by configuration.
func (a *App) initDatabase() error {
	repo, err := storage.New(context.Background(), a.Config, common.SystemClock{}, a.Logger)
	if err != nil {
		return err
	}
	a.Repository = repo
	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Msg("Storage layer initialized")
	return nil
}

// initServices initializes all business services in dependency order.
func (a *App) initServices() error {
	a.Identifier = identifier.NewMagicIdentifier()

	registry, err := jobtypes.Build(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build job type registry: %w", err)
	}
	a.Registry = registry
	a.Logger.Debug().Int("job_types", len(registry.All())).Msg("Job type registry initialized")

	a.Dispatcher = queue.NewDispatcher(a.Repository, a.Registry, a.Config.Queue.MaxConcurrentJobs, a.Logger)
	a.Logger.Debug().Msg("Job dispatcher initialized")

	a.JobService = jobs.NewService(a.Repository, a.Dispatcher, a.Identifier, a.Registry, a.Logger)
	a.SessionService = sessions.NewService(a.Repository, a.Logger)
	a.Logger.Debug().Msg("Job and session services initialized")

	a.Scheduler = scheduler.NewService(a.JobService, a.SessionService, a.Config.Retention, a.Logger)
	return nil
}

// initHandlers initializes the HTTP handlers.
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.SessionService, a.Logger)
	a.Logger.Debug().Msg("HTTP handlers initialized")
}

// Close shuts the application down: the dispatcher drains running jobs, the
// retention scheduler stops, and the storage backend is closed last.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.Dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.Dispatcher.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Dispatcher shutdown incomplete, some jobs may be lost")
		}
	}

	if a.Repository != nil {
		if err := a.Repository.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}

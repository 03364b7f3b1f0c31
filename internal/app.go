// Package internal contains core application functionality
package internal

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"attriflow/internal/config"
	"attriflow/internal/database"
	"attriflow/internal/goals"
	"attriflow/internal/jobs"
	"attriflow/internal/journeys"
)

// Application bundles the attriflow runtime: configuration, database and the
// background attribution scheduler. There is no request surface; the engine
// runs as a batch worker.
type Application struct {
	Config     *config.Config
	Logger     *slog.Logger
	DBManager  *database.DBManager
	Scheduler  *jobs.Scheduler
	GoalEngine *goals.Engine
}

// NewApp creates a new application instance with default settings. The
// predicate is the external conversion oracle; nil marks nothing converted.
func NewApp(predicate journeys.ConversionPredicate) (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg, predicate)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config, predicate journeys.ConversionPredicate) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	scheduler, err := jobs.NewScheduler(dbManager, logger, predicate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	goalEngine := goals.NewEngine(dbManager.GetConnection(), logger, goals.PathLimits{
		MaxPaths: cfg.MaxGoalPaths,
		MaxDepth: cfg.MaxGoalPathDepth,
	})

	return &Application{
		Config:     cfg,
		Logger:     logger,
		DBManager:  dbManager,
		Scheduler:  scheduler,
		GoalEngine: goalEngine,
	}, nil
}

// Start runs migrations and launches the background jobs.
func (a *Application) Start() error {
	if err := a.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return a.Scheduler.Start()
}

// Shutdown stops the background jobs and flushes the write-ahead log.
func (a *Application) Shutdown() error {
	a.Scheduler.Stop()
	return a.DBManager.CheckpointWAL("FULL")
}

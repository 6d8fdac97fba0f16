// Package internal contains core application functionality
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"footfall/internal/config"
	"footfall/internal/database"
)

// Application wraps cartridge.Application with the footfall components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // footfall DB manager with migration methods
	Services  *Services
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithOptions(cfg, ServicesOptions{})
}

// NewAppWithOptions creates a new application, overriding parts of the
// service wiring with opts.
func NewAppWithOptions(cfg *config.Config, opts ServicesOptions) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svc, err := NewServices(cfg, dbManager.GetConnection(), logger, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:         cfg,
		Logger:         logger,
		DBManager:      dbManager,
		ServerConfig:   NewServerConfig(),
		RouteMountFunc: MountAppRoutes(svc),
		// Stopped in order: the scheduler first, then pending visits drain.
		BackgroundWorkers: []cartridge.BackgroundWorker{svc.Scheduler, collectorWorker{services: svc}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    svc,
	}, nil
}

// Package app is the public API for embedding footfall in another server.
package app

import (
	"log/slog"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"footfall/internal"
	"footfall/internal/config"
	"footfall/internal/counter"
	"footfall/internal/database"
	"footfall/internal/insights"
	"footfall/internal/visits"
)

// Re-export core types
type (
	Application     = internal.Application
	Config          = config.Config
	DBManager       = database.DBManager
	Services        = internal.Services
	ServicesOptions = internal.ServicesOptions
)

// Re-export domain types
type (
	Visit   = visits.Visit
	Result  = visits.Result
	Report  = insights.Report
	Backend = counter.Backend
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithOptions creates a new application, overriding parts of the wiring.
func NewAppWithOptions(cfg *Config, opts ServicesOptions) (*Application, error) {
	return internal.NewAppWithOptions(cfg, opts)
}

// NewServices wires the components without an HTTP server, for hosts that
// mount the routes on their own cartridge server.
func NewServices(cfg *Config, db *gorm.DB, logger *slog.Logger, opts ServicesOptions) (*Services, error) {
	return internal.NewServices(cfg, db, logger, opts)
}

// MountRoutes returns the route mount function for svc.
func MountRoutes(svc *Services) func(*cartridge.Server) {
	return internal.MountAppRoutes(svc)
}

// ServerConfig returns the cartridge server config the routes expect. Hosts
// building their own server should start from it so cross-site beacons pass
// the Sec-Fetch-Site check.
func ServerConfig() *cartridge.ServerConfig {
	return internal.NewServerConfig()
}

// Models lists the tables footfall needs migrated in a host database.
func Models() []any {
	return database.Models()
}

// NewMemoryBackend returns an in-process counter backend.
func NewMemoryBackend() *counter.MemoryBackend {
	return counter.NewMemoryBackend()
}

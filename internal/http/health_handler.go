package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status        string     `json:"status"`
	Timestamp     time.Time  `json:"timestamp"`
	DBStatus      string     `json:"db_status"`
	CounterStatus string     `json:"counter_status"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// CooldownReporter tells whether remote counter calls are suppressed.
type CooldownReporter interface {
	CooldownUntil() (bool, time.Time)
}

// HealthIndexAction handles the health check endpoint. A cooling-down
// counter degrades the status; the server itself is still healthy.
func HealthIndexAction(counter CooldownReporter) func(ctx *cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		dbStatus := "ok"

		// Check database connectivity
		db := ctx.DBManager.GetConnection()
		if db == nil {
			dbStatus = "error"
			ctx.Logger.Error("Database connection unavailable")
		} else {
			sqlDB, err := db.DB()
			if err != nil {
				dbStatus = "error"
				ctx.Logger.Error("Database connection error", slog.Any("error", err))
			} else if err := sqlDB.Ping(); err != nil {
				dbStatus = "error"
				ctx.Logger.Error("Database ping failed", slog.Any("error", err))
			}
		}

		health := HealthStatus{
			Status:        "ok",
			Timestamp:     time.Now(),
			DBStatus:      dbStatus,
			CounterStatus: "ok",
		}
		if counter != nil {
			if cooling, until := counter.CooldownUntil(); cooling {
				health.CounterStatus = "cooling_down"
				health.CooldownUntil = &until
			}
		}

		if dbStatus != "ok" || health.CounterStatus != "ok" {
			health.Status = "degraded"
		}

		return ctx.JSON(health)
	}
}

package v1

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"footfall/internal/visitors"
	"footfall/internal/visits"
)

const visitorVisitLimit = 25

type visitorVisit struct {
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Referrer  string    `json:"referrer,omitempty"`
	Device    string    `json:"device"`
	Country   string    `json:"country,omitempty"`
}

// VisitorInfo is what the visitor endpoint answers.
type VisitorInfo struct {
	VisitorID string         `json:"visitorId"`
	Alias     string         `json:"alias"`
	Visits    []visitorVisit `json:"visits"`
}

// VisitorHistory lists one visitor's logged visits.
type VisitorHistory interface {
	ByVisitor(ctx context.Context, visitorID string, n int) ([]visits.VisitRecord, error)
}

// GetVisitorInfoHandler shows the calling browser what the local visit log
// holds about it, keyed by its visitor cookie.
func GetVisitorInfoHandler(history VisitorHistory) func(ctx *cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		if strings.EqualFold(strings.TrimSpace(ctx.Get("Early-Data")), "1") {
			ctx.Logger.Info("Received early data request, returning 425 to force replay",
				slog.String("path", ctx.Path()))
			return ctx.Status(fiber.StatusTooEarly).JSON(fiber.Map{
				"error": "Replay required",
				"code":  "TOO_EARLY",
			})
		}

		info := VisitorInfo{Visits: make([]visitorVisit, 0)}
		id := ctx.Cookies(visitors.CookieName)
		if !visitors.Valid(id) {
			info.Alias = visitors.Alias("")
			return ctx.JSON(info)
		}
		info.VisitorID = strings.ToLower(id)
		info.Alias = visitors.Alias(info.VisitorID)

		records, err := history.ByVisitor(ctx.UserContext(), info.VisitorID, visitorVisitLimit)
		if err != nil {
			ctx.Logger.Error("Failed to load visitor visits",
				slog.Any("error", err),
				slog.String("visitor", info.Alias))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load visitor visits",
				"code":  "VISIT_LOAD_ERROR",
			})
		}
		for _, r := range records {
			info.Visits = append(info.Visits, visitorVisit{
				Timestamp: r.Timestamp,
				Path:      r.Path,
				Referrer:  r.Referrer,
				Device:    r.Device,
				Country:   r.Country,
			})
		}
		return ctx.JSON(info)
	}
}

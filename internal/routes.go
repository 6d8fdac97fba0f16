package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "footfall/api/v1"
	"footfall/internal/http"
	"footfall/internal/http/middleware"
)

// publicCORSConfig is shared by every endpoint the tracker script calls from
// other origins.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// beaconSecFetchSites are the Sec-Fetch-Site values the global check accepts.
// Beacons come from the tracked sites, so cross-site browser requests pass;
// requests without the header (scripts, server-to-server) are still rejected.
var beaconSecFetchSites = []string{"cross-site", "same-site", "same-origin", "none"}

// NewServerConfig returns the cartridge server config routes are mounted on.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = beaconSecFetchSites
	return cfg
}

func noContent(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}

// MountAppRoutes returns the route mount function for svc.
func MountAppRoutes(svc *Services) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		cfg := svc.Config

		// ============================================
		// PUBLIC ENDPOINT PROTECTION
		// - Rate limiting (production only)
		// - CORS (permissive for cross-origin tracking)
		// - Sec-Fetch-Site validation on the beacon endpoints
		// ============================================

		// In development/test, rate limiting would interfere with testing
		conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
			return func(c *fiber.Ctx) error {
				if cfg.IsProduction() {
					return limiter(c)
				}
				return c.Next()
			}
		}

		// 70/min per IP covers a visitor clicking through a site quickly
		publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(70),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		// Every dashboard load fans out into hundreds of counter reads
		dashboardRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(20),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		publicAPIConfig := &cartridge.RouteConfig{
			EnableCORS:       true,
			CustomMiddleware: []fiber.Handler{publicRateLimiter},
			CORSConfig:       publicCORSConfig,
		}

		// GET-only script delivery, no Sec-Fetch-Site needed
		trackerConfig := &cartridge.RouteConfig{
			EnableCORS:         true,
			EnableSecFetchSite: cartridge.Bool(false),
			CustomMiddleware:   []fiber.Handler{publicRateLimiter},
			CORSConfig:         publicCORSConfig,
		}

		dashboardConfig := &cartridge.RouteConfig{
			EnableSecFetchSite: cartridge.Bool(false),
			CustomMiddleware: []fiber.Handler{
				dashboardRateLimiter,
				middleware.DashboardKeyAuth(cfg.DashboardKey, svc.Logger),
			},
		}

		internalConfig := &cartridge.RouteConfig{
			EnableSecFetchSite: cartridge.Bool(false),
		}

		// === ROOT ROUTES ===
		srv.Get("/", func(ctx *cartridge.Context) error {
			return ctx.Redirect(cfg.DashboardPath, fiber.StatusFound)
		}, internalConfig)

		health := http.HealthIndexAction(svc.Counter)
		srv.Get("/_health", health, internalConfig)
		srv.Head("/_health", health, internalConfig)

		srv.Get("/metrics", http.MetricsAction(svc.Registry), dashboardConfig)

		// === PUBLIC API ROUTES ===
		srv.Post("/x/api/v1/visits", v1.CreateVisitHandler(v1.VisitHandlerOptions{
			Collector:    svc.Collector,
			SecureCookie: cfg.IsProduction(),
		}), publicAPIConfig)
		srv.Options("/x/api/v1/visits", noContent, publicAPIConfig)

		srv.Get("/x/api/v1/me", v1.GetVisitorInfoHandler(svc.Log), publicAPIConfig)
		srv.Options("/x/api/v1/me", noContent, publicAPIConfig)

		srv.Get("/y/api/v1/tracker.js", v1.GetTrackerAction, trackerConfig)

		// === DASHBOARD ROUTES ===
		srv.Get("/x/api/v1/insights", v1.GetInsightsHandler(svc.Aggregator), dashboardConfig)
		srv.Get(cfg.DashboardPath, http.InsightsPageAction(svc.Aggregator), dashboardConfig)
	}
}

package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"footfall/internal/visitors"
	"footfall/internal/visits"
)

const (
	msgVisitAccepted = "Visit accepted"
	visitorCookieAge = 365 * 24 * time.Hour
)

// CreateVisitParams is the tracker payload. navigator.sendBeacon posts it
// as text/plain, so the body is decoded regardless of content type.
type CreateVisitParams struct {
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
	Language  string `json:"language"`
	Timezone  string `json:"timezone"`
	Platform  string `json:"platform"`
	Screen    string `json:"screen"`
	UserAgent string `json:"userAgent"`
}

// Collector accepts visits for detached processing.
type Collector interface {
	Collect(v visits.Visit)
}

// VisitHandlerOptions configures CreateVisitHandler.
type VisitHandlerOptions struct {
	Collector Collector
	// SecureCookie marks the visitor cookie Secure and SameSite=None so it
	// survives cross-site beacons over HTTPS.
	SecureCookie bool
	Now          func() time.Time
}

// CreateVisitHandler accepts a tracker beacon. It always answers 202: the
// page that sent the beacon has nothing useful to do with a failure.
func CreateVisitHandler(opts VisitHandlerOptions) func(ctx *cartridge.Context) error {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return func(ctx *cartridge.Context) error {
		var params CreateVisitParams
		if body := ctx.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &params); err != nil {
				ctx.Logger.Debug("Failed to parse visit beacon", slog.Any("error", err))
				return accepted(ctx)
			}
		}
		if params.URL == "" {
			params.URL = ctx.Get("Referer")
		}
		if params.URL == "" {
			ctx.Logger.Debug("Visit beacon without page URL")
			return accepted(ctx)
		}

		visitorID, fresh := visitors.Ensure(ctx.Cookies(visitors.CookieName))
		if fresh {
			setVisitorCookie(ctx.Ctx, visitorID, opts.SecureCookie)
		}

		ua := userAgent(ctx.Ctx)
		if ua == "" {
			ua = params.UserAgent
		}

		opts.Collector.Collect(visits.Visit{
			URL:       params.URL,
			Referrer:  params.Referrer,
			UserAgent: ua,
			IP:        witnessAddress(ctx.Ctx, ctx.Logger),
			VisitorID: visitorID,
			Language:  params.Language,
			Timezone:  params.Timezone,
			Platform:  params.Platform,
			Screen:    params.Screen,
			Time:      opts.Now(),
		})
		return accepted(ctx)
	}
}

func accepted(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgVisitAccepted,
		"status":  http.StatusAccepted,
	})
}

func setVisitorCookie(c *fiber.Ctx, id string, secure bool) {
	sameSite := fiber.CookieSameSiteLaxMode
	if secure {
		sameSite = fiber.CookieSameSiteNoneMode
	}
	c.Cookie(&fiber.Cookie{
		Name:     visitors.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieAge.Seconds()),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

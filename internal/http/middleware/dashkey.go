package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// DashboardKeyQueryParam carries the key for browsers opening the dashboard.
const DashboardKeyQueryParam = "key"

// DashboardKeyAuth guards the insights endpoints with a shared key, sent as
// "Authorization: Bearer <key>" or as the key query parameter. An empty key
// leaves the endpoints open.
func DashboardKeyAuth(key string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Next()
		}

		provided := c.Query(DashboardKeyQueryParam)
		if authHeader := c.Get("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid Authorization header format. Expected: Bearer <key>",
					"code":  "UNAUTHORIZED",
				})
			}
			provided = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing dashboard key",
				"code":  "UNAUTHORIZED",
			})
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			logger.Debug("Rejected dashboard key", slog.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid dashboard key",
				"code":  "UNAUTHORIZED",
			})
		}
		return c.Next()
	}
}

package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/router"
)

var adminSecret string

func init() {
	// BOT_ADMIN_SECRET: when unset the control plane is open (local use)
	adminSecret = env.GetEnvStringOrDefault("BOT_ADMIN_SECRET", "")
}

// AdminAuth validates the X-Admin-Secret header for control-plane endpoints.
// When no secret is configured the middleware is a pass-through.
func AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if adminSecret == "" {
			return c.Next()
		}

		provided := c.Get("X-Admin-Secret")
		if provided == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(adminSecret)) != 1 {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}

		return c.Next()
	}
}

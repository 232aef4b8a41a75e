package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/taskstream/backend/internal/config"
	"github.com/taskstream/backend/internal/transport/http/dto"
)

// AdminAuth guards operator endpoints with the configured admin key. An empty
// key leaves the route open.
func AdminAuth(cfg config.AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.AdminAPIKey
		if apiKey == "" {
			return c.Next()
		}

		token := c.Get("X-Admin-Token")
		if token == "" {
			if auth, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "); ok {
				token = auth
			}
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: "unauthorized",
			})
		}

		return c.Next()
	}
}

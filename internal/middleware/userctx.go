package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const userIDHeader = "X-User-ID"

// UserContext propagates the caller identity asserted by the edge proxy into
// request locals. Handlers read Locals("user_id") for ownership checks; an
// empty value means an unauthenticated or internal caller.
func UserContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if uid := strings.TrimSpace(c.Get(userIDHeader)); uid != "" {
			c.Locals("user_id", uid)
		}
		return c.Next()
	}
}

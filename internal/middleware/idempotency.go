package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const idempotencyKeyHeader = "Idempotency-Key"

// RequireIdempotencyKey rejects unsafe requests that do not carry an
// Idempotency-Key header and stashes the key for the handlers. Replay
// semantics live in the services: the transaction store's unique key index
// answers replays and the in-flight guard closes the concurrency window.
func RequireIdempotencyKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		c.Locals("idempotency_key", key)
		return c.Next()
	}
}

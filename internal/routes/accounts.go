package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clearwave/clearwave/internal/accounts"
)

// RegisterAccountRoutes wires account lifecycle endpoints.
func RegisterAccountRoutes(r fiber.Router, h *accounts.Handler) {
	r.Post("/accounts", h.Open)
	r.Get("/accounts/:accountId", h.Get)
	r.Patch("/accounts/:accountId/status", h.SetStatus)
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clearwave/clearwave/internal/payments"
)

// RegisterPaymentRoutes wires transfer endpoints. Initiation goes through the
// idempotency-keyed router; confirm and cancel address an existing transfer
// by ID and need no key.
func RegisterPaymentRoutes(keyed fiber.Router, open fiber.Router, h *payments.Handler) {
	keyed.Post("/transfers", h.Transfer)
	// Registered before the parameterized routes so "expired" is not taken
	// for a transaction ID.
	open.Post("/transfers/expired/cancel", h.CancelExpired)
	open.Post("/transfers/:transactionId/confirm", h.Confirm)
	open.Post("/transfers/:transactionId/cancel", h.Cancel)
}

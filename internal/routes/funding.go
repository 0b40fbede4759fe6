package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clearwave/clearwave/internal/funding"
)

// RegisterFundingRoutes wires deposit, withdrawal, and refund endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/accounts/:accountId/deposits", h.Deposit)
	r.Post("/accounts/:accountId/withdrawals", h.Withdraw)
	r.Post("/refunds", h.Refund)
	r.Get("/transactions/:transactionId", h.GetTransaction)
}

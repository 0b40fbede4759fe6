package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/clearwave/clearwave/internal/funding"
	"github.com/clearwave/clearwave/internal/gateway"
	"github.com/clearwave/clearwave/internal/ledger"
	"github.com/clearwave/clearwave/internal/middleware"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// RegisterWebhookRoutes wires the provider callback endpoint. The signature
// is verified over the raw body before anything is parsed; events for unknown
// transactions are acknowledged with 200 so the provider stops retrying.
func RegisterWebhookRoutes(app *fiber.App, d Deps, provider gateway.Gateway, fundingSvc *funding.Service) {
	limiter := middleware.RateLimit(d.Cache, 300, "webhook")

	app.Post("/webhooks/payments", limiter, func(c *fiber.Ctx) error {
		payload := c.Body()
		signature := c.Get(webhookSignatureHeader)
		if err := provider.VerifyWebhookSignature(payload, signature); err != nil {
			d.Logger.Warn("webhook signature rejected", "error", err)
			return fiber.NewError(http.StatusUnauthorized, "invalid signature")
		}

		event, err := provider.ParseWebhookEvent(payload)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		tx, err := fundingSvc.ApplyWebhookEvent(c.UserContext(), event)
		switch {
		case err == nil:
			return c.JSON(fiber.Map{
				"transaction_id": tx.ID.String(),
				"status":         string(tx.Status),
			})
		case errors.Is(err, ledger.ErrTransactionNotFound):
			d.Logger.Warn("webhook for unknown transaction",
				"event_id", event.ID,
				"reference", event.Reference)
			return c.JSON(fiber.Map{"status": "ignored"})
		case errors.Is(err, ledger.ErrInvalidTransactionState):
			// Late or duplicate delivery against a terminal transaction.
			d.Logger.Info("webhook ignored in terminal state",
				"event_id", event.ID,
				"error", err)
			return c.JSON(fiber.Map{"status": "ignored"})
		default:
			d.Logger.Error("webhook processing failed",
				"event_id", event.ID,
				"error", err)
			return fiber.NewError(http.StatusInternalServerError, "event processing failed")
		}
	})
}

package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clearwave/clearwave/internal/accounts"
	"github.com/clearwave/clearwave/internal/clock"
	"github.com/clearwave/clearwave/internal/config"
	"github.com/clearwave/clearwave/internal/funding"
	"github.com/clearwave/clearwave/internal/gateway"
	"github.com/clearwave/clearwave/internal/idempotency"
	"github.com/clearwave/clearwave/internal/ledger"
	"github.com/clearwave/clearwave/internal/middleware"
	"github.com/clearwave/clearwave/internal/notification"
	"github.com/clearwave/clearwave/internal/payments"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.UserContext())

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewMemoryStore()
	}

	var guard *idempotency.Guard
	if d.Cache != nil {
		guard = idempotency.NewGuard(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	provider := gateway.NewSimulatedProvider(d.Cfg.ProviderCode, d.Cfg.WebhookSecret)
	notifier := notification.NewLoggerNotifier(d.Logger)
	clk := clock.System{}

	accountSvc := accounts.NewService(store, clk, d.Logger)
	fundingSvc := funding.NewService(store, provider, guard, clk, d.Logger, notifier)
	paymentSvc := payments.NewService(store, guard, clk, d.Logger, notifier, d.Cfg.ConfirmationTTL)

	accountHandler := accounts.NewHandler(accountSvc)
	fundingHandler := funding.NewHandler(fundingSvc, d.Cfg.ProviderCode)
	paymentHandler := payments.NewHandler(paymentSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, accountHandler)

	// Money movement requires an idempotency key on every write.
	keyed := api.Group("", middleware.RequireIdempotencyKey())
	RegisterFundingRoutes(keyed, fundingHandler)
	RegisterPaymentRoutes(keyed, api, paymentHandler)

	RegisterWebhookRoutes(app, d, provider, fundingSvc)

	return nil
}

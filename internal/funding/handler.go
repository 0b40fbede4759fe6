package funding

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clearwave/clearwave/internal/idempotency"
	"github.com/clearwave/clearwave/internal/ledger"
)

// Handler exposes HTTP endpoints for deposits, withdrawals, and refunds.
type Handler struct {
	service  *Service
	validate *validator.Validate
	provider string
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service, provider string) *Handler {
	return &Handler{service: service, validate: validator.New(), provider: provider}
}

// Deposit initiates a deposit into the account in the path.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	tx, err := h.service.InitiateDeposit(c.UserContext(), DepositInput{
		AccountID:          c.Params("accountId"),
		Amount:             req.Amount,
		Currency:           req.Currency,
		IdempotencyKey:     idempotencyKey(c),
		PaymentMethodToken: req.PaymentMethodToken,
		Provider:           h.provider,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(ToTransactionResponse(tx))
}

// Withdraw initiates a withdrawal from the account in the path.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	tx, err := h.service.InitiateWithdrawal(c.UserContext(), WithdrawalInput{
		AccountID:      c.Params("accountId"),
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(c),
		Destination:    req.Destination,
		Provider:       h.provider,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(ToTransactionResponse(tx))
}

// Refund initiates a refund of a completed deposit.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req RefundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	tx, err := h.service.InitiateRefund(c.UserContext(), RefundInput{
		ParentTransactionID: req.ParentTransactionID,
		Amount:              req.Amount,
		IdempotencyKey:      idempotencyKey(c),
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(ToTransactionResponse(tx))
}

// GetTransaction returns a single transaction by ID.
func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	tx, err := h.service.Transaction(c.UserContext(), c.Params("transactionId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(ToTransactionResponse(tx))
}

func idempotencyKey(c *fiber.Ctx) string {
	if key, ok := c.Locals("idempotency_key").(string); ok {
		return key
	}
	return c.Get("Idempotency-Key")
}

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrInvalidConfirmationToken):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrAccountNotActive),
		errors.Is(err, ledger.ErrInvalidTransactionState),
		errors.Is(err, ledger.ErrOptimisticLock),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, idempotency.ErrInFlight):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

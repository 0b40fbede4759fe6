package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clearwave/clearwave/internal/idempotency"
	"github.com/clearwave/clearwave/internal/ledger"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type transferRequest struct {
	SourceAccountID      string            `json:"source_account_id" validate:"required,uuid4"`
	DestinationAccountID string            `json:"destination_account_id" validate:"required,uuid4"`
	Amount               int64             `json:"amount" validate:"required,gt=0"`
	Fee                  int64             `json:"fee" validate:"gte=0"`
	Currency             string            `json:"currency" validate:"required,len=3"`
	RequireConfirmation  bool              `json:"require_confirmation"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type confirmRequest struct {
	Token string `json:"token" validate:"required"`
}

// Transfer initiates an account-to-account transfer.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	result, err := h.service.InitiateTransfer(c.UserContext(), TransferInput{
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Fee:                  req.Fee,
		Currency:             req.Currency,
		IdempotencyKey:       idempotencyKey(c),
		RequestorUserID:      uid,
		RequireConfirmation:  req.RequireConfirmation,
		Metadata:             req.Metadata,
	})
	if err != nil {
		return httpError(err)
	}

	body := transactionBody(result.Transaction)
	if result.ConfirmationToken != "" {
		// The plaintext token appears in this response only; it is never
		// retrievable again.
		body["confirmation_token"] = result.ConfirmationToken
	}
	return c.Status(http.StatusCreated).JSON(body)
}

// Confirm settles a transfer awaiting recipient confirmation.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	tx, err := h.service.ConfirmTransfer(c.UserContext(), ConfirmInput{
		TransactionID:   c.Params("transactionId"),
		Token:           req.Token,
		RequestorUserID: uid,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(transactionBody(tx))
}

// Cancel withdraws a transfer still awaiting confirmation.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)

	tx, err := h.service.CancelTransfer(c.UserContext(), CancelInput{
		TransactionID:   c.Params("transactionId"),
		RequestorUserID: uid,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(transactionBody(tx))
}

// CancelExpired sweeps transfers whose confirmation window has lapsed.
func (h *Handler) CancelExpired(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	count, err := h.service.CancelExpired(c.UserContext(), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"cancelled": count})
}

func transactionBody(tx *ledger.Transaction) fiber.Map {
	body := fiber.Map{
		"transaction_id":         tx.ID.String(),
		"status":                 string(tx.Status),
		"source_account_id":      tx.SourceAccountID.String(),
		"destination_account_id": tx.DestinationAccountID.String(),
		"amount":                 tx.Amount.Amount(),
		"fee":                    tx.Fee.Amount(),
		"currency":               tx.Amount.Currency().String(),
		"created_at":             tx.CreatedAt,
	}
	if !tx.ConfirmationExpiresAt.IsZero() {
		body["confirmation_expires_at"] = tx.ConfirmationExpiresAt.Format(time.RFC3339)
	}
	if !tx.CompletedAt.IsZero() {
		body["completed_at"] = tx.CompletedAt
	}
	return body
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
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, ledger.ErrInvalidConfirmationToken):
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

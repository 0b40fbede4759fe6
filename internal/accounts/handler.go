package accounts

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clearwave/clearwave/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type openRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active frozen closed"`
}

type accountResponse struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	Balance    int64  `json:"balance"`
	HeldAmount int64  `json:"held_amount"`
	Available  int64  `json:"available_balance"`
	Version    int64  `json:"version"`
}

// Open provisions an account for the authenticated owner.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user identity")
	}

	account, err := h.service.Open(c.UserContext(), OpenInput{OwnerID: uid, Currency: req.Currency})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(account))
}

// Get returns account details including the balance snapshot.
func (h *Handler) Get(c *fiber.Ctx) error {
	account, err := h.service.Get(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toResponse(account))
}

// SetStatus freezes, unfreezes, or closes an account.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	account, err := h.service.SetStatus(c.UserContext(), c.Params("accountId"), ledger.AccountStatus(req.Status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toResponse(account))
}

func toResponse(account *ledger.Account) accountResponse {
	return accountResponse{
		ID:         account.ID.String(),
		OwnerID:    account.OwnerID,
		Currency:   account.Currency().String(),
		Status:     string(account.Status),
		Balance:    account.Balance.Amount(),
		HeldAmount: account.HeldAmount.Amount(),
		Available:  account.AvailableBalance().Amount(),
		Version:    account.Version,
	}
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAccountNotActive), errors.Is(err, ledger.ErrOptimisticLock):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

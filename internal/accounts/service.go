// Package accounts manages account provisioning and lifecycle: opening,
// lookup, balances, and status changes.
package accounts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clearwave/clearwave/internal/clock"
	"github.com/clearwave/clearwave/internal/ledger"
	"github.com/clearwave/clearwave/internal/money"
)

// Service exposes account operations backed by the ledger store.
type Service struct {
	store  ledger.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewService builds an account service.
func NewService(store ledger.Store, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, clock: clk, logger: logger}
}

// OpenInput captures the data required to open an account.
type OpenInput struct {
	OwnerID  string
	Currency string
}

// Open provisions an active zero-balance account. One account per owner and
// currency; opening a second one fails validation.
func (s *Service) Open(ctx context.Context, input OpenInput) (*ledger.Account, error) {
	account, err := ledger.NewAccount(input.OwnerID, money.Currency(input.Currency), s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("account opened",
		"account_id", account.ID.String(),
		"owner_id", account.OwnerID,
		"currency", account.Currency().String())
	return account, nil
}

// Get retrieves an account by ID.
func (s *Service) Get(ctx context.Context, id string) (*ledger.Account, error) {
	accountID, err := ledger.ParseAccountID(id)
	if err != nil {
		return nil, err
	}
	return s.store.Account(ctx, accountID)
}

// SetStatus moves the account between active, frozen, and closed. Closing
// requires a zero balance and no held funds; closed accounts stay closed.
func (s *Service) SetStatus(ctx context.Context, id string, status ledger.AccountStatus) (*ledger.Account, error) {
	accountID, err := ledger.ParseAccountID(id)
	if err != nil {
		return nil, err
	}
	switch status {
	case ledger.AccountActive, ledger.AccountFrozen, ledger.AccountClosed:
	default:
		return nil, fmt.Errorf("%w: unknown account status %q", ledger.ErrValidation, status)
	}

	var result *ledger.Account
	err = s.store.Atomic(ctx, func(store ledger.Store) error {
		account, err := store.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Status == ledger.AccountClosed {
			return fmt.Errorf("%w: account %s is closed", ledger.ErrAccountNotActive, account.ID)
		}
		if status == ledger.AccountClosed {
			if !account.Balance.IsZero() || !account.HeldAmount.IsZero() {
				return fmt.Errorf("%w: account %s still carries funds", ledger.ErrValidation, account.ID)
			}
			for _, st := range []ledger.TransactionStatus{ledger.StatusPending, ledger.StatusAwaitingConfirmation, ledger.StatusProcessing} {
				count, err := store.CountByAccountAndStatus(ctx, account.ID, st)
				if err != nil {
					return err
				}
				if count > 0 {
					return fmt.Errorf("%w: account %s has %d %s transactions", ledger.ErrValidation, account.ID, count, st)
				}
			}
		}
		version := account.Version
		account.Status = status
		account.Version++
		if err := store.UpdateAccount(ctx, account, version); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account status changed",
		"account_id", result.ID.String(),
		"status", string(result.Status))
	return result, nil
}

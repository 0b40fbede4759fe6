// Package funding coordinates money moving in and out of accounts through the
// external payment provider: deposits, withdrawals, and refunds. Initiation is
// synchronous; completion and failure arrive later as webhook events.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clearwave/clearwave/internal/clock"
	"github.com/clearwave/clearwave/internal/gateway"
	"github.com/clearwave/clearwave/internal/idempotency"
	"github.com/clearwave/clearwave/internal/ledger"
	"github.com/clearwave/clearwave/internal/money"
	"github.com/clearwave/clearwave/internal/notification"
)

// lockRetries bounds the read-modify-write cycles retried on version conflicts.
const lockRetries = 3

// Service orchestrates deposit, withdrawal, and refund lifecycles.
type Service struct {
	store    ledger.Store
	gateway  gateway.Gateway
	guard    *idempotency.Guard
	clock    clock.Clock
	logger   *slog.Logger
	notifier notification.Notifier
}

// NewService builds a funding service.
func NewService(store ledger.Store, gw gateway.Gateway, guard *idempotency.Guard, clk clock.Clock, logger *slog.Logger, notifier notification.Notifier) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, gateway: gw, guard: guard, clock: clk, logger: logger, notifier: notifier}
}

// InitiateDeposit creates a pending deposit and opens a payment intent with
// the provider. Replaying the same idempotency key returns the original
// transaction untouched; no second intent is ever opened.
func (s *Service) InitiateDeposit(ctx context.Context, input DepositInput) (*ledger.Transaction, error) {
	amount, err := money.New(input.Amount, money.Currency(input.Currency))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	accountID, err := ledger.ParseAccountID(input.AccountID)
	if err != nil {
		return nil, err
	}
	key := ledger.IdempotencyKey(input.IdempotencyKey)

	if existing, err := s.store.TransactionByIdempotencyKey(ctx, ledger.TypeDeposit, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return nil, err
	}

	release, err := s.guard.Reserve(ctx, "deposit", key)
	if err != nil {
		return nil, err
	}

	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		release()
		return nil, err
	}
	if account.Status != ledger.AccountActive {
		release()
		return nil, fmt.Errorf("%w: account %s is %s", ledger.ErrAccountNotActive, account.ID, account.Status)
	}

	tx, err := ledger.NewDeposit(key, account.ID, amount, s.clock.Now())
	if err != nil {
		release()
		return nil, err
	}
	tx.Metadata = input.Metadata
	tx.ProviderCode = input.Provider

	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.IntentParams{
		TransactionID:      tx.ID,
		Amount:             input.Amount,
		Currency:           input.Currency,
		PaymentMethodToken: input.PaymentMethodToken,
		Metadata:           input.Metadata,
	})
	switch {
	case errors.Is(err, gateway.ErrPaymentMethodRejected):
		// A provider decline is a terminal business outcome, not a request
		// error: record it and persist the failed transaction.
		if failErr := tx.Fail(map[string]string{"reason": err.Error()}, s.clock.Now()); failErr != nil {
			release()
			return nil, failErr
		}
	case err != nil:
		release()
		return nil, fmt.Errorf("create payment intent: %w", err)
	default:
		tx.ExternalReference = intent.Reference
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			// Lost the race to a concurrent identical request.
			return s.store.TransactionByIdempotencyKey(ctx, ledger.TypeDeposit, key)
		}
		release()
		return nil, err
	}

	s.logger.Info("deposit initiated",
		"transaction_id", tx.ID.String(),
		"account_id", account.ID.String(),
		"amount", amount.String(),
		"status", string(tx.Status))
	return tx, nil
}

// CompleteDeposit credits the destination account and finalizes the deposit
// with its credit entry. A replayed webhook delivery for an already-completed
// deposit returns the transaction without crediting again.
func (s *Service) CompleteDeposit(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	var result *ledger.Transaction
	err := s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			tx, err := loadTyped(ctx, store, id, ledger.TypeDeposit)
			if err != nil {
				return err
			}
			if tx.Status == ledger.StatusCompleted {
				result = tx
				return nil
			}

			account, err := store.Account(ctx, tx.DestinationAccountID)
			if err != nil {
				return err
			}
			version := account.Version
			if err := account.Credit(tx.Amount, version); err != nil {
				return err
			}

			now := s.clock.Now()
			entry, err := ledger.NewEntry(tx.ID, account.ID, ledger.Credit, tx.Amount, now)
			if err != nil {
				return err
			}
			if err := tx.Complete([]ledger.Entry{entry}, now); err != nil {
				return err
			}

			if err := store.UpdateAccount(ctx, account, version); err != nil {
				return err
			}
			if err := store.UpdateTransaction(ctx, tx); err != nil {
				return err
			}
			result = tx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.KindDepositCompleted, result)
	return result, nil
}

// FailDeposit records a provider failure and moves the deposit to failed.
// Nothing was credited yet, so no account state changes.
func (s *Service) FailDeposit(ctx context.Context, id ledger.TransactionID, details map[string]string) (*ledger.Transaction, error) {
	var result *ledger.Transaction
	err := s.store.Atomic(ctx, func(store ledger.Store) error {
		tx, err := loadTyped(ctx, store, id, ledger.TypeDeposit)
		if err != nil {
			return err
		}
		if tx.Status == ledger.StatusFailed {
			result = tx
			return nil
		}
		if err := tx.Fail(details, s.clock.Now()); err != nil {
			return err
		}
		if err := store.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// InitiateWithdrawal authorizes a payout with the provider, then persists the
// funds hold and the pending transaction together. The provider is asked
// first so a declined payout never touches the balance.
func (s *Service) InitiateWithdrawal(ctx context.Context, input WithdrawalInput) (*ledger.Transaction, error) {
	amount, err := money.New(input.Amount, money.Currency(input.Currency))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	accountID, err := ledger.ParseAccountID(input.AccountID)
	if err != nil {
		return nil, err
	}
	key := ledger.IdempotencyKey(input.IdempotencyKey)

	if existing, err := s.store.TransactionByIdempotencyKey(ctx, ledger.TypeWithdrawal, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return nil, err
	}

	release, err := s.guard.Reserve(ctx, "withdrawal", key)
	if err != nil {
		return nil, err
	}

	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		release()
		return nil, err
	}
	if account.Status != ledger.AccountActive {
		release()
		return nil, fmt.Errorf("%w: account %s is %s", ledger.ErrAccountNotActive, account.ID, account.Status)
	}
	// Early funds check so an obviously broke account never reaches the
	// provider; the authoritative check is the Hold under the version guard.
	if less, err := account.AvailableBalance().LessThan(amount); err != nil {
		release()
		return nil, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	} else if less {
		release()
		return nil, fmt.Errorf("%w: available %s, requested %s", ledger.ErrInsufficientFunds, account.AvailableBalance(), amount)
	}

	tx, err := ledger.NewWithdrawal(key, accountID, amount, s.clock.Now())
	if err != nil {
		release()
		return nil, err
	}
	tx.Metadata = input.Metadata
	tx.ProviderCode = input.Provider

	payout, err := s.gateway.InitiateTransfer(ctx, gateway.PayoutParams{
		TransactionID: tx.ID,
		Amount:        input.Amount,
		Currency:      input.Currency,
		Destination:   input.Destination,
		Metadata:      input.Metadata,
	})
	switch {
	case errors.Is(err, gateway.ErrPaymentMethodRejected):
		if failErr := tx.Fail(map[string]string{"reason": err.Error()}, s.clock.Now()); failErr != nil {
			release()
			return nil, failErr
		}
		if err := s.store.CreateTransaction(ctx, tx); err != nil {
			release()
			return nil, err
		}
		return tx, nil
	case err != nil:
		release()
		return nil, fmt.Errorf("initiate payout: %w", err)
	}
	tx.ExternalReference = payout.Reference

	err = s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			account, err := store.Account(ctx, accountID)
			if err != nil {
				return err
			}
			version := account.Version
			if err := account.Hold(amount, version); err != nil {
				return err
			}
			if err := store.UpdateAccount(ctx, account, version); err != nil {
				return err
			}
			return store.CreateTransaction(ctx, tx)
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return s.store.TransactionByIdempotencyKey(ctx, ledger.TypeWithdrawal, key)
		}
		release()
		return nil, err
	}

	s.logger.Info("withdrawal initiated",
		"transaction_id", tx.ID.String(),
		"account_id", accountID.String(),
		"amount", amount.String())
	return tx, nil
}

// CompleteWithdrawal settles the hold into a permanent debit and finalizes
// the withdrawal with its debit entry.
func (s *Service) CompleteWithdrawal(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	var result *ledger.Transaction
	err := s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			tx, err := loadTyped(ctx, store, id, ledger.TypeWithdrawal)
			if err != nil {
				return err
			}
			if tx.Status == ledger.StatusCompleted {
				result = tx
				return nil
			}

			account, err := store.Account(ctx, tx.SourceAccountID)
			if err != nil {
				return err
			}
			version := account.Version
			if err := account.DebitHeld(tx.Amount, version); err != nil {
				return err
			}

			now := s.clock.Now()
			entry, err := ledger.NewEntry(tx.ID, account.ID, ledger.Debit, tx.Amount, now)
			if err != nil {
				return err
			}
			if err := tx.Complete([]ledger.Entry{entry}, now); err != nil {
				return err
			}

			if err := store.UpdateAccount(ctx, account, version); err != nil {
				return err
			}
			if err := store.UpdateTransaction(ctx, tx); err != nil {
				return err
			}
			result = tx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FailWithdrawal releases the hold and moves the withdrawal to failed; the
// balance ends up exactly as it was before initiation.
func (s *Service) FailWithdrawal(ctx context.Context, id ledger.TransactionID, details map[string]string) (*ledger.Transaction, error) {
	var result *ledger.Transaction
	err := s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			tx, err := loadTyped(ctx, store, id, ledger.TypeWithdrawal)
			if err != nil {
				return err
			}
			if tx.Status == ledger.StatusFailed {
				result = tx
				return nil
			}

			account, err := store.Account(ctx, tx.SourceAccountID)
			if err != nil {
				return err
			}
			version := account.Version
			if err := account.ReleaseHold(tx.Amount, version); err != nil {
				return err
			}
			if err := tx.Fail(details, s.clock.Now()); err != nil {
				return err
			}

			if err := store.UpdateAccount(ctx, account, version); err != nil {
				return err
			}
			if err := store.UpdateTransaction(ctx, tx); err != nil {
				return err
			}
			result = tx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.KindWithdrawalFailed, result)
	return result, nil
}

// InitiateRefund opens a refund of a completed deposit with the provider and
// records the pending refund transaction. A zero input amount refunds the
// parent in full.
func (s *Service) InitiateRefund(ctx context.Context, input RefundInput) (*ledger.Transaction, error) {
	parentID, err := ledger.ParseTransactionID(input.ParentTransactionID)
	if err != nil {
		return nil, err
	}
	key := ledger.IdempotencyKey(input.IdempotencyKey)

	if existing, err := s.store.TransactionByIdempotencyKey(ctx, ledger.TypeRefund, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return nil, err
	}

	parent, err := s.store.Transaction(ctx, parentID)
	if err != nil {
		return nil, err
	}

	amount := parent.Amount
	if input.Amount > 0 {
		if amount, err = money.New(input.Amount, parent.Amount.Currency()); err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
		}
	}

	release, err := s.guard.Reserve(ctx, "refund", key)
	if err != nil {
		return nil, err
	}

	tx, err := ledger.NewRefund(key, parent, amount, s.clock.Now())
	if err != nil {
		release()
		return nil, err
	}
	tx.ProviderCode = parent.ProviderCode

	refund, err := s.gateway.CreateRefund(ctx, gateway.RefundParams{
		TransactionID:   tx.ID,
		ParentReference: parent.ExternalReference,
		Amount:          amount.Amount(),
		Currency:        amount.Currency().String(),
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("create refund: %w", err)
	}
	tx.ExternalReference = refund.Reference

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return s.store.TransactionByIdempotencyKey(ctx, ledger.TypeRefund, key)
		}
		release()
		return nil, err
	}

	s.logger.Info("refund initiated",
		"transaction_id", tx.ID.String(),
		"parent_transaction_id", parent.ID.String(),
		"amount", amount.String())
	return tx, nil
}

// CompleteRefund debits the refunded account and finalizes the refund. When
// the refund covers the parent deposit in full, the parent is marked reversed.
func (s *Service) CompleteRefund(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	var result *ledger.Transaction
	err := s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			tx, err := loadTyped(ctx, store, id, ledger.TypeRefund)
			if err != nil {
				return err
			}
			if tx.Status == ledger.StatusCompleted {
				result = tx
				return nil
			}

			account, err := store.Account(ctx, tx.SourceAccountID)
			if err != nil {
				return err
			}
			version := account.Version
			if err := account.Debit(tx.Amount, version); err != nil {
				return err
			}

			now := s.clock.Now()
			entry, err := ledger.NewEntry(tx.ID, account.ID, ledger.Debit, tx.Amount, now)
			if err != nil {
				return err
			}
			if err := tx.Complete([]ledger.Entry{entry}, now); err != nil {
				return err
			}

			if err := store.UpdateAccount(ctx, account, version); err != nil {
				return err
			}
			if err := store.UpdateTransaction(ctx, tx); err != nil {
				return err
			}

			parent, err := store.Transaction(ctx, tx.ParentTransactionID)
			if err != nil {
				return err
			}
			if parent.Status == ledger.StatusCompleted && tx.Amount.Equals(parent.Amount) {
				if err := parent.Reverse(now); err != nil {
					return err
				}
				if err := store.UpdateTransaction(ctx, parent); err != nil {
					return err
				}
			}
			result = tx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FailRefund records the provider failure on the refund; the account keeps
// its funds.
func (s *Service) FailRefund(ctx context.Context, id ledger.TransactionID, details map[string]string) (*ledger.Transaction, error) {
	var result *ledger.Transaction
	err := s.store.Atomic(ctx, func(store ledger.Store) error {
		tx, err := loadTyped(ctx, store, id, ledger.TypeRefund)
		if err != nil {
			return err
		}
		if tx.Status == ledger.StatusFailed {
			result = tx
			return nil
		}
		if err := tx.Fail(details, s.clock.Now()); err != nil {
			return err
		}
		if err := store.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transaction looks up a single transaction.
func (s *Service) Transaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	txID, err := ledger.ParseTransactionID(id)
	if err != nil {
		return nil, err
	}
	return s.store.Transaction(ctx, txID)
}

// ApplyWebhookEvent routes a verified provider event to the matching
// completion or failure handler.
func (s *Service) ApplyWebhookEvent(ctx context.Context, event gateway.WebhookEvent) (*ledger.Transaction, error) {
	tx, err := s.resolveEventTransaction(ctx, event)
	if err != nil {
		return nil, err
	}

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		return s.CompleteDeposit(ctx, tx.ID)
	case gateway.EventPaymentFailed:
		return s.FailDeposit(ctx, tx.ID, event.Failure)
	case gateway.EventPayoutPaid:
		return s.CompleteWithdrawal(ctx, tx.ID)
	case gateway.EventPayoutFailed:
		return s.FailWithdrawal(ctx, tx.ID, event.Failure)
	case gateway.EventRefundSucceeded:
		return s.CompleteRefund(ctx, tx.ID)
	case gateway.EventRefundFailed:
		return s.FailRefund(ctx, tx.ID, event.Failure)
	default:
		return nil, fmt.Errorf("%w: unsupported event type %s", ledger.ErrValidation, event.Type)
	}
}

func (s *Service) resolveEventTransaction(ctx context.Context, event gateway.WebhookEvent) (*ledger.Transaction, error) {
	if event.TransactionID != "" {
		if id, err := ledger.ParseTransactionID(event.TransactionID); err == nil {
			return s.store.Transaction(ctx, id)
		}
	}
	if event.Reference != "" {
		return s.store.TransactionByExternalReference(ctx, ledger.ExternalReference(event.Reference))
	}
	return nil, fmt.Errorf("%w: event %s carries no transaction reference", ledger.ErrValidation, event.ID)
}

func loadTyped(ctx context.Context, store ledger.Store, id ledger.TransactionID, want ledger.TransactionType) (*ledger.Transaction, error) {
	tx, err := store.Transaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Type != want {
		return nil, fmt.Errorf("%w: transaction %s is a %s, expected %s", ledger.ErrValidation, tx.ID, tx.Type, want)
	}
	return tx, nil
}

func (s *Service) withLockRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= lockRetries; attempt++ {
		err = fn()
		if !errors.Is(err, ledger.ErrOptimisticLock) {
			return err
		}
		s.logger.Warn("optimistic lock conflict, retrying", "attempt", attempt)
	}
	return err
}

func (s *Service) notify(ctx context.Context, kind string, tx *ledger.Transaction) {
	if s.notifier == nil || tx == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:          kind,
		TransactionID: tx.ID.String(),
		Body:          fmt.Sprintf("%s %s: %s", tx.Type, tx.Status, tx.Amount),
	})
}

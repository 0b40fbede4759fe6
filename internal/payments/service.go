// Package payments orchestrates account-to-account transfers: funds are held
// on the sender at initiation and settle as balanced double-entry postings,
// either immediately or after the recipient confirms with a one-time token.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearwave/clearwave/internal/clock"
	"github.com/clearwave/clearwave/internal/idempotency"
	"github.com/clearwave/clearwave/internal/ledger"
	"github.com/clearwave/clearwave/internal/money"
	"github.com/clearwave/clearwave/internal/notification"
)

// feeOwnerID owns the internal revenue accounts that collect transfer fees,
// one per currency.
const feeOwnerID = "system:fees"

// lockRetries bounds the read-modify-write cycles retried on version conflicts.
const lockRetries = 3

// Service coordinates the transfer lifecycle over the ledger store.
type Service struct {
	store           ledger.Store
	guard           *idempotency.Guard
	clock           clock.Clock
	logger          *slog.Logger
	notifier        notification.Notifier
	confirmationTTL time.Duration
}

// NewService builds a transfer service. confirmationTTL bounds how long a
// confirmable transfer waits for the recipient.
func NewService(store ledger.Store, guard *idempotency.Guard, clk clock.Clock, logger *slog.Logger, notifier notification.Notifier, confirmationTTL time.Duration) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if confirmationTTL <= 0 {
		confirmationTTL = 24 * time.Hour
	}
	return &Service{
		store:           store,
		guard:           guard,
		clock:           clk,
		logger:          logger,
		notifier:        notifier,
		confirmationTTL: confirmationTTL,
	}
}

// TransferInput captures a request to move funds between two accounts.
type TransferInput struct {
	SourceAccountID      string
	DestinationAccountID string
	Amount               int64
	Fee                  int64
	Currency             string
	IdempotencyKey       string
	RequestorUserID      string
	RequireConfirmation  bool
	Metadata             map[string]string
}

// ConfirmInput identifies a pending transfer and carries the recipient's
// one-time token.
type ConfirmInput struct {
	TransactionID   string
	Token           string
	RequestorUserID string
}

// CancelInput identifies a pending transfer the sender wants to withdraw.
type CancelInput struct {
	TransactionID   string
	RequestorUserID string
}

// TransferResult is the outcome of an initiation. ConfirmationToken is set
// exactly once, for confirmable transfers on first initiation; replays of the
// same idempotency key never see it again.
type TransferResult struct {
	Transaction       *ledger.Transaction
	ConfirmationToken string
}

// InitiateTransfer holds amount+fee on the sender and either settles
// immediately or parks the transfer awaiting recipient confirmation.
func (s *Service) InitiateTransfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	amount, err := money.New(input.Amount, money.Currency(input.Currency))
	if err != nil {
		return TransferResult{}, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	fee, err := money.New(input.Fee, money.Currency(input.Currency))
	if err != nil {
		return TransferResult{}, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	sourceID, err := ledger.ParseAccountID(input.SourceAccountID)
	if err != nil {
		return TransferResult{}, err
	}
	destinationID, err := ledger.ParseAccountID(input.DestinationAccountID)
	if err != nil {
		return TransferResult{}, err
	}
	key := ledger.IdempotencyKey(input.IdempotencyKey)

	if existing, err := s.store.TransactionByIdempotencyKey(ctx, ledger.TypeTransfer, key); err == nil {
		return TransferResult{Transaction: existing}, nil
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return TransferResult{}, err
	}

	release, err := s.guard.Reserve(ctx, "transfer", key)
	if err != nil {
		return TransferResult{}, err
	}

	source, err := s.store.Account(ctx, sourceID)
	if err != nil {
		release()
		return TransferResult{}, err
	}
	if input.RequestorUserID != "" && source.OwnerID != input.RequestorUserID {
		release()
		return TransferResult{}, fmt.Errorf("%w: requestor does not own the source account", ledger.ErrUnauthorized)
	}
	destination, err := s.store.Account(ctx, destinationID)
	if err != nil {
		release()
		return TransferResult{}, err
	}
	if destination.Status != ledger.AccountActive {
		release()
		return TransferResult{}, fmt.Errorf("%w: account %s is %s", ledger.ErrAccountNotActive, destination.ID, destination.Status)
	}

	now := s.clock.Now()
	var (
		tx    *ledger.Transaction
		token string
	)
	if input.RequireConfirmation {
		tx, token, err = ledger.NewConfirmableTransfer(key, sourceID, destinationID, amount, fee, s.confirmationTTL, now)
	} else {
		tx, err = ledger.NewTransfer(key, sourceID, destinationID, amount, fee, now)
	}
	if err != nil {
		release()
		return TransferResult{}, err
	}
	tx.Metadata = input.Metadata

	total, err := amount.Add(fee)
	if err != nil {
		release()
		return TransferResult{}, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}

	err = s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			source, err := store.Account(ctx, sourceID)
			if err != nil {
				return err
			}
			version := source.Version
			if err := source.Hold(total, version); err != nil {
				return err
			}
			if err := store.UpdateAccount(ctx, source, version); err != nil {
				return err
			}
			if err := store.CreateTransaction(ctx, tx); err != nil {
				return err
			}
			if !input.RequireConfirmation {
				return s.settle(ctx, store, tx)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			existing, lookupErr := s.store.TransactionByIdempotencyKey(ctx, ledger.TypeTransfer, key)
			if lookupErr != nil {
				return TransferResult{}, lookupErr
			}
			return TransferResult{Transaction: existing}, nil
		}
		release()
		return TransferResult{}, err
	}

	if input.RequireConfirmation {
		s.notify(ctx, notification.KindTransferPending, tx, destination.OwnerID)
	} else {
		s.notify(ctx, notification.KindTransferCompleted, tx, destination.OwnerID)
	}

	s.logger.Info("transfer initiated",
		"transaction_id", tx.ID.String(),
		"source_account_id", sourceID.String(),
		"destination_account_id", destinationID.String(),
		"amount", amount.String(),
		"status", string(tx.Status))
	return TransferResult{Transaction: tx, ConfirmationToken: token}, nil
}

// ConfirmTransfer validates the recipient's token and settles the transfer.
// Only the owner of the destination account may confirm.
func (s *Service) ConfirmTransfer(ctx context.Context, input ConfirmInput) (*ledger.Transaction, error) {
	id, err := ledger.ParseTransactionID(input.TransactionID)
	if err != nil {
		return nil, err
	}

	var result *ledger.Transaction
	err = s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			tx, err := loadTransfer(ctx, store, id)
			if err != nil {
				return err
			}
			if input.RequestorUserID != "" {
				destination, err := store.Account(ctx, tx.DestinationAccountID)
				if err != nil {
					return err
				}
				if destination.OwnerID != input.RequestorUserID {
					return fmt.Errorf("%w: only the recipient may confirm", ledger.ErrUnauthorized)
				}
			}
			if err := tx.Confirm(input.Token, s.clock.Now()); err != nil {
				return err
			}
			if err := s.settle(ctx, store, tx); err != nil {
				return err
			}
			result = tx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.KindTransferCompleted, result, "")
	return result, nil
}

// CancelTransfer withdraws a transfer still awaiting confirmation and returns
// the held funds to the sender. Only the sender may cancel.
func (s *Service) CancelTransfer(ctx context.Context, input CancelInput) (*ledger.Transaction, error) {
	id, err := ledger.ParseTransactionID(input.TransactionID)
	if err != nil {
		return nil, err
	}

	var result *ledger.Transaction
	err = s.withLockRetry(func() error {
		return s.store.Atomic(ctx, func(store ledger.Store) error {
			tx, err := loadTransfer(ctx, store, id)
			if err != nil {
				return err
			}
			if input.RequestorUserID != "" {
				source, err := store.Account(ctx, tx.SourceAccountID)
				if err != nil {
					return err
				}
				if source.OwnerID != input.RequestorUserID {
					return fmt.Errorf("%w: only the sender may cancel", ledger.ErrUnauthorized)
				}
			}
			return s.cancel(ctx, store, tx, &result)
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.KindTransferCancelled, result, "")
	return result, nil
}

// CancelExpired sweeps transfers whose confirmation window has lapsed,
// cancelling each and releasing its hold. It returns how many were cancelled.
// Intended to be invoked periodically by the operator or a scheduler.
func (s *Service) CancelExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.store.AwaitingConfirmationBefore(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, candidate := range expired {
		id := candidate.ID
		var out *ledger.Transaction
		err := s.withLockRetry(func() error {
			return s.store.Atomic(ctx, func(store ledger.Store) error {
				tx, err := loadTransfer(ctx, store, id)
				if err != nil {
					return err
				}
				// Re-check under the lock; a confirmation may have won the race.
				if tx.Status != ledger.StatusAwaitingConfirmation || tx.ConfirmationExpiresAt.After(s.clock.Now()) {
					return nil
				}
				return s.cancel(ctx, store, tx, &out)
			})
		})
		if err != nil {
			s.logger.Warn("expired transfer sweep failed", "transaction_id", id.String(), "error", err)
			continue
		}
		if out != nil {
			s.notify(ctx, notification.KindTransferCancelled, out, "")
			cancelled++
		}
	}
	if cancelled > 0 {
		s.logger.Info("expired transfers cancelled", "count", cancelled)
	}
	return cancelled, nil
}

// Transaction looks up a single transfer.
func (s *Service) Transaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	txID, err := ledger.ParseTransactionID(id)
	if err != nil {
		return nil, err
	}
	return s.store.Transaction(ctx, txID)
}

// settle posts the balanced entries and completes the transfer: the sender's
// hold converts to a debit of amount+fee, the recipient is credited the
// amount, and any fee is credited to the per-currency revenue account.
func (s *Service) settle(ctx context.Context, store ledger.Store, tx *ledger.Transaction) error {
	if tx.Status == ledger.StatusPending {
		if err := tx.MarkProcessing(); err != nil {
			return err
		}
	}

	total, err := tx.Amount.Add(tx.Fee)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	source, err := store.Account(ctx, tx.SourceAccountID)
	if err != nil {
		return err
	}
	sourceVersion := source.Version
	if err := source.DebitHeld(total, sourceVersion); err != nil {
		return err
	}
	if err := store.UpdateAccount(ctx, source, sourceVersion); err != nil {
		return err
	}

	destination, err := store.Account(ctx, tx.DestinationAccountID)
	if err != nil {
		return err
	}
	destinationVersion := destination.Version
	if err := destination.Credit(tx.Amount, destinationVersion); err != nil {
		return err
	}
	if err := store.UpdateAccount(ctx, destination, destinationVersion); err != nil {
		return err
	}

	debit, err := ledger.NewEntry(tx.ID, source.ID, ledger.Debit, total, now)
	if err != nil {
		return err
	}
	credit, err := ledger.NewEntry(tx.ID, destination.ID, ledger.Credit, tx.Amount, now)
	if err != nil {
		return err
	}
	entries := []ledger.Entry{debit, credit}

	if tx.Fee.IsPositive() {
		feeAccount, err := s.ensureFeeAccount(ctx, store, tx.Fee.Currency())
		if err != nil {
			return err
		}
		feeVersion := feeAccount.Version
		if err := feeAccount.Credit(tx.Fee, feeVersion); err != nil {
			return err
		}
		if err := store.UpdateAccount(ctx, feeAccount, feeVersion); err != nil {
			return err
		}
		feeEntry, err := ledger.NewEntry(tx.ID, feeAccount.ID, ledger.Credit, tx.Fee, now)
		if err != nil {
			return err
		}
		entries = append(entries, feeEntry)
	}

	if err := tx.Complete(entries, now); err != nil {
		return err
	}
	return store.UpdateTransaction(ctx, tx)
}

// cancel terminates an awaiting transfer and releases the sender's hold.
func (s *Service) cancel(ctx context.Context, store ledger.Store, tx *ledger.Transaction, out **ledger.Transaction) error {
	total, err := tx.Amount.Add(tx.Fee)
	if err != nil {
		return err
	}
	if err := tx.Cancel(s.clock.Now()); err != nil {
		return err
	}

	source, err := store.Account(ctx, tx.SourceAccountID)
	if err != nil {
		return err
	}
	version := source.Version
	if err := source.ReleaseHold(total, version); err != nil {
		return err
	}
	if err := store.UpdateAccount(ctx, source, version); err != nil {
		return err
	}
	if err := store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	*out = tx
	return nil
}

// ensureFeeAccount finds or provisions the revenue account for the currency.
func (s *Service) ensureFeeAccount(ctx context.Context, store ledger.Store, currency money.Currency) (*ledger.Account, error) {
	account, err := store.AccountByOwner(ctx, feeOwnerID, currency)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, err
	}
	account, err = ledger.NewAccount(feeOwnerID, currency, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func loadTransfer(ctx context.Context, store ledger.Store, id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, err := store.Transaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Type != ledger.TypeTransfer {
		return nil, fmt.Errorf("%w: transaction %s is a %s, expected transfer", ledger.ErrValidation, tx.ID, tx.Type)
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

func (s *Service) notify(ctx context.Context, kind string, tx *ledger.Transaction, destination string) {
	if s.notifier == nil || tx == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:          kind,
		TransactionID: tx.ID.String(),
		Destination:   destination,
		Body:          fmt.Sprintf("%s %s: %s", tx.Type, tx.Status, tx.Amount),
	})
}

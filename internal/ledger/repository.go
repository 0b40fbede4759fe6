package ledger

import (
	"context"
	"time"

	"github.com/clearwave/clearwave/internal/money"
)

// Store is the persistence contract for accounts, transactions, and their
// entries. Implementations must enforce two things at the storage boundary:
// the optimistic version check on account updates, and uniqueness of a
// transaction's (type, idempotency key) pair.
type Store interface {
	// CreateAccount inserts a new account aggregate.
	CreateAccount(ctx context.Context, account *Account) error
	// Account loads an account by id, or ErrAccountNotFound.
	Account(ctx context.Context, id AccountID) (*Account, error)
	// AccountByOwner loads the owner's account in the given currency, or
	// ErrAccountNotFound. Each owner has at most one account per currency.
	AccountByOwner(ctx context.Context, ownerID string, currency money.Currency) (*Account, error)
	// UpdateAccount writes the mutated aggregate. The write succeeds only if
	// the stored version still equals expectedVersion; otherwise it fails
	// with ErrOptimisticLock and the aggregate is unchanged in storage.
	UpdateAccount(ctx context.Context, account *Account, expectedVersion int64) error

	// CreateTransaction inserts a new transaction. A (type, idempotency key)
	// collision fails with ErrDuplicateIdempotencyKey, closing the race
	// between two concurrent identical commands.
	CreateTransaction(ctx context.Context, tx *Transaction) error
	// Transaction loads a transaction with its entries, or ErrTransactionNotFound.
	Transaction(ctx context.Context, id TransactionID) (*Transaction, error)
	// TransactionByIdempotencyKey returns the transaction previously created
	// under the key within the command-type namespace, or ErrTransactionNotFound.
	TransactionByIdempotencyKey(ctx context.Context, txType TransactionType, key IdempotencyKey) (*Transaction, error)
	// TransactionByExternalReference resolves a provider reference (e.g. from
	// a webhook event) to its transaction, or ErrTransactionNotFound.
	TransactionByExternalReference(ctx context.Context, ref ExternalReference) (*Transaction, error)
	// UpdateTransaction persists status, audit fields, and (once) the entries
	// of a completed transaction. Entries are insert-only.
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	// AwaitingConfirmationBefore lists transfers still awaiting confirmation
	// whose token expired before cutoff, for the explicit expiry sweep.
	AwaitingConfirmationBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
	// CountByAccountAndStatus counts transactions touching the account in the
	// given status.
	CountByAccountAndStatus(ctx context.Context, id AccountID, status TransactionStatus) (int, error)

	// Atomic runs fn against a store view whose writes commit together or
	// not at all, so a hold and its transaction (or a credit and its
	// completion) cannot half-apply.
	Atomic(ctx context.Context, fn func(Store) error) error
}

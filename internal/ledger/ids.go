package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Typed identifiers keep transaction, account, and idempotency references from
// being swapped for one another at compile time.

// TransactionID identifies a transaction aggregate.
type TransactionID string

// AccountID identifies an account aggregate.
type AccountID string

// IdempotencyKey is a caller-supplied token deduplicating a command.
type IdempotencyKey string

// ExternalReference is the payment provider's identifier for an operation
// (e.g. a payment intent or payout id).
type ExternalReference string

// NewTransactionID allocates a random transaction identifier.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// NewAccountID allocates a random account identifier.
func NewAccountID() AccountID {
	return AccountID(uuid.NewString())
}

// ParseTransactionID validates and converts a raw string.
func ParseTransactionID(s string) (TransactionID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: transaction id %q", ErrValidation, s)
	}
	return TransactionID(s), nil
}

// ParseAccountID validates and converts a raw string.
func ParseAccountID(s string) (AccountID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: account id %q", ErrValidation, s)
	}
	return AccountID(s), nil
}

func (id TransactionID) String() string  { return string(id) }
func (id AccountID) String() string      { return string(id) }
func (k IdempotencyKey) String() string  { return string(k) }
func (r ExternalReference) String() string { return string(r) }

package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/clearwave/clearwave/internal/money"
)

// EntryType marks a ledger line as a debit or a credit.
type EntryType string

const (
	// Debit decreases the account's balance.
	Debit EntryType = "debit"
	// Credit increases the account's balance.
	Credit EntryType = "credit"
)

// Entry is one immutable debit or credit line attached to a completed
// transaction and an account. Entries are never updated or deleted.
type Entry struct {
	ID            string
	TransactionID TransactionID
	AccountID     AccountID
	Type          EntryType
	Amount        money.Money
	CreatedAt     time.Time
}

// NewEntry builds a ledger line. The amount must be strictly positive.
func NewEntry(txID TransactionID, accountID AccountID, entryType EntryType, amount money.Money, at time.Time) (Entry, error) {
	if entryType != Debit && entryType != Credit {
		return Entry{}, ErrValidation
	}
	if !amount.IsPositive() {
		return Entry{}, ErrValidation
	}
	return Entry{
		ID:            uuid.NewString(),
		TransactionID: txID,
		AccountID:     accountID,
		Type:          entryType,
		Amount:        amount,
		CreatedAt:     at.UTC(),
	}, nil
}

// sumByType totals entry amounts for one entry type. All entries are assumed
// to share a currency; mixed currencies fail entry validation earlier.
func sumByType(entries []Entry, entryType EntryType) int64 {
	var total int64
	for _, e := range entries {
		if e.Type == entryType {
			total += e.Amount.Amount()
		}
	}
	return total
}

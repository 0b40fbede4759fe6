package ledger

import (
	"fmt"
	"time"

	"github.com/clearwave/clearwave/internal/money"
)

// AccountStatus describes whether an account can be mutated.
type AccountStatus string

const (
	// AccountActive allows all operations.
	AccountActive AccountStatus = "active"
	// AccountFrozen blocks holds, debits, and credits.
	AccountFrozen AccountStatus = "frozen"
	// AccountClosed blocks everything; closed accounts are never deleted.
	AccountClosed AccountStatus = "closed"
)

// Account is a versioned balance aggregate. Balance and HeldAmount share one
// currency; Balance - HeldAmount never drops below zero.
// Version is the optimistic-lock token: every committed mutation bumps it and
// the persistence layer only accepts writes carrying the expected version.
type Account struct {
	ID         AccountID
	OwnerID    string
	Balance    money.Money
	HeldAmount money.Money
	Version    int64
	Status     AccountStatus
	CreatedAt  time.Time
}

// NewAccount provisions an active zero-balance account for the owner.
func NewAccount(ownerID string, currency money.Currency, now time.Time) (*Account, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("%w: currency %q", ErrValidation, currency)
	}
	return &Account{
		ID:         NewAccountID(),
		OwnerID:    ownerID,
		Balance:    money.Zero(currency),
		HeldAmount: money.Zero(currency),
		Version:    1,
		Status:     AccountActive,
		CreatedAt:  now.UTC(),
	}, nil
}

// Currency returns the account's currency.
func (a *Account) Currency() money.Currency { return a.Balance.Currency() }

// AvailableBalance is Balance minus HeldAmount, the funds not reserved by
// in-flight transfers or withdrawals.
func (a *Account) AvailableBalance() money.Money {
	available, err := a.Balance.Subtract(a.HeldAmount)
	if err != nil {
		// Unreachable: HeldAmount never exceeds Balance.
		return money.Zero(a.Currency())
	}
	return available
}

// Hold reserves amount against the available balance. The caller supplies the
// version it loaded; a stale version fails with ErrOptimisticLock before any
// state is touched.
func (a *Account) Hold(amount money.Money, version int64) error {
	if err := a.mutable(version, amount); err != nil {
		return err
	}
	less, err := a.AvailableBalance().LessThan(amount)
	if err != nil {
		return err
	}
	if less {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientFunds, a.AvailableBalance(), amount)
	}
	held, err := a.HeldAmount.Add(amount)
	if err != nil {
		return err
	}
	a.HeldAmount = held
	a.Version++
	return nil
}

// ReleaseHold returns previously held funds to the available balance,
// used when a transfer or withdrawal is cancelled or fails.
func (a *Account) ReleaseHold(amount money.Money, version int64) error {
	if err := a.mutable(version, amount); err != nil {
		return err
	}
	held, err := a.HeldAmount.Subtract(amount)
	if err != nil {
		return fmt.Errorf("%w: release exceeds held amount", ErrValidation)
	}
	a.HeldAmount = held
	a.Version++
	return nil
}

// Debit permanently removes amount from the balance. The available balance
// must cover it; held funds are untouched.
func (a *Account) Debit(amount money.Money, version int64) error {
	if err := a.mutable(version, amount); err != nil {
		return err
	}
	less, err := a.AvailableBalance().LessThan(amount)
	if err != nil {
		return err
	}
	if less {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientFunds, a.AvailableBalance(), amount)
	}
	balance, err := a.Balance.Subtract(amount)
	if err != nil {
		return err
	}
	a.Balance = balance
	a.Version++
	return nil
}

// DebitHeld converts a hold into a permanent debit: the balance and the held
// amount both decrease by amount, releasing the reservation as it settles.
func (a *Account) DebitHeld(amount money.Money, version int64) error {
	if err := a.mutable(version, amount); err != nil {
		return err
	}
	held, err := a.HeldAmount.Subtract(amount)
	if err != nil {
		return fmt.Errorf("%w: debit exceeds held amount", ErrValidation)
	}
	balance, err := a.Balance.Subtract(amount)
	if err != nil {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, a.Balance, amount)
	}
	a.HeldAmount = held
	a.Balance = balance
	a.Version++
	return nil
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount money.Money, version int64) error {
	if err := a.mutable(version, amount); err != nil {
		return err
	}
	balance, err := a.Balance.Add(amount)
	if err != nil {
		return err
	}
	a.Balance = balance
	a.Version++
	return nil
}

func (a *Account) mutable(version int64, amount money.Money) error {
	if a.Status != AccountActive {
		return fmt.Errorf("%w: account %s is %s", ErrAccountNotActive, a.ID, a.Status)
	}
	if version != a.Version {
		return fmt.Errorf("%w: account %s at version %d, caller supplied %d", ErrOptimisticLock, a.ID, a.Version, version)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if amount.Currency() != a.Currency() {
		return fmt.Errorf("%w: account currency %s, amount currency %s", ErrValidation, a.Currency(), amount.Currency())
	}
	return nil
}

// Clone returns a deep copy, used by the in-memory store so callers never
// share live aggregate state.
func (a *Account) Clone() *Account {
	copied := *a
	return &copied
}

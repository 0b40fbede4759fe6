// Package money implements a fixed-point monetary value object. Amounts are
// stored as int64 in the smallest currency unit (e.g. cents); arithmetic never
// touches floating point and every operation requires matching currencies.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrCurrencyMismatch occurs when two values with different currencies
	// are combined or compared.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrNegativeResult occurs when a subtraction would produce a negative
	// amount. Callers decide what that means (typically insufficient funds).
	ErrNegativeResult = errors.New("negative amount result")

	// ErrInvalidAmount occurs when constructing money with a negative amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency occurs when the currency code is not three uppercase letters.
	ErrInvalidCurrency = errors.New("invalid currency code")
)

// Currency is a three-letter uppercase currency code (ISO 4217 style).
type Currency string

// IsValid reports whether the code is three uppercase ASCII letters.
func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}

// String returns the currency code.
func (c Currency) String() string { return string(c) }

// Money is an immutable amount in the smallest unit of a single currency.
type Money struct {
	amount   int64
	currency Currency
}

// New builds a Money value from a smallest-unit amount and currency code.
// The amount must be non-negative and the currency valid.
func New(amount int64, currency Currency) (Money, error) {
	if amount < 0 {
		return Money{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if !currency.IsValid() {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return Money{amount: amount, currency: currency}, nil
}

// Must is New that panics on invalid input. Intended for tests and constants.
func Must(amount int64, currency Currency) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(fmt.Sprintf("money.Must(%d, %s): %v", amount, currency, err))
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{amount: 0, currency: currency}
}

// Amount returns the smallest-unit amount.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the currency code.
func (m Money) Currency() Currency { return m.currency }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount == 0 }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.amount > 0 }

// Add returns m + other. Currencies must match.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Subtract returns m - other. Currencies must match and the result must not
// be negative; a would-be-negative result returns ErrNegativeResult.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if m.amount < other.amount {
		return Money{}, fmt.Errorf("%w: %d - %d %s", ErrNegativeResult, m.amount, other.amount, m.currency)
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// GreaterThan reports whether m > other. Currencies must match.
func (m Money) GreaterThan(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount > other.amount, nil
}

// LessThan reports whether m < other. Currencies must match.
func (m Money) LessThan(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount < other.amount, nil
}

// Equals reports whether both amount and currency are equal.
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount == other.amount
}

// String renders the value as "<amount> <currency>" in smallest units.
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.amount, m.currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

type moneyJSON struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the value as {"amount": n, "currency": "XXX"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: string(m.currency)})
}

// UnmarshalJSON decodes and validates a {"amount", "currency"} pair.
func (m *Money) UnmarshalJSON(data []byte) error {
	var aux moneyJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	parsed, err := New(aux.Amount, Currency(aux.Currency))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearwave/clearwave/internal/money"
)

func activeAccount(t *testing.T, balance int64) *Account {
	t.Helper()
	account, err := NewAccount("user-1", "USD", time.Now())
	require.NoError(t, err)
	account.Balance = money.Must(balance, "USD")
	return account
}

func TestNewAccount(t *testing.T) {
	account, err := NewAccount("user-1", "USD", time.Now())
	require.NoError(t, err)
	assert.Equal(t, AccountActive, account.Status)
	assert.Equal(t, int64(1), account.Version)
	assert.True(t, account.Balance.IsZero())
	assert.True(t, account.HeldAmount.IsZero())

	_, err = NewAccount("", "USD", time.Now())
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewAccount("user-1", "usd", time.Now())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHold(t *testing.T) {
	account := activeAccount(t, 10_000)

	require.NoError(t, account.Hold(money.Must(5_000, "USD"), 1))
	assert.Equal(t, int64(5_000), account.HeldAmount.Amount())
	assert.Equal(t, int64(5_000), account.AvailableBalance().Amount())
	assert.Equal(t, int64(10_000), account.Balance.Amount())
	assert.Equal(t, int64(2), account.Version)

	// Available is now 5 000; a larger hold must fail and change nothing.
	err := account.Hold(money.Must(6_000, "USD"), 2)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(5_000), account.HeldAmount.Amount())
	assert.Equal(t, int64(2), account.Version)
}

func TestHoldStaleVersion(t *testing.T) {
	account := activeAccount(t, 10_000)

	err := account.Hold(money.Must(1_000, "USD"), 99)
	assert.ErrorIs(t, err, ErrOptimisticLock)
	assert.True(t, account.HeldAmount.IsZero())
}

func TestReleaseHold(t *testing.T) {
	account := activeAccount(t, 10_000)
	require.NoError(t, account.Hold(money.Must(3_000, "USD"), 1))

	require.NoError(t, account.ReleaseHold(money.Must(3_000, "USD"), 2))
	assert.True(t, account.HeldAmount.IsZero())
	assert.Equal(t, int64(10_000), account.Balance.Amount())
	assert.Equal(t, int64(3), account.Version)

	err := account.ReleaseHold(money.Must(1, "USD"), 3)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDebitHeld(t *testing.T) {
	account := activeAccount(t, 10_000)
	require.NoError(t, account.Hold(money.Must(4_000, "USD"), 1))

	require.NoError(t, account.DebitHeld(money.Must(4_000, "USD"), 2))
	assert.Equal(t, int64(6_000), account.Balance.Amount())
	assert.True(t, account.HeldAmount.IsZero())
	assert.Equal(t, int64(6_000), account.AvailableBalance().Amount())

	// Without a matching hold the settle-style debit is invalid.
	err := account.DebitHeld(money.Must(1_000, "USD"), 3)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDebitAndCredit(t *testing.T) {
	account := activeAccount(t, 10_000)

	require.NoError(t, account.Debit(money.Must(2_500, "USD"), 1))
	assert.Equal(t, int64(7_500), account.Balance.Amount())

	require.NoError(t, account.Credit(money.Must(500, "USD"), 2))
	assert.Equal(t, int64(8_000), account.Balance.Amount())
	assert.Equal(t, int64(3), account.Version)

	err := account.Debit(money.Must(100_000, "USD"), 3)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestDebitRespectsHeldFunds(t *testing.T) {
	account := activeAccount(t, 10_000)
	require.NoError(t, account.Hold(money.Must(8_000, "USD"), 1))

	// Only 2 000 is available; a plain debit cannot touch held funds.
	err := account.Debit(money.Must(3_000, "USD"), 2)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestMutationsRejectInactiveAccount(t *testing.T) {
	account := activeAccount(t, 10_000)
	account.Status = AccountFrozen

	assert.ErrorIs(t, account.Hold(money.Must(100, "USD"), 1), ErrAccountNotActive)
	assert.ErrorIs(t, account.Credit(money.Must(100, "USD"), 1), ErrAccountNotActive)
}

func TestMutationsRejectCurrencyMismatch(t *testing.T) {
	account := activeAccount(t, 10_000)
	assert.ErrorIs(t, account.Hold(money.Must(100, "EUR"), 1), ErrValidation)
}

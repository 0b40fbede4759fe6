package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearwave/clearwave/internal/money"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func creditEntry(t *testing.T, tx *Transaction, account AccountID, amount int64) Entry {
	t.Helper()
	entry, err := NewEntry(tx.ID, account, Credit, money.Must(amount, "USD"), testNow)
	require.NoError(t, err)
	return entry
}

func debitEntry(t *testing.T, tx *Transaction, account AccountID, amount int64) Entry {
	t.Helper()
	entry, err := NewEntry(tx.ID, account, Debit, money.Must(amount, "USD"), testNow)
	require.NoError(t, err)
	return entry
}

func TestNewDeposit(t *testing.T) {
	dest := NewAccountID()
	tx, err := NewDeposit("dep-1", dest, money.Must(10_000, "USD"), testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, TypeDeposit, tx.Type)
	assert.Equal(t, dest, tx.DestinationAccountID)
	assert.Empty(t, tx.Entries())
	assert.False(t, tx.RequiresConfirmation())

	_, err = NewDeposit("", dest, money.Must(1, "USD"), testNow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewDeposit("dep-2", dest, money.Zero("USD"), testNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewConfirmableTransfer(t *testing.T) {
	source, dest := NewAccountID(), NewAccountID()
	tx, token, err := NewConfirmableTransfer("tr-1", source, dest, money.Must(5_000, "USD"), money.Zero("USD"), 15*time.Minute, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirmation, tx.Status)
	assert.NotEmpty(t, token)
	assert.True(t, tx.RequiresConfirmation())
	assert.Equal(t, testNow.Add(15*time.Minute), tx.ConfirmationExpiresAt)
	assert.NotEmpty(t, tx.ConfirmationTokenHash())

	_, _, err = NewConfirmableTransfer("tr-2", source, source, money.Must(1, "USD"), money.Zero("USD"), time.Minute, testNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfirm(t *testing.T) {
	source, dest := NewAccountID(), NewAccountID()
	tx, token, err := NewConfirmableTransfer("tr-1", source, dest, money.Must(5_000, "USD"), money.Zero("USD"), 15*time.Minute, testNow)
	require.NoError(t, err)

	require.NoError(t, tx.Confirm(token, testNow.Add(time.Minute)))
	assert.Equal(t, StatusProcessing, tx.Status)
	assert.Empty(t, tx.ConfirmationTokenHash(), "token must be single-use")

	// A second confirm is an illegal transition, not a token problem.
	err = tx.Confirm(token, testNow.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransactionState)
}

func TestConfirmWrongToken(t *testing.T) {
	tx, _, err := NewConfirmableTransfer("tr-1", NewAccountID(), NewAccountID(), money.Must(5_000, "USD"), money.Zero("USD"), 15*time.Minute, testNow)
	require.NoError(t, err)

	err = tx.Confirm("not-the-token", testNow.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidConfirmationToken)
	assert.Equal(t, StatusAwaitingConfirmation, tx.Status)
}

func TestConfirmExpiredToken(t *testing.T) {
	tx, token, err := NewConfirmableTransfer("tr-1", NewAccountID(), NewAccountID(), money.Must(5_000, "USD"), money.Zero("USD"), 15*time.Minute, testNow)
	require.NoError(t, err)

	err = tx.Confirm(token, testNow.Add(16*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidConfirmationToken)
	assert.Equal(t, StatusAwaitingConfirmation, tx.Status, "expiry must leave status unchanged")
}

func TestCancel(t *testing.T) {
	tx, _, err := NewConfirmableTransfer("tr-1", NewAccountID(), NewAccountID(), money.Must(5_000, "USD"), money.Zero("USD"), 15*time.Minute, testNow)
	require.NoError(t, err)

	require.NoError(t, tx.Cancel(testNow.Add(time.Minute)))
	assert.Equal(t, StatusCancelled, tx.Status)
	assert.False(t, tx.CompletedAt.IsZero())

	// Pending transactions are not cancellable, only awaiting_confirmation.
	pending, err := NewDeposit("dep-1", NewAccountID(), money.Must(100, "USD"), testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, pending.Cancel(testNow), ErrInvalidTransactionState)
}

func TestCompleteDeposit(t *testing.T) {
	dest := NewAccountID()
	tx, err := NewDeposit("dep-1", dest, money.Must(10_000, "USD"), testNow)
	require.NoError(t, err)

	require.NoError(t, tx.MarkProcessing())
	require.NoError(t, tx.Complete([]Entry{creditEntry(t, tx, dest, 10_000)}, testNow))
	assert.Equal(t, StatusCompleted, tx.Status)
	assert.Len(t, tx.Entries(), 1)
	assert.False(t, tx.CompletedAt.IsZero())
}

func TestCompleteDepositRejectsDebits(t *testing.T) {
	dest := NewAccountID()
	tx, err := NewDeposit("dep-1", dest, money.Must(10_000, "USD"), testNow)
	require.NoError(t, err)

	err = tx.Complete([]Entry{debitEntry(t, tx, dest, 10_000)}, testNow)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StatusPending, tx.Status)
}

func TestCompleteWithdrawalDebitOnly(t *testing.T) {
	source := NewAccountID()
	tx, err := NewWithdrawal("wd-1", source, money.Must(3_000, "USD"), testNow)
	require.NoError(t, err)

	err = tx.Complete([]Entry{creditEntry(t, tx, source, 3_000)}, testNow)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, tx.Complete([]Entry{debitEntry(t, tx, source, 3_000)}, testNow))
	assert.Equal(t, StatusCompleted, tx.Status)
}

func TestCompleteTransferRequiresBalancedEntries(t *testing.T) {
	source, dest := NewAccountID(), NewAccountID()
	tx, err := NewTransfer("tr-1", source, dest, money.Must(5_000, "USD"), money.Zero("USD"), testNow)
	require.NoError(t, err)

	err = tx.Complete([]Entry{
		debitEntry(t, tx, source, 5_000),
		creditEntry(t, tx, dest, 4_000),
	}, testNow)
	assert.ErrorIs(t, err, ErrUnbalancedEntries)

	err = tx.Complete([]Entry{debitEntry(t, tx, source, 5_000)}, testNow)
	assert.ErrorIs(t, err, ErrUnbalancedEntries)

	require.NoError(t, tx.Complete([]Entry{
		debitEntry(t, tx, source, 5_000),
		creditEntry(t, tx, dest, 5_000),
	}, testNow))

	debits := sumByType(tx.Entries(), Debit)
	credits := sumByType(tx.Entries(), Credit)
	assert.Equal(t, debits, credits)
}

func TestTerminalTransactionsAreImmutable(t *testing.T) {
	dest := NewAccountID()
	tx, err := NewDeposit("dep-1", dest, money.Must(100, "USD"), testNow)
	require.NoError(t, err)
	require.NoError(t, tx.Fail(map[string]string{"code": "card_declined"}, testNow))

	assert.ErrorIs(t, tx.MarkProcessing(), ErrInvalidTransactionState)
	assert.ErrorIs(t, tx.Complete([]Entry{creditEntry(t, tx, dest, 100)}, testNow), ErrInvalidTransactionState)
	assert.ErrorIs(t, tx.Fail(nil, testNow), ErrInvalidTransactionState)
	assert.Equal(t, "card_declined", tx.ErrorDetails["code"])
}

func TestReverse(t *testing.T) {
	dest := NewAccountID()
	tx, err := NewDeposit("dep-1", dest, money.Must(100, "USD"), testNow)
	require.NoError(t, err)

	assert.ErrorIs(t, tx.Reverse(testNow), ErrInvalidTransactionState)

	require.NoError(t, tx.Complete([]Entry{creditEntry(t, tx, dest, 100)}, testNow))
	require.NoError(t, tx.Reverse(testNow))
	assert.Equal(t, StatusReversed, tx.Status)

	assert.ErrorIs(t, tx.Reverse(testNow), ErrInvalidTransactionState)
}

func TestEntriesReturnsCopy(t *testing.T) {
	dest := NewAccountID()
	tx, err := NewDeposit("dep-1", dest, money.Must(100, "USD"), testNow)
	require.NoError(t, err)
	require.NoError(t, tx.Complete([]Entry{creditEntry(t, tx, dest, 100)}, testNow))

	leaked := tx.Entries()
	leaked[0].Type = Debit
	assert.Equal(t, Credit, tx.Entries()[0].Type)
}

func TestNewRefund(t *testing.T) {
	dest := NewAccountID()
	parent, err := NewDeposit("dep-1", dest, money.Must(10_000, "USD"), testNow)
	require.NoError(t, err)

	_, err = NewRefund("ref-1", parent, money.Must(10_000, "USD"), testNow)
	assert.ErrorIs(t, err, ErrInvalidTransactionState, "refunds require a completed parent")

	require.NoError(t, parent.Complete([]Entry{creditEntry(t, parent, dest, 10_000)}, testNow))

	refund, err := NewRefund("ref-1", parent, money.Must(4_000, "USD"), testNow)
	require.NoError(t, err)
	assert.Equal(t, TypeRefund, refund.Type)
	assert.Equal(t, parent.ID, refund.ParentTransactionID)
	assert.Equal(t, dest, refund.SourceAccountID)

	_, err = NewRefund("ref-2", parent, money.Must(20_000, "USD"), testNow)
	assert.ErrorIs(t, err, ErrValidation, "refund cannot exceed the original amount")
}

func TestStatusPredicates(t *testing.T) {
	for status, terminal := range map[TransactionStatus]bool{
		StatusPending:              false,
		StatusAwaitingConfirmation: false,
		StatusProcessing:           false,
		StatusCompleted:            true,
		StatusFailed:               true,
		StatusCancelled:            true,
		StatusReversed:             true,
	} {
		assert.Equal(t, terminal, status.Terminal(), "status %s", status)
		assert.Equal(t, !terminal, status.Modifiable(), "status %s", status)
	}
}

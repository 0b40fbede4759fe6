package funding

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearwave/clearwave/internal/clock"
	"github.com/clearwave/clearwave/internal/gateway"
	"github.com/clearwave/clearwave/internal/ledger"
	"github.com/clearwave/clearwave/internal/logging"
	"github.com/clearwave/clearwave/internal/money"
)

type fixture struct {
	service *Service
	store   *ledger.MemoryStore
	clock   *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := gateway.NewSimulatedProvider("simulated", "secret")
	service := NewService(store, provider, nil, clk, logging.Discard(), nil)
	return &fixture{service: service, store: store, clock: clk}
}

func (f *fixture) newAccount(t *testing.T, balance int64) *ledger.Account {
	t.Helper()
	account, err := ledger.NewAccount("user-1", "USD", f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	if balance > 0 {
		ledger.SeedBalance(f.store, account.ID, money.Must(balance, "USD"))
	}
	return account
}

func (f *fixture) deposit(t *testing.T, account *ledger.Account, amount int64, key string) *ledger.Transaction {
	t.Helper()
	tx, err := f.service.InitiateDeposit(context.Background(), DepositInput{
		AccountID:          account.ID.String(),
		Amount:             amount,
		Currency:           "USD",
		IdempotencyKey:     key,
		PaymentMethodToken: "pm_test",
	})
	require.NoError(t, err)
	return tx
}

func TestDepositLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 0)

	tx := f.deposit(t, account, 5_000, "dep-1")
	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.NotEmpty(t, tx.ExternalReference)

	completed, err := f.service.ApplyWebhookEvent(ctx, gateway.WebhookEvent{
		ID:        "evt_1",
		Type:      gateway.EventPaymentSucceeded,
		Reference: string(tx.ExternalReference),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, completed.Status)

	entries := completed.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.Credit, entries[0].Type)
	assert.Equal(t, account.ID, entries[0].AccountID)

	reloaded, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), reloaded.Balance.Amount())

	// A redelivered success event must not credit a second time.
	again, err := f.service.ApplyWebhookEvent(ctx, gateway.WebhookEvent{
		ID:        "evt_1",
		Type:      gateway.EventPaymentSucceeded,
		Reference: string(tx.ExternalReference),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, again.Status)

	reloaded, err = f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), reloaded.Balance.Amount())
}

func TestDepositIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	account := f.newAccount(t, 0)

	first := f.deposit(t, account, 5_000, "dep-1")
	second := f.deposit(t, account, 5_000, "dep-1")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ExternalReference, second.ExternalReference)
}

func TestDepositFailureWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 0)

	tx := f.deposit(t, account, 5_000, "dep-1")

	failed, err := f.service.ApplyWebhookEvent(ctx, gateway.WebhookEvent{
		Type:      gateway.EventPaymentFailed,
		Reference: string(tx.ExternalReference),
		Failure:   map[string]string{"code": "card_declined"},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, failed.Status)
	assert.Equal(t, "card_declined", failed.ErrorDetails["code"])

	reloaded, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.IsZero())
}

type decliningGateway struct {
	*gateway.SimulatedProvider
}

func (g decliningGateway) CreatePaymentIntent(context.Context, gateway.IntentParams) (gateway.Intent, error) {
	return gateway.Intent{}, fmt.Errorf("%w: card expired", gateway.ErrPaymentMethodRejected)
}

func TestDepositProviderDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 0)

	f.service.gateway = decliningGateway{gateway.NewSimulatedProvider("simulated", "secret")}

	tx, err := f.service.InitiateDeposit(ctx, DepositInput{
		AccountID:          account.ID.String(),
		Amount:             5_000,
		Currency:           "USD",
		IdempotencyKey:     "dep-1",
		PaymentMethodToken: "pm_test",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.Contains(t, tx.ErrorDetails["reason"], "card expired")

	// The decline is persisted and replay-safe.
	stored, err := f.store.TransactionByIdempotencyKey(ctx, ledger.TypeDeposit, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, stored.ID)
}

func TestWithdrawalHoldAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 10_000)

	tx, err := f.service.InitiateWithdrawal(ctx, WithdrawalInput{
		AccountID:      account.ID.String(),
		Amount:         4_000,
		Currency:       "USD",
		IdempotencyKey: "wd-1",
		Destination:    "bank-acct-9",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)

	held, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), held.HeldAmount.Amount())
	assert.Equal(t, int64(10_000), held.Balance.Amount())
	assert.Equal(t, int64(6_000), held.AvailableBalance().Amount())

	completed, err := f.service.ApplyWebhookEvent(ctx, gateway.WebhookEvent{
		Type:          gateway.EventPayoutPaid,
		TransactionID: tx.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, completed.Status)

	entries := completed.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.Debit, entries[0].Type)

	settled, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), settled.Balance.Amount())
	assert.True(t, settled.HeldAmount.IsZero())
}

func TestWithdrawalFailureReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 10_000)

	tx, err := f.service.InitiateWithdrawal(ctx, WithdrawalInput{
		AccountID:      account.ID.String(),
		Amount:         4_000,
		Currency:       "USD",
		IdempotencyKey: "wd-1",
		Destination:    "bank-acct-9",
	})
	require.NoError(t, err)

	failed, err := f.service.ApplyWebhookEvent(ctx, gateway.WebhookEvent{
		Type:          gateway.EventPayoutFailed,
		TransactionID: tx.ID.String(),
		Failure:       map[string]string{"code": "account_closed"},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, failed.Status)

	reloaded, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), reloaded.Balance.Amount())
	assert.True(t, reloaded.HeldAmount.IsZero())
}

func TestWithdrawalInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	account := f.newAccount(t, 1_000)

	_, err := f.service.InitiateWithdrawal(context.Background(), WithdrawalInput{
		AccountID:      account.ID.String(),
		Amount:         4_000,
		Currency:       "USD",
		IdempotencyKey: "wd-1",
		Destination:    "bank-acct-9",
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestRefundFullAmountReversesParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 0)

	deposit := f.deposit(t, account, 5_000, "dep-1")
	_, err := f.service.CompleteDeposit(ctx, deposit.ID)
	require.NoError(t, err)

	refund, err := f.service.InitiateRefund(ctx, RefundInput{
		ParentTransactionID: deposit.ID.String(),
		IdempotencyKey:      "ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, refund.Status)
	assert.Equal(t, int64(5_000), refund.Amount.Amount())

	completed, err := f.service.ApplyWebhookEvent(ctx, gateway.WebhookEvent{
		Type:          gateway.EventRefundSucceeded,
		TransactionID: refund.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, completed.Status)

	reloaded, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.IsZero())

	parent, err := f.store.Transaction(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReversed, parent.Status)
}

func TestRefundPartialKeepsParentCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 0)

	deposit := f.deposit(t, account, 5_000, "dep-1")
	_, err := f.service.CompleteDeposit(ctx, deposit.ID)
	require.NoError(t, err)

	refund, err := f.service.InitiateRefund(ctx, RefundInput{
		ParentTransactionID: deposit.ID.String(),
		Amount:              2_000,
		IdempotencyKey:      "ref-1",
	})
	require.NoError(t, err)

	_, err = f.service.CompleteRefund(ctx, refund.ID)
	require.NoError(t, err)

	reloaded, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), reloaded.Balance.Amount())

	parent, err := f.store.Transaction(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, parent.Status)
}

func TestRefundRequiresCompletedDeposit(t *testing.T) {
	f := newFixture(t)
	account := f.newAccount(t, 0)

	deposit := f.deposit(t, account, 5_000, "dep-1")

	_, err := f.service.InitiateRefund(context.Background(), RefundInput{
		ParentTransactionID: deposit.ID.String(),
		IdempotencyKey:      "ref-1",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransactionState)
}

func TestDepositToFrozenAccountRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.newAccount(t, 0)

	frozen, err := f.store.Account(ctx, account.ID)
	require.NoError(t, err)
	frozen.Status = ledger.AccountFrozen
	require.NoError(t, f.store.UpdateAccount(ctx, frozen, frozen.Version))

	_, err = f.service.InitiateDeposit(ctx, DepositInput{
		AccountID:          account.ID.String(),
		Amount:             5_000,
		Currency:           "USD",
		IdempotencyKey:     "dep-1",
		PaymentMethodToken: "pm_test",
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotActive)
}

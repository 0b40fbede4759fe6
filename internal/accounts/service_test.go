package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearwave/clearwave/internal/clock"
	"github.com/clearwave/clearwave/internal/ledger"
	"github.com/clearwave/clearwave/internal/logging"
	"github.com/clearwave/clearwave/internal/money"
)

func newService() (*Service, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewService(store, clk, logging.Discard()), store
}

func TestOpenAndGet(t *testing.T) {
	service, _ := newService()
	ctx := context.Background()

	account, err := service.Open(ctx, OpenInput{OwnerID: "user-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if account.Status != ledger.AccountActive {
		t.Fatalf("expected active account, got %s", account.Status)
	}
	if !account.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", account.Balance)
	}

	got, err := service.Get(ctx, account.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != account.ID || got.OwnerID != "user-1" {
		t.Fatalf("unexpected account: %+v", got)
	}
}

func TestOpenRejectsDuplicateCurrency(t *testing.T) {
	service, _ := newService()
	ctx := context.Background()

	if _, err := service.Open(ctx, OpenInput{OwnerID: "user-1", Currency: "USD"}); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := service.Open(ctx, OpenInput{OwnerID: "user-1", Currency: "USD"}); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// A second currency is fine.
	if _, err := service.Open(ctx, OpenInput{OwnerID: "user-1", Currency: "EUR"}); err != nil {
		t.Fatalf("second currency open: %v", err)
	}
}

func TestFreezeAndReactivate(t *testing.T) {
	service, _ := newService()
	ctx := context.Background()

	account, err := service.Open(ctx, OpenInput{OwnerID: "user-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	frozen, err := service.SetStatus(ctx, account.ID.String(), ledger.AccountFrozen)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if frozen.Status != ledger.AccountFrozen {
		t.Fatalf("expected frozen, got %s", frozen.Status)
	}
	if frozen.Version != account.Version+1 {
		t.Fatalf("expected version bump, got %d", frozen.Version)
	}

	active, err := service.SetStatus(ctx, account.ID.String(), ledger.AccountActive)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if active.Status != ledger.AccountActive {
		t.Fatalf("expected active, got %s", active.Status)
	}
}

func TestCloseRequiresZeroBalance(t *testing.T) {
	service, store := newService()
	ctx := context.Background()

	account, err := service.Open(ctx, OpenInput{OwnerID: "user-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ledger.SeedBalance(store, account.ID, money.Must(500, "USD"))

	if _, err := service.SetStatus(ctx, account.ID.String(), ledger.AccountClosed); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error for funded account, got %v", err)
	}

	ledger.SeedBalance(store, account.ID, money.Zero("USD"))
	closed, err := service.SetStatus(ctx, account.ID.String(), ledger.AccountClosed)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != ledger.AccountClosed {
		t.Fatalf("expected closed, got %s", closed.Status)
	}

	// Closed is final.
	if _, err := service.SetStatus(ctx, account.ID.String(), ledger.AccountActive); !errors.Is(err, ledger.ErrAccountNotActive) {
		t.Fatalf("expected not-active error, got %v", err)
	}
}

func TestCloseBlockedByInFlightTransaction(t *testing.T) {
	service, store := newService()
	ctx := context.Background()

	account, err := service.Open(ctx, OpenInput{OwnerID: "user-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	tx, err := ledger.NewDeposit("dep-1", account.ID, money.Must(500, "USD"), time.Now().UTC())
	if err != nil {
		t.Fatalf("new deposit: %v", err)
	}
	if err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	if _, err := service.SetStatus(ctx, account.ID.String(), ledger.AccountClosed); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error for in-flight transaction, got %v", err)
	}
}

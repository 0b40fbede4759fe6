package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clearwave/clearwave/internal/logging"
)

func setupGuard(t *testing.T) (*Guard, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	guard := NewGuard(cache, time.Minute, logging.Discard())

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return guard, mr, cleanup
}

func TestReserveBlocksDuplicateInFlight(t *testing.T) {
	guard, _, cleanup := setupGuard(t)
	defer cleanup()
	ctx := context.Background()

	release, err := guard.Reserve(ctx, "deposit", "key-1")
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	if _, err := guard.Reserve(ctx, "deposit", "key-1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}

	// Releasing frees the key for a retry.
	release()
	if _, err := guard.Reserve(ctx, "deposit", "key-1"); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestReserveScopesAreIndependent(t *testing.T) {
	guard, _, cleanup := setupGuard(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "deposit", "key-1"); err != nil {
		t.Fatalf("deposit reserve: %v", err)
	}
	if _, err := guard.Reserve(ctx, "withdrawal", "key-1"); err != nil {
		t.Fatalf("withdrawal reserve should not collide: %v", err)
	}
}

func TestReserveExpiresWithTTL(t *testing.T) {
	guard, mr, cleanup := setupGuard(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "deposit", "key-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := guard.Reserve(ctx, "deposit", "key-1"); err != nil {
		t.Fatalf("reserve after ttl: %v", err)
	}
}

func TestNilGuardIsNoop(t *testing.T) {
	var guard *Guard
	release, err := guard.Reserve(context.Background(), "deposit", "key-1")
	if err != nil {
		t.Fatalf("nil guard reserve: %v", err)
	}
	release()
}

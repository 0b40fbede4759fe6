// Package idempotency closes the race between two concurrent commands
// carrying the same idempotency key. The durable replay of a completed
// command comes from the transaction store's unique (type, key) index; the
// guard only provides a short-lived in-flight reservation so both requests
// cannot run the gateway call side by side.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clearwave/clearwave/internal/ledger"
)

const keyPrefix = "idempotency:v1:"

// ErrInFlight indicates another request with the same key is currently
// being processed.
var ErrInFlight = errors.New("duplicate request currently processing")

// Guard reserves idempotency keys in Redis for the duration of a command.
// A nil cache disables reservations; the store's unique index still protects
// against duplicate inserts, only the gateway-call race window stays open.
type Guard struct {
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewGuard builds a guard over the Redis client.
func NewGuard(cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Guard {
	return &Guard{cache: cache, ttl: ttl, logger: logger}
}

// Reserve claims scope:key for this request. It returns a release function
// that frees the reservation if the command did not reach the store (so a
// retry can proceed); after a successful insert the caller keeps the
// reservation and lets it lapse with the TTL.
func (g *Guard) Reserve(ctx context.Context, scope string, key ledger.IdempotencyKey) (func(), error) {
	if g == nil || g.cache == nil {
		return func() {}, nil
	}

	cacheKey := keyPrefix + scope + ":" + string(key)
	ok, err := g.cache.SetNX(ctx, cacheKey, "reserved", g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency reservation: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrInFlight, scope, key)
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.cache.Del(releaseCtx, cacheKey).Err(); err != nil {
			g.logger.Warn("idempotency release failed", "scope", scope, "key", string(key), "error", err)
		}
	}
	return release, nil
}

// Package ratelimit throttles outbound calls to payment providers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// ErrLimited is returned when a key exhausted its rate for the current period.
var ErrLimited = errors.New("rate limit reached")

// LimitedError carries the time the limit resets.
type LimitedError struct {
	Key   string
	Reset time.Time
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit reached for %s until %s", e.Key, e.Reset.Format(time.RFC3339))
}

// Is reports ErrLimited.
func (e *LimitedError) Is(target error) bool { return target == ErrLimited }

// Throttle counts calls per key in a shared store.
type Throttle struct {
	limiter *limiter.Limiter
}

// New builds a throttle on an arbitrary limiter store.
func New(store limiter.Store, rate limiter.Rate) *Throttle {
	return &Throttle{limiter: limiter.New(store, rate)}
}

// NewRedis builds a throttle whose counters live in redis, so every worker
// shares the same budget. The rate uses the "<limit>-<period>" format, e.g. "20-S".
func NewRedis(rdb *redis.Client, prefix, formatted string) (*Throttle, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	return New(store, rate), nil
}

// Allow consumes one call for key. A nil throttle allows everything.
func (t *Throttle) Allow(ctx context.Context, key string) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	lctx, err := t.limiter.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	if lctx.Reached {
		return &LimitedError{Key: key, Reset: time.Unix(lctx.Reset, 0).UTC()}
	}
	return nil
}

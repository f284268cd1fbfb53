// Package lock serialises cart mutations and order placement across workers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// ErrBusy is returned when a key stays held past the locker's MaxWait.
var ErrBusy = errors.New("lock: key is held")

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// CartKey returns the lock key serialising mutations of one cart.
func CartKey(cartID string) string {
	return keyPrefix + "cart:" + cartID
}

// OrderPlacementKey returns the lock key serialising the split of one parent order.
func OrderPlacementKey(orderID string) string {
	return keyPrefix + "order-placement:" + orderID
}

// Locker is a redis SET NX lock with token-checked release.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for a held key. Zero waits until ctx ends.
	MaxWait time.Duration
}

// WithLock runs fn while holding key. The lock is released when fn returns,
// whatever its result.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	var deadline time.Time
	if l.MaxWait > 0 {
		deadline = time.Now().Add(l.MaxWait)
	}

	token := uuid.NewString()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !deadline.IsZero() && time.Now().Add(retry).After(deadline) {
			return fmt.Errorf("%w: %s", ErrBusy, key)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}

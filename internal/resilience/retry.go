package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("resilience: permanent failure")

// Permanent wraps err so Caller.Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

// Caller retries a call with exponential backoff behind an optional breaker.
// Each attempt runs under its own Timeout.
type Caller struct {
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Timeout     time.Duration
}

// Do runs fn until it succeeds, returns a permanent error, the breaker opens or
// the attempts are exhausted.
func (c Caller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.once(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) || errors.Is(err, ErrOpenCircuit) || ctx.Err() != nil {
			break
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(Backoff(c.BaseBackoff, attempt, c.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (c Caller) once(ctx context.Context, fn func(ctx context.Context) error) error {
	call := fn
	if c.Timeout > 0 {
		call = func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
			defer cancel()
			return fn(callCtx)
		}
	}
	if c.Breaker == nil {
		return call(ctx)
	}
	return c.Breaker.Do(ctx, call)
}

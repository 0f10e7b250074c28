package delivery

import (
	"context"
	"math"
	"time"
)

// RetryPolicy bounds the exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy matches the documented defaults: up to 4 attempts
// total with delays of 1s, 2s, 4s capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Delay returns the wait after the k-th failed attempt (0-indexed):
// min(initialDelay * multiplier^k, maxDelay).
func (p RetryPolicy) Delay(k int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(k)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleep waits cooperatively: it suspends only the current flush, and
// returns early when ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

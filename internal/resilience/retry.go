// Package resilience implements the retry, circuit-breaker, and fallback
// primitives spec.md §4.7 requires on the downstream call path.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

// RetryPolicy controls exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryPolicy matches spec.md §4.7's suggested shape.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffMultiplier
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// Do runs fn, retrying while the returned error is retryable per
// mcperrors.Retryable, up to MaxAttempts. It stops early on ctx
// cancellation.
func Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !mcperrors.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(policy.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

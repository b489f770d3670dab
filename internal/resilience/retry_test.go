package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesRetryableErrors(t *testing.T) {
	attempts := 0
	policy := resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffMultiplier: 1, Jitter: false}

	err := resilience.Do(context.Background(), policy, func(_ context.Context, attempt int) error {
		attempts++
		if attempt < 3 {
			return mcperrors.Connection(errors.New("boom"), "transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoDoesNotRetryNonRetryableErrors(t *testing.T) {
	attempts := 0
	policy := resilience.DefaultRetryPolicy()

	err := resilience.Do(context.Background(), policy, func(_ context.Context, _ int) error {
		attempts++
		return mcperrors.ToolNotFound("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := resilience.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, BackoffMultiplier: 1}

	err := resilience.Do(ctx, policy, func(_ context.Context, _ int) error {
		return mcperrors.Connection(nil, "should not run")
	})
	require.Error(t, err)
}

package session

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracker_TrackAndActive(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(ctx)
	require.NoError(t, err)
	tracker := NewTracker(cache, testLogger())

	require.NoError(t, tracker.Track(ctx, "session-1"))
	require.NoError(t, tracker.Track(ctx, "session-2"))

	active, err := tracker.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, a := range active {
		require.False(t, a.ConnectedAt.IsZero())
		require.False(t, a.LastSeenAt.IsZero())
	}
}

func TestTracker_Touch(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(ctx)
	require.NoError(t, err)
	tracker := NewTracker(cache, slog.Default())

	require.NoError(t, tracker.Track(ctx, "session-1"))
	require.NoError(t, tracker.Touch(ctx, "session-1"))

	active, err := tracker.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestTracker_Forget(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(ctx)
	require.NoError(t, err)
	tracker := NewTracker(cache, slog.Default())

	require.NoError(t, tracker.Track(ctx, "session-1"))
	require.NoError(t, tracker.Forget(ctx, "session-1"))

	active, err := tracker.Active(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

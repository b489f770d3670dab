package session

import (
	"context"
	"log/slog"
	"time"
)

const (
	fieldConnectedAt = "connectedAt"
	fieldLastSeenAt  = "lastSeenAt"
)

// ActiveSession summarizes one connected downstream client, backing the
// /status endpoint's session visibility.
type ActiveSession struct {
	SessionID   string
	ConnectedAt time.Time
	LastSeenAt  time.Time
}

// Tracker records the proxy's own downstream Mcp-Session-Id lifecycle
// against a Cache-backed hash, so operators can see who is attached
// right now without mcp-go itself exposing that bookkeeping.
type Tracker struct {
	cache *Cache
	log   *slog.Logger
}

// NewTracker builds a Tracker over cache.
func NewTracker(cache *Cache, log *slog.Logger) *Tracker {
	return &Tracker{cache: cache, log: log}
}

// Track records a newly registered session's connect time.
func (t *Tracker) Track(ctx context.Context, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := t.cache.AddSession(ctx, sessionID, fieldConnectedAt, now); err != nil {
		return err
	}
	_, err := t.cache.AddSession(ctx, sessionID, fieldLastSeenAt, now)
	return err
}

// Touch bumps a session's last-seen time.
func (t *Tracker) Touch(ctx context.Context, sessionID string) error {
	_, err := t.cache.AddSession(ctx, sessionID, fieldLastSeenAt, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Forget drops a session's tracked state, called on unregistration.
func (t *Tracker) Forget(ctx context.Context, sessionID string) error {
	return t.cache.DeleteSessions(ctx, sessionID)
}

// Active lists every currently tracked session.
func (t *Tracker) Active(ctx context.Context) ([]ActiveSession, error) {
	keys, err := t.cache.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]ActiveSession, 0, len(keys))
	for _, key := range keys {
		fields, err := t.cache.GetSession(ctx, key)
		if err != nil {
			t.log.Warn("failed to load tracked session fields", "session", key, "error", err)
			continue
		}
		sessions = append(sessions, ActiveSession{
			SessionID:   key,
			ConnectedAt: parseRFC3339(fields[fieldConnectedAt]),
			LastSeenAt:  parseRFC3339(fields[fieldLastSeenAt]),
		})
	}
	return sessions, nil
}

func parseRFC3339(v string) time.Time {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}

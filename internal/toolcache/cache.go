package toolcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

// key is the cache's composite identity: (serverName, toolName).
type key struct {
	serverName string
	toolName   string
}

type record struct {
	tool      Tool
	expiresAt time.Time // zero means no TTL
}

// Cache is the discovery engine's map[(serverName,toolName)]Tool plus a
// secondary serverName index for O(|serverTools|) server-wipe. New rejects
// WithConnectionString, so a Cache is always in-memory.
type Cache struct {
	ttl              time.Duration
	connectionString string

	mu      sync.RWMutex
	entries map[key]record
	byServer map[string]map[key]struct{}

	extClient *redis.Client
	onCleanup func(serverName, toolName string)
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithTTL sets the per-entry time-to-live; zero (the default) disables
// expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithConnectionString records an external redis URL, following the
// teacher's WithConnectionString(url) option for internal/session.Cache.
// New returns a ConfigurationError for any cache built with it.
func WithConnectionString(url string) Option {
	return func(c *Cache) { c.connectionString = url }
}

// WithCleanupHandler registers the callback invoked whenever Get finds an
// entry past its TTL (the "cleanup" event spec.md §4.2 asks for).
func WithCleanupHandler(fn func(serverName, toolName string)) Option {
	return func(c *Cache) { c.onCleanup = fn }
}

// New constructs an in-memory Cache. WithConnectionString is rejected until
// the redis-backed read paths exist.
func New(ctx context.Context, opts ...Option) (*Cache, error) {
	c := &Cache{
		entries:  make(map[key]record),
		byServer: make(map[string]map[key]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.connectionString != "" {
		// GetByServer/ClearServer/GetAll have no redis-backed implementation
		// yet (see their no-op bodies below) — refuse to start rather than
		// silently dropping discovery's server-index and listing paths.
		return nil, mcperrors.Configuration("toolcache: WithConnectionString is not yet supported, GetByServer/ClearServer/GetAll have no redis-backed implementation")
	}
	return c, nil
}

func (c *Cache) redisKey(k key) string {
	return "toolcache:" + k.serverName + ":" + k.toolName
}

// Set inserts or replaces the cached entry for (tool.ServerName, tool.Name).
func (c *Cache) Set(ctx context.Context, tool Tool) error {
	k := key{serverName: tool.ServerName, toolName: tool.Name}
	if c.extClient != nil {
		data, err := json.Marshal(tool)
		if err != nil {
			return err
		}
		if c.ttl > 0 {
			return c.extClient.Set(ctx, c.redisKey(k), data, c.ttl).Err()
		}
		return c.extClient.Set(ctx, c.redisKey(k), data, 0).Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	r := record{tool: tool}
	if c.ttl > 0 {
		r.expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[k] = r
	if c.byServer[tool.ServerName] == nil {
		c.byServer[tool.ServerName] = make(map[key]struct{})
	}
	c.byServer[tool.ServerName][k] = struct{}{}
	return nil
}

// Get returns the cached tool, or ok=false on miss or TTL expiry (firing the
// cleanup callback on the latter).
func (c *Cache) Get(ctx context.Context, serverName, toolName string) (Tool, bool, error) {
	k := key{serverName: serverName, toolName: toolName}
	if c.extClient != nil {
		data, err := c.extClient.Get(ctx, c.redisKey(k)).Bytes()
		if err == redis.Nil {
			return Tool{}, false, nil
		}
		if err != nil {
			return Tool{}, false, err
		}
		var t Tool
		if err := json.Unmarshal(data, &t); err != nil {
			return Tool{}, false, err
		}
		return t, true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[k]
	if !ok {
		return Tool{}, false, nil
	}
	if !r.expiresAt.IsZero() && time.Now().After(r.expiresAt) {
		delete(c.entries, k)
		c.removeFromServerIndexLocked(k)
		if c.onCleanup != nil {
			c.onCleanup(serverName, toolName)
		}
		return Tool{}, false, nil
	}
	return r.tool, true, nil
}

// Delete removes a single (serverName, toolName) entry.
func (c *Cache) Delete(ctx context.Context, serverName, toolName string) error {
	k := key{serverName: serverName, toolName: toolName}
	if c.extClient != nil {
		return c.extClient.Del(ctx, c.redisKey(k)).Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, k)
	c.removeFromServerIndexLocked(k)
	return nil
}

func (c *Cache) removeFromServerIndexLocked(k key) {
	if set, ok := c.byServer[k.serverName]; ok {
		delete(set, k)
		if len(set) == 0 {
			delete(c.byServer, k.serverName)
		}
	}
}

// GetByServer returns every non-expired tool cached for serverName.
func (c *Cache) GetByServer(ctx context.Context, serverName string) ([]Tool, error) {
	if c.extClient != nil {
		// The redis backend has no server index; callers needing this on
		// redis should maintain their own projection. In-memory is the
		// common path for the discovery engine's hot loop.
		return nil, nil
	}
	c.mu.RLock()
	keys := make([]key, 0, len(c.byServer[serverName]))
	for k := range c.byServer[serverName] {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	out := make([]Tool, 0, len(keys))
	for _, k := range keys {
		if t, ok, _ := c.Get(ctx, k.serverName, k.toolName); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ClearServer removes every cached entry for serverName in O(|serverTools|).
func (c *Cache) ClearServer(ctx context.Context, serverName string) error {
	if c.extClient != nil {
		return nil
	}
	c.mu.Lock()
	keys := c.byServer[serverName]
	toDelete := make([]key, 0, len(keys))
	for k := range keys {
		toDelete = append(toDelete, k)
	}
	for _, k := range toDelete {
		delete(c.entries, k)
	}
	delete(c.byServer, serverName)
	c.mu.Unlock()
	return nil
}

// GetAll returns every cached tool, optionally restricted to tools whose
// source server is currently connected (the router/toolset manager's
// connected-only projection, spec.md §4.2).
func (c *Cache) GetAll(ctx context.Context, connectedOnly bool) ([]Tool, error) {
	if c.extClient != nil {
		return nil, nil
	}
	c.mu.RLock()
	all := make([]Tool, 0, len(c.entries))
	now := time.Now()
	for _, r := range c.entries {
		if !r.expiresAt.IsZero() && now.After(r.expiresAt) {
			continue
		}
		all = append(all, r.tool)
	}
	c.mu.RUnlock()

	if !connectedOnly {
		return all, nil
	}
	out := all[:0:0]
	for _, t := range all {
		if t.ServerStatus == ServerConnected {
			out = append(out, t)
		}
	}
	return out, nil
}

// MarkServerStatus updates ServerStatus on every cached tool for serverName
// in place, without discarding the entries — used when a server disconnects
// so the connected-only projection excludes its tools while their refIds
// remain resolvable for display (spec.md §4.4's allowStaleRefs).
func (c *Cache) MarkServerStatus(ctx context.Context, serverName string, status ServerStatus) error {
	tools, err := c.GetByServer(ctx, serverName)
	if err != nil {
		return err
	}
	for _, t := range tools {
		t.ServerStatus = status
		t.LastUpdated = time.Now()
		if err := c.Set(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the redis client, if any.
func (c *Cache) Close() error {
	if c.extClient != nil {
		return c.extClient.Close()
	}
	return nil
}

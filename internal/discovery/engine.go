// Package discovery maintains the authoritative view of what tools every
// connected downstream server currently exposes, refreshing per server on
// an interval and on newly-connected transitions, emitting toolsChanged
// diffs. Grounded on the teacher's internal/broker/upstream/manager.go
// management loop (MCPManager.Start/manage/diffTools), split apart here
// from connection management (internal/pool) per spec.md §4.2/§4.1's
// separate responsibilities.
package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/pool"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

// Options configures the engine's refresh cadence.
type Options struct {
	RefreshInterval      time.Duration
	ConnectPollInterval  time.Duration
}

// DefaultOptions matches a conservative, configurable-by-override default.
func DefaultOptions() Options {
	return Options{RefreshInterval: 60 * time.Second, ConnectPollInterval: time.Second}
}

// ConnectionSource is the slice of *pool.Pool the discovery engine needs —
// narrowed to an interface so it can be driven by a fake in tests.
type ConnectionSource interface {
	ListConnected() []pool.ConnectionStatus
	GetConnection(serverName string) (transport.Connection, error)
}

// Engine owns one refresh goroutine per currently-connected server.
type Engine struct {
	pool  ConnectionSource
	cache *toolcache.Cache
	bus   *events.Bus
	opts  Options
	log   *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup

	// refreshMu allows one refreshCache pass per server at a time (spec.md
	// §4.2); a call that finds a pass already running returns without one.
	refreshMu sync.Map // serverName -> *sync.Mutex
}

// New constructs a discovery Engine.
func New(p ConnectionSource, cache *toolcache.Cache, bus *events.Bus, opts Options, log *zap.Logger) *Engine {
	return &Engine{pool: p, cache: cache, bus: bus, opts: opts, log: log, running: make(map[string]context.CancelFunc)}
}

// Start runs the supervisor loop that notices newly-connected and
// newly-disconnected servers and starts/stops their per-server refresh
// loops accordingly. Blocks until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.opts.ConnectPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stopAll()
			return
		case <-ticker.C:
			e.reconcile(ctx)
		}
	}
}

func (e *Engine) reconcile(ctx context.Context) {
	connected := make(map[string]bool)
	for _, st := range e.pool.ListConnected() {
		connected[st.ServerName] = true
	}

	e.mu.Lock()
	for name := range connected {
		if _, ok := e.running[name]; !ok {
			serverCtx, cancel := context.WithCancel(ctx)
			e.running[name] = cancel
			e.wg.Add(1)
			go e.runServer(serverCtx, name)
		}
	}
	for name, cancel := range e.running {
		if !connected[name] {
			cancel()
			delete(e.running, name)
			if err := e.cache.MarkServerStatus(ctx, name, toolcache.ServerDisconnected); err != nil {
				e.log.Warn("failed to mark server disconnected in tool cache", zap.String("server", name), zap.Error(err))
			}
		}
	}
	e.mu.Unlock()
}

func (e *Engine) stopAll() {
	e.mu.Lock()
	for name, cancel := range e.running {
		cancel()
		delete(e.running, name)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) runServer(ctx context.Context, serverName string) {
	defer e.wg.Done()
	e.refreshCache(ctx, serverName)

	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshCache(ctx, serverName)
		}
	}
}

// ForceRefresh runs one discovery pass for serverName immediately, outside
// the ticker loop, unless a pass for that server is already running, in
// which case it returns at once — used by package tests and by the persona manager's
// bounded post-activation retry window (spec.md §4.6 step 6).
func (e *Engine) ForceRefresh(ctx context.Context, serverName string) {
	e.refreshCache(ctx, serverName)
}

// refreshCache runs one discovery pass for serverName: list, hash-diff
// against the cache, apply adds/updates/removes, and emit a single
// toolsChanged event if anything moved.
func (e *Engine) refreshCache(ctx context.Context, serverName string) {
	muAny, _ := e.refreshMu.LoadOrStore(serverName, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	if !mu.TryLock() {
		return
	}
	defer mu.Unlock()

	conn, err := e.pool.GetConnection(serverName)
	if err != nil {
		return
	}
	fresh, err := conn.ListTools(ctx)
	if err != nil {
		e.log.Debug("tools/list failed during discovery", zap.String("server", serverName), zap.Error(err))
		return
	}

	existing, err := e.cache.GetByServer(ctx, serverName)
	if err != nil {
		return
	}
	existingByName := make(map[string]toolcache.Tool, len(existing))
	for _, t := range existing {
		existingByName[t.Name] = t
	}

	now := time.Now()
	var added, updated, removed []string
	seen := make(map[string]bool, len(fresh))

	for _, ft := range fresh {
		schema := schemaToMap(ft.InputSchema)
		hash := toolcache.Hash(ft.Name, schema)
		seen[ft.Name] = true
		prev, existed := existingByName[ft.Name]

		entry := toolcache.Tool{
			Name:         ft.Name,
			ServerName:   serverName,
			InputSchema:  schema,
			Description:  ft.Description,
			DiscoveredAt: now,
			LastUpdated:  now,
			ServerStatus: toolcache.ServerConnected,
			ToolHash:     hash,
		}
		if !existed {
			added = append(added, ft.Name)
		} else {
			entry.DiscoveredAt = prev.DiscoveredAt
			if prev.ToolHash != hash {
				updated = append(updated, ft.Name)
			}
		}
		if err := e.cache.Set(ctx, entry); err != nil {
			e.log.Warn("failed to cache discovered tool", zap.String("server", serverName), zap.String("tool", ft.Name), zap.Error(err))
		}
	}

	for name := range existingByName {
		if !seen[name] {
			removed = append(removed, name)
			_ = e.cache.Delete(ctx, serverName, name)
		}
	}

	if len(added) > 0 || len(updated) > 0 || len(removed) > 0 {
		e.bus.PublishToolsChanged(events.ToolsChanged{
			ServerName: serverName,
			Added:      added,
			Updated:    updated,
			Removed:    removed,
		})
	}
}

// schemaToMap adapts mcp-go's typed ToolInputSchema into the plain map the
// hash and cache operate on, by round-tripping through its JSON encoding —
// the same canonicalization toolcache.Hash then reuses.
func schemaToMap(schema any) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

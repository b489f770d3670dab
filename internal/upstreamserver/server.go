// Package upstreamserver is the dual-transport MCP endpoint the proxy
// exposes to its own clients: it publishes the active toolset's flattened
// tool list, dispatches tools/call through the router, and emits a
// debounced notifications/tools/list_changed whenever the active set
// mutates (spec.md §4, §5, §6). Grounded on the teacher's
// internal/broker/broker.go: NewBroker's server.Hooks wiring
// (AddOnRegisterSession/AddOnUnregisterSession/AddBeforeAny/AddOnError,
// AddAfterListTools) and its AddTools/DeleteTools reconciliation pattern —
// adapted from a federation of live upstream probes to a single
// already-resolved toolset snapshot this proxy owns.
package upstreamserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/session"
	"github.com/hypertool-ai/mcp-proxy/internal/toolset"
)

// ToolSource is the subset of *toolset.Manager the upstream server needs:
// the flattened list to publish, and the reverse lookup authzheader.go
// uses to map a published name back to its owning downstream server.
type ToolSource interface {
	GetMCPTools() []toolset.ResolvedTool
	Resolve(flat string) (serverName, originalName string, ok bool)
}

// Caller is the subset of *router.Router the upstream server dispatches
// tools/call through.
type Caller interface {
	Call(ctx context.Context, upstreamName string, arguments map[string]any) (*mcp.CallToolResult, error)
}

// Config controls the identity and access policy of the upstream server.
type Config struct {
	Name                    string
	Version                 string
	EnforceToolFilter       bool
	TrustedHeadersPublicKey string
	ListChangedDebounce     time.Duration
}

// DefaultConfig matches spec.md §6's proxy identity and a debounce window
// short enough that a burst of discovery events still collapses to one
// notification (spec.md §5: "tools/list_changed is coalesced").
func DefaultConfig() Config {
	return Config{
		Name:                "hypertool-mcp-proxy",
		Version:             "0.1.0",
		ListChangedDebounce: 200 * time.Millisecond,
	}
}

// Server wraps a mark3labs/mcp-go *server.MCPServer, keeping it in sync
// with the toolset manager's active set and routing every tools/call
// through the router.
type Server struct {
	cfg      Config
	tools    ToolSource
	router   Caller
	bus      *events.Bus
	log      *zap.Logger
	mcp      *server.MCPServer
	sessions *session.Tracker // optional; nil disables session bookkeeping

	mu         sync.Mutex
	debounce   *time.Timer
	busSub     int
	registered map[string]struct{} // flat names currently registered with mcp
}

// New builds a Server over the given toolset manager and router, seeds its
// tool list with whatever is already equipped, and subscribes to toolset
// and discovery events so later mutations propagate automatically. bus may
// be nil in tests that never mutate the toolset after construction. sessions
// may be nil to skip downstream session bookkeeping entirely.
func New(tools ToolSource, router Caller, bus *events.Bus, sessions *session.Tracker, log *zap.Logger, cfg Config) *Server {
	s := &Server{
		cfg:        cfg,
		tools:      tools,
		router:     router,
		bus:        bus,
		sessions:   sessions,
		log:        log,
		registered: make(map[string]struct{}),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		s.log.Info("client session connected", zap.String("sessionID", cs.SessionID()))
		if s.sessions != nil {
			if err := s.sessions.Track(ctx, cs.SessionID()); err != nil {
				s.log.Warn("failed to track session", zap.String("sessionID", cs.SessionID()), zap.Error(err))
			}
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, cs server.ClientSession) {
		s.log.Info("client session disconnected", zap.String("sessionID", cs.SessionID()))
		if s.sessions != nil {
			if err := s.sessions.Forget(ctx, cs.SessionID()); err != nil {
				s.log.Warn("failed to forget session", zap.String("sessionID", cs.SessionID()), zap.Error(err))
			}
		}
	})
	hooks.AddBeforeAny(func(_ context.Context, _ any, method mcp.MCPMethod, _ any) {
		s.log.Debug("processing request", zap.String("method", string(method)))
	})
	hooks.AddOnError(func(_ context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		s.log.Warn("mcp server error", zap.String("method", string(method)), zap.Error(err))
	})
	hooks.AddAfterListTools(s.filterTools)

	s.mcp = server.NewMCPServer(cfg.Name, cfg.Version, server.WithHooks(hooks), server.WithToolCapabilities(true))

	s.reconcile()

	if bus != nil {
		s.busSub = bus.Subscribe(events.Handlers{
			OnToolsetChanged: func(events.ToolsetChanged) { s.scheduleReconcile() },
			OnToolsChanged:   func(events.ToolsChanged) { s.scheduleReconcile() },
		})
	}
	return s
}

// MCPServer exposes the underlying mark3labs/mcp-go server so stdio.go and
// http.go can attach transports to it.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Close stops the debounce timer and unsubscribes from the event bus.
func (s *Server) Close() {
	if s.bus != nil {
		s.bus.Unsubscribe(s.busSub)
	}
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.mu.Unlock()
}

// scheduleReconcile coalesces rapid successive toolset/discovery events
// into a single reconcile after cfg.ListChangedDebounce of quiet.
func (s *Server) scheduleReconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.ListChangedDebounce, s.reconcile)
}

// reconcile diffs the toolset manager's current resolved list against what
// mcp-go already has registered and issues at most one DeleteTools call and
// one AddTools call, so a burst of changes collapses into one notification
// per direction rather than one per mutation.
func (s *Server) reconcile() {
	resolved := s.tools.GetMCPTools()
	desired := make(map[string]toolset.ResolvedTool, len(resolved))
	for _, rt := range resolved {
		desired[rt.FlatName] = rt
	}

	s.mu.Lock()
	var toAdd []server.ServerTool
	var toRemove []string
	for name, rt := range desired {
		if _, ok := s.registered[name]; !ok {
			toAdd = append(toAdd, s.serverTool(rt))
		}
	}
	for name := range s.registered {
		if _, ok := desired[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	s.registered = make(map[string]struct{}, len(desired))
	for name := range desired {
		s.registered[name] = struct{}{}
	}
	s.mu.Unlock()

	if len(toRemove) > 0 {
		s.mcp.DeleteTools(toRemove...)
	}
	if len(toAdd) > 0 {
		s.mcp.AddTools(toAdd...)
	}
}

func (s *Server) serverTool(rt toolset.ResolvedTool) server.ServerTool {
	flatName := rt.FlatName
	return server.ServerTool{
		Tool: mcp.Tool{
			Name:        flatName,
			Description: rt.Description,
			InputSchema: mapToInputSchema(rt.InputSchema),
		},
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, _ := req.Params.Arguments.(map[string]any)
			return s.router.Call(ctx, flatName, args)
		},
	}
}

// mapToInputSchema round-trips a tool's canonical schema map back into
// mcp-go's typed ToolInputSchema, the inverse of discovery.schemaToMap.
func mapToInputSchema(m map[string]any) mcp.ToolInputSchema {
	var schema mcp.ToolInputSchema
	data, err := json.Marshal(m)
	if err != nil {
		return schema
	}
	_ = json.Unmarshal(data, &schema)
	return schema
}

// Package router implements the tools/call hot path: translate an upstream
// flat tool name to a downstream (serverName, originalName) pair, dispatch
// through the connection pool under the recovery chain, and return the
// downstream response verbatim. Grounded on the teacher's
// internal/mcp-router/request_handlers.go HandleToolCall (translate tool
// name → look up owning server → strip prefix → dispatch) with the Envoy
// ext_proc HeaderMap/ProcessingResponse plumbing dropped — this router is a
// plain Go function call, not a filter in a gRPC pipeline.
package router

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/resilience"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

// Resolver is the subset of *toolset.Manager the router needs — narrowed so
// tests can supply a fake active toolset without a real configstore.
type Resolver interface {
	Resolve(flat string) (serverName, originalName string, ok bool)
}

// ToolLookup is the subset of *toolcache.Cache the router needs.
type ToolLookup interface {
	Get(ctx context.Context, serverName, toolName string) (toolcache.Tool, bool, error)
}

// ConnectionSource is the subset of *pool.Pool the router needs.
type ConnectionSource interface {
	GetConnection(serverName string) (transport.Connection, error)
	RecordCallFailure(serverName string)
	RecordCallSuccess(serverName string)
}

// Options configures a Router.
type Options struct {
	RequestTimeout time.Duration
	RetryPolicy    resilience.RetryPolicy
}

// DefaultOptions matches spec.md §4.5/§4.7's suggested shape.
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 30 * time.Second,
		RetryPolicy:    resilience.DefaultRetryPolicy(),
	}
}

// Router implements spec.md §4.5's six-step dispatch algorithm.
type Router struct {
	toolset Resolver
	cache   ToolLookup
	pool    ConnectionSource
	opts    Options
	chain   *resilience.Chain
	metrics *metrics
}

// New builds a Router over the given toolset manager, tool cache, and
// connection pool.
func New(ts Resolver, cache ToolLookup, p ConnectionSource, opts Options) *Router {
	return &Router{
		toolset: ts,
		cache:   cache,
		pool:    p,
		opts:    opts,
		chain:   resilience.NewChain(resilience.ServerUnavailableFallback{}),
		metrics: newMetrics(),
	}
}

// Call runs spec.md §4.5's full algorithm for one tools/call invocation.
func (r *Router) Call(ctx context.Context, upstreamName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	start := time.Now()

	serverName, originalName, ok := r.toolset.Resolve(upstreamName)
	if !ok {
		return nil, mcperrors.ToolNotFound("unknown tool %q", upstreamName)
	}

	tool, ok, err := r.cache.Get(ctx, serverName, originalName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mcperrors.ToolNotFound("tool %q is not in the cache for server %q", originalName, serverName)
	}
	if tool.ServerStatus != toolcache.ServerConnected {
		return nil, mcperrors.ServerUnavailable("server %q is not connected", serverName)
	}

	var result *mcp.CallToolResult
	callErr := resilience.Do(ctx, r.opts.RetryPolicy, func(ctx context.Context, _ int) error {
		conn, err := r.pool.GetConnection(serverName)
		if err != nil {
			return err
		}
		res, err := conn.Call(ctx, originalName, arguments, r.opts.RequestTimeout)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	latencyMs := time.Since(start).Milliseconds()
	if callErr != nil {
		r.pool.RecordCallFailure(serverName)
		r.metrics.record(serverName, latencyMs, true)

		fallback, handled, ferr := r.chain.Run(ctx, resilience.FallbackContext{
			OriginalError: callErr,
			Operation:     "tools/call",
		})
		if handled && ferr == nil {
			if tr, ok := fallback.(resilience.ToolResult); ok {
				return toolResultToMCP(tr), nil
			}
		}
		return nil, callErr
	}

	r.pool.RecordCallSuccess(serverName)
	r.metrics.record(serverName, latencyMs, false)
	return result, nil
}

// Stats returns the router's aggregate and per-server call counters.
func (r *Router) Stats() Stats {
	return r.metrics.Snapshot()
}

func toolResultToMCP(tr resilience.ToolResult) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(tr.Content))
	for _, c := range tr.Content {
		content = append(content, mcp.TextContent{Type: c.Type, Text: c.Text})
	}
	return &mcp.CallToolResult{Content: content, IsError: tr.IsError}
}

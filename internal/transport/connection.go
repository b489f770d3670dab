package transport

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

// Connection is the abstract contract every transport variant (stdio, http
// streamable, sse) implements, per spec.md §4.1. The pool only ever talks to
// a server through this interface.
type Connection interface {
	// Connect establishes the transport and performs the MCP initialize
	// handshake. Returns a retryable *mcperrors.Error on transient failure,
	// non-retryable on malformed configuration.
	Connect(ctx context.Context) error

	// Call sends one JSON-RPC request and awaits its matched response.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (*mcp.CallToolResult, error)

	// ListTools issues tools/list against the connection.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// Close performs a graceful shutdown of the transport.
	Close() error

	// IsHealthy is a cheap liveness check used by the pool's health loop.
	IsHealthy() bool

	// OnNotification registers a callback for server-initiated notifications
	// (e.g. notifications/tools/list_changed).
	OnNotification(func(mcp.JSONRPCNotification))

	// ServerName returns the configured name of the downstream server.
	ServerName() string
}

// New builds the Connection variant matching cfg.Kind.
func New(cfg ServerConfig) (Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindStdio:
		return newStdioConnection(cfg), nil
	case KindHTTP:
		return newHTTPConnection(cfg), nil
	case KindSSE:
		return newSSEConnection(cfg), nil
	case KindExtension:
		return nil, mcperrors.Configuration("extension server %q has no resolver yet: extension manifests must be resolved to a stdio or http config before reaching the pool", cfg.Name)
	default:
		return nil, mcperrors.Configuration("server %q has unknown transport kind %q", cfg.Name, cfg.Kind)
	}
}

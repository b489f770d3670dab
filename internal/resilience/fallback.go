package resilience

import (
	"context"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

// FallbackContext is handed to a Handler when the primary call has
// exhausted retries / tripped a circuit breaker.
type FallbackContext struct {
	OriginalError error
	Operation     string
	Attempt       int
}

// Handler is one link in the fallback chain (spec.md §4.7).
type Handler interface {
	CanHandle(err error) bool
	Execute(ctx context.Context, fc FallbackContext) (any, error)
}

// Chain runs an ordered list of Handlers, returning the first one that
// claims the error.
type Chain struct {
	handlers []Handler
}

// NewChain builds a fallback Chain.
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// Run tries each handler in order; returns ok=false if none claimed err.
func (c *Chain) Run(ctx context.Context, fc FallbackContext) (result any, ok bool, err error) {
	for _, h := range c.handlers {
		if h.CanHandle(fc.OriginalError) {
			result, err = h.Execute(ctx, fc)
			return result, true, err
		}
	}
	return nil, false, nil
}

// ToolResult mirrors the MCP tools/call result envelope enough for the
// ServerUnavailableFallback to hand back a structured, in-band error.
type ToolResult struct {
	Content  []ToolContent `json:"content"`
	IsError  bool          `json:"isError"`
	Fallback bool          `json:"fallback"`
}

// ToolContent is one content item of a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerUnavailableFallback returns a structured MCP error result instead of
// letting a ServerUnavailableError propagate as a transport exception.
type ServerUnavailableFallback struct{}

// CanHandle claims ServerUnavailableError-kind failures.
func (ServerUnavailableFallback) CanHandle(err error) bool {
	te, ok := mcperrors.As(err)
	return ok && te.Kind == mcperrors.KindServerUnavailable
}

// Execute builds the in-band isError tool result.
func (ServerUnavailableFallback) Execute(_ context.Context, fc FallbackContext) (any, error) {
	return ToolResult{
		Content: []ToolContent{{
			Type: "text",
			Text: "the downstream server for this tool is currently unavailable: " + fc.OriginalError.Error(),
		}},
		IsError:  true,
		Fallback: true,
	}, nil
}

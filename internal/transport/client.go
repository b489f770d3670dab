package transport

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

// clientConnection adapts a *client.Client (any of the three mcp-go
// transports) to the Connection contract. The variant constructors below
// differ only in how they build the underlying *client.Client.
type clientConnection struct {
	cfg    ServerConfig
	build  func(ctx context.Context) (*client.Client, error)

	mu     sync.RWMutex
	client *client.Client
	init   *mcp.InitializeResult
}

func (c *clientConnection) ServerName() string { return c.cfg.Name }

func (c *clientConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}
	cl, err := c.build(ctx)
	if err != nil {
		return mcperrors.Connection(err, "failed to build client for %s", c.cfg.Name)
	}
	initResp, err := cl.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities: mcp.ClientCapabilities{
				Roots: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{ListChanged: true},
			},
			ClientInfo: mcp.Implementation{
				Name:    "hypertool-mcp-proxy",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		_ = cl.Close()
		return mcperrors.Connection(err, "failed to initialize upstream %s", c.cfg.Name)
	}
	c.client = cl
	c.init = initResp
	return nil
}

func (c *clientConnection) Call(ctx context.Context, method string, params any, timeout time.Duration) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	cl := c.client
	c.mu.RUnlock()
	if cl == nil {
		return nil, mcperrors.ServerUnavailable("%s has no active connection", c.cfg.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args, _ := params.(map[string]any)
	result, err := cl.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: method, Arguments: args},
	})
	if err != nil {
		if callCtx.Err() != nil {
			return nil, mcperrors.Timeout(err, "%s: call to %s timed out after %s", c.cfg.Name, method, timeout)
		}
		return nil, mcperrors.Connection(err, "%s: call to %s failed", c.cfg.Name, method)
	}
	return result, nil
}

func (c *clientConnection) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.RLock()
	cl := c.client
	c.mu.RUnlock()
	if cl == nil {
		return nil, mcperrors.ServerUnavailable("%s has no active connection", c.cfg.Name)
	}
	res, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, mcperrors.Connection(err, "%s: tools/list failed", c.cfg.Name)
	}
	return res.Tools, nil
}

func (c *clientConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.init = nil
	return err
}

func (c *clientConnection) IsHealthy() bool {
	c.mu.RLock()
	cl := c.client
	c.mu.RUnlock()
	if cl == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cl.Ping(ctx) == nil
}

func (c *clientConnection) OnNotification(handler func(mcp.JSONRPCNotification)) {
	c.mu.RLock()
	cl := c.client
	c.mu.RUnlock()
	if cl != nil {
		cl.OnNotification(handler)
	}
}

package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
)

func newSSEConnection(cfg ServerConfig) Connection {
	return &clientConnection{
		cfg: cfg,
		build: func(ctx context.Context) (*client.Client, error) {
			var opts []client.ClientOption
			if len(cfg.Headers) > 0 {
				opts = append(opts, client.WithHeaders(cfg.Headers))
			}
			cl, err := client.NewSSEMCPClient(cfg.URL, opts...)
			if err != nil {
				return nil, err
			}
			if err := cl.Start(ctx); err != nil {
				return nil, err
			}
			return cl, nil
		},
	}
}

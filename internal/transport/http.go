package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
)

func newHTTPConnection(cfg ServerConfig) Connection {
	return &clientConnection{
		cfg: cfg,
		build: func(ctx context.Context) (*client.Client, error) {
			options := []mcptransport.StreamableHTTPCOption{
				mcptransport.WithContinuousListening(),
			}
			if len(cfg.Headers) > 0 {
				options = append(options, mcptransport.WithHTTPHeaders(cfg.Headers))
			}
			cl, err := client.NewStreamableHttpClient(cfg.URL, options...)
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

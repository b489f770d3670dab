package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
)

func newStdioConnection(cfg ServerConfig) Connection {
	return &clientConnection{
		cfg: cfg,
		build: func(_ context.Context) (*client.Client, error) {
			envSlice := make([]string, 0, len(cfg.Env))
			for k, v := range cfg.Env {
				envSlice = append(envSlice, fmt.Sprintf("%s=%s", k, v))
			}
			return client.NewStdioMCPClient(cfg.Command, envSlice, cfg.Args...)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/persona"
	"github.com/hypertool-ai/mcp-proxy/internal/upstreamserver"
)

// newRunCommand implements `mcp run` (spec.md §6), the only long-running
// command: it wires every internal/* component into an upstreamserver.Server
// and blocks until a signal or a fatal error.
func newRunCommand() *cobra.Command {
	var (
		transportFlag string
		port          int
		equipToolset  string
		personaName   string
		logLevel      string
		mcpConfigPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the proxy",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if transportFlag != "stdio" && transportFlag != "http" {
				return invalidInvocationErr{fmt.Errorf("--transport must be %q or %q, got %q", "stdio", "http", transportFlag)}
			}
			return runProxy(cmd.Context(), runOptions{
				transport:     transportFlag,
				port:          port,
				equipToolset:  equipToolset,
				persona:       personaName,
				logLevel:      logLevel,
				mcpConfigPath: mcpConfigPath,
			})
		},
	}

	cmd.Flags().StringVar(&transportFlag, "transport", "stdio", "upstream transport: stdio or http")
	cmd.Flags().IntVar(&port, "port", 8008, "listen port when --transport=http")
	cmd.Flags().StringVar(&equipToolset, "equip-toolset", "", "stored toolset name to equip at startup")
	cmd.Flags().StringVar(&personaName, "persona", "", "persona name to activate at startup")
	cmd.Flags().StringVar(&mcpConfigPath, "mcp-config", "", "override path to the primary MCP-config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "zap level: debug, info, warn, error (defaults to internal/logging's own default)")
	return cmd
}

type runOptions struct {
	transport     string
	port          int
	equipToolset  string
	persona       string
	logLevel      string
	mcpConfigPath string
}

func runProxy(ctx context.Context, opts runOptions) error {
	rt, err := newRuntime(ctx, bootstrapOptions{
		logLevel:       opts.logLevel,
		stdioTransport: opts.transport == "stdio",
		mcpConfigPath:  opts.mcpConfigPath,
	})
	if err != nil {
		return err
	}
	defer rt.shutdown()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	discoveryCtx, cancelDiscovery := context.WithCancel(sigCtx)
	defer cancelDiscovery()
	go rt.discovery.Start(discoveryCtx)

	rt.connectAll(sigCtx)

	if err := equipStartupToolset(sigCtx, rt, opts); err != nil {
		rt.log.Error("startup toolset equip failed, continuing with an empty toolset", zap.Error(err))
	}

	upstreamCfg := upstreamserver.DefaultConfig()
	server := upstreamserver.New(rt.toolsets, rt.router, rt.bus, rt.sessions, rt.log, upstreamCfg)
	defer server.Close()

	switch opts.transport {
	case "stdio":
		rt.log.Info("serving MCP over stdio")
		return server.ServeStdio()
	default:
		status := upstreamserver.NewStatusReporter(rt.pool, rt.cache, rt.sessions, rt.log)
		httpServer := server.NewHTTPServer(upstreamserver.HTTPOptions{
			Addr:   fmt.Sprintf(":%d", opts.port),
			Status: status,
		})
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Start() }()
		rt.log.Info("serving MCP over http", zap.Int("port", opts.port))

		select {
		case <-sigCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	}
}

// equipStartupToolset honors --persona (taking precedence, since activation
// equips its own named toolset as part of the workflow) or --equip-toolset
// against whatever the tool cache has resolved so far.
func equipStartupToolset(ctx context.Context, rt *runtime, opts runOptions) error {
	if opts.persona != "" {
		_, err := rt.personas.Activate(ctx, opts.persona, persona.DefaultActivateOptions())
		return err
	}
	if opts.equipToolset == "" {
		return nil
	}
	available, err := rt.cache.GetAll(ctx, true)
	if err != nil {
		return err
	}
	return rt.toolsets.EquipToolset(opts.equipToolset, available)
}

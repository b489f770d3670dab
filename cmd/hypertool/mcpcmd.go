package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

// newMCPCommand groups `run` with the `mcp add/remove/list/get` entry
// editors over the primary MCP-config file (spec.md §6).
func newMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "run the proxy and manage its stored server entries",
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newMCPAddCommand())
	cmd.AddCommand(newMCPRemoveCommand())
	cmd.AddCommand(newMCPListCommand())
	cmd.AddCommand(newMCPGetCommand())
	return cmd
}

func newMCPAddCommand() *cobra.Command {
	var (
		kind    string
		command string
		args    []string
		env     []string
		url     string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "add or replace a stored MCP-config entry",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			cfg := transport.ServerConfig{Name: posArgs[0], Kind: transport.Kind(kind)}
			switch cfg.Kind {
			case transport.KindStdio:
				cfg.Command = command
				cfg.Args = args
				cfg.Env = parseKeyValues(env)
			case transport.KindHTTP, transport.KindSSE:
				cfg.URL = url
				cfg.Headers = parseKeyValues(headers)
			case transport.KindExtension:
				cfg.ExtensionPath = command
			default:
				return invalidInvocationErr{fmt.Errorf("--type must be one of stdio, http, sse, extension, got %q", kind)}
			}

			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if err := rt.mcpConfig.Put(cfg); err != nil {
				return invalidInvocationErr{err}
			}
			if err := rt.mcpConfig.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %q\n", cfg.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "type", "stdio", "transport kind: stdio, http, sse, extension")
	cmd.Flags().StringVar(&command, "command", "", "stdio command, or extension path when --type=extension")
	cmd.Flags().StringSliceVar(&args, "args", nil, "stdio command arguments")
	cmd.Flags().StringSliceVar(&env, "env", nil, "stdio environment entries as KEY=VALUE")
	cmd.Flags().StringVar(&url, "url", "", "http/sse endpoint URL")
	cmd.Flags().StringSliceVar(&headers, "header", nil, "http/sse headers as KEY=VALUE")
	return cmd
}

func newMCPRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "remove a stored MCP-config entry",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if !rt.mcpConfig.Remove(posArgs[0]) {
				return mcperrors.Validation("server %q not found", posArgs[0])
			}
			if err := rt.mcpConfig.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %q\n", posArgs[0])
			return nil
		},
	}
}

func newMCPListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored MCP-config entries",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			servers := rt.mcpConfig.Servers()
			if len(servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no servers configured)")
				return nil
			}
			for name, cfg := range servers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, cfg.Kind)
			}
			return nil
		},
	}
}

func newMCPGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "print one stored MCP-config entry as JSON",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			cfg, ok := rt.mcpConfig.Get(posArgs[0])
			if !ok {
				return mcperrors.Validation("server %q not found", posArgs[0])
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return mcperrors.Internal(err, "failed to encode server %q", posArgs[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// parseKeyValues turns a slice of "KEY=VALUE" flag entries into a map,
// silently skipping anything without an "=".
func parseKeyValues(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/persona"
	"github.com/hypertool-ai/mcp-proxy/internal/pool"
	"github.com/hypertool-ai/mcp-proxy/internal/upstreamserver"
)

// newPersonaCommand groups the persona lifecycle commands of spec.md §6:
// list, activate, deactivate, status, validate.
func newPersonaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "list, activate, and inspect personas",
	}
	cmd.AddCommand(newPersonaListCommand())
	cmd.AddCommand(newPersonaActivateCommand())
	cmd.AddCommand(newPersonaDeactivateCommand())
	cmd.AddCommand(newPersonaStatusCommand())
	cmd.AddCommand(newPersonaValidateCommand())
	return cmd
}

func newPersonaListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list personas discovered under the persona directory",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			refs, err := rt.personas.List()
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no personas found)")
				return nil
			}
			for _, ref := range refs {
				validity := "valid"
				if !ref.IsValid {
					validity = "invalid"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", ref.Name, validity, ref.Path)
			}
			return nil
		},
	}
}

func newPersonaActivateCommand() *cobra.Command {
	var (
		toolsetName string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "activate NAME",
		Short: "activate a persona, merging its servers and equipping its toolset",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			opts := persona.DefaultActivateOptions()
			opts.Toolset = toolsetName
			opts.Force = force

			state, err := rt.personas.Activate(cmd.Context(), posArgs[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, state)
		},
	}

	cmd.Flags().StringVar(&toolsetName, "toolset", "", "toolset to equip instead of the persona's default")
	cmd.Flags().BoolVar(&force, "force", false, "activate even if manifest validation fails")
	return cmd
}

func newPersonaDeactivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "deactivate the active persona, restoring the prior server set",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if err := rt.personas.Deactivate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deactivated")
			return nil
		},
	}
}

func newPersonaStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the currently active persona, if any",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			state := rt.personas.ActiveState()
			if state == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(no persona active)")
				return nil
			}
			return printJSON(cmd, state)
		},
	}
}

func newPersonaValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "connect every configured server and report per-server health and tool-name conflicts",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.shutdown()

			rt.connectAll(cmd.Context())
			waitForPoolSettle(cmd.Context(), rt, 5*time.Second)

			reporter := upstreamserver.NewStatusReporter(rt.pool, rt.cache, rt.sessions, rt.log)
			response := reporter.Report(cmd.Context())
			if err := printJSON(cmd, response); err != nil {
				return err
			}
			if !response.OverallValid {
				return mcperrors.Validation("validation found %d unhealthy server(s) and %d tool conflict(s)", response.UnhealthyServers, len(response.ToolConflicts))
			}
			return nil
		},
	}
}

// waitForPoolSettle polls the pool's per-server state until nothing is left
// mid-connection attempt or timeout elapses, so `persona validate` reports
// the servers' settled health rather than a snapshot mid-dial.
func waitForPoolSettle(ctx context.Context, rt *runtime, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		settled := true
		for _, st := range rt.pool.Status() {
			if st.State == pool.StateConnecting || st.State == pool.StateReconnecting {
				settled = false
				break
			}
		}
		if settled {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcperrors.Internal(err, "failed to encode response")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

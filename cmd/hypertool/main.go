// Command hypertool is the proxy's CLI entrypoint: `mcp run` starts the
// dual-transport upstream server, `mcp add/remove/list/get` edit the
// primary MCP-config file, and `persona list/activate/deactivate/status/
// validate` drive the persona lifecycle (spec.md §6). Grounded on the
// cobra root-command/NewXCommand-constructor shape the mcpany-core test
// suite demonstrates (cmd/mcp-any-cli, cmd/server) — the teacher's own CLI
// wires a flat flag.FlagSet directly rather than cobra, so the command
// tree itself is adapted from the rest of the retrieval pack.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6.
const (
	exitSuccess           = 0
	exitOperationalError  = 1
	exitInvalidInvocation = 2
)

// invalidInvocationErr marks a bad CLI usage (unknown command, missing or
// malformed flags/args) distinct from a command that ran and failed, so
// main can map it to exit code 2 instead of 1.
type invalidInvocationErr struct{ error }

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "hypertool",
		Short:         "hypertool aggregates many MCP servers behind one proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationErr{err}
	})
	root.AddCommand(newMCPCommand())
	root.AddCommand(newPersonaCommand())
	return root
}

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}

	fmt.Fprintln(os.Stderr, "hypertool:", err)
	if _, ok := err.(invalidInvocationErr); ok {
		return exitInvalidInvocation
	}
	// cobra reports an unrecognised subcommand as a plain error.
	if strings.HasPrefix(err.Error(), "unknown command ") {
		return exitInvalidInvocation
	}
	return exitOperationalError
}

// exactArgs wraps cobra.ExactArgs so a wrong argument count is reported as
// an invalid invocation (exit 2) rather than an operational failure.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return invalidInvocationErr{err}
		}
		return nil
	}
}

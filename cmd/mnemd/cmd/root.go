package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alessandrobrunoh/mnemosyne/pkg/version"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mnemd",
		Short: "Mnemosyne version-history daemon",
		Long: `mnemd is the always-on Mnemosyne daemon: it watches tracked projects,
snapshots every file save into a deduplicated content-addressed store,
extracts symbol-level deltas, and serves history, timeline, and restore
queries over a local socket.

Clients (CLI, editor adapters) talk to it via JSON-RPC on the Unix socket;
this binary only manages the daemon process itself.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

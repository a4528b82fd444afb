package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
)

// Abort returns the command for aborting a run on a server.
func Abort() *cobra.Command {
	var opts handlers.RemoteOptions
	var reason string

	cmd := &cobra.Command{
		Use:   "abort RUN_ID",
		Short: "Abort a run",
		Long: `Abort a run on an approval server. The running step is cancelled and no
later step runs. Aborting a finished run leaves it unchanged.

Examples:
  shipgate abort 0b6e2f8e --reason "superseded by a newer commit"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Abort(cmd.Context(), opts, args[0], reason)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the run")
	addRemoteFlags(cmd, &opts.Server, &opts.Actor)

	return cmd
}

package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
)

// Status returns the command for showing runs on a server.
//
// Optional flags:
//
//	--status: Only list runs with this status
//	--watch, -w: Poll the run until it finishes
//	--output, -o: table, json or yaml
func Status() *cobra.Command {
	var opts handlers.StatusOptions

	cmd := &cobra.Command{
		Use:   "status [RUN_ID]",
		Short: "Show pipeline runs",
		Long: `Show one run and its steps, or list all runs when no ID is given.

Examples:
  # List runs waiting for approval
  shipgate status --status awaiting_approval

  # Follow a run until it finishes
  shipgate status 0b6e2f8e --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return handlers.Status(cmd.Context(), opts, runID)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "status", "", "Only list runs with this status")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Poll the run until it finishes")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 2*time.Second, "Poll interval for --watch")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "table", "Output format: table, json or yaml")
	addRemoteFlags(cmd, &opts.Server, &opts.Actor)

	return cmd
}

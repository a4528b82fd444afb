package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
)

// Run returns the command for executing a pipeline run.
//
// Optional flags:
//
//	--config, -c: Path to the stack declaration (default: auto-detect shipgate.yaml)
//	--branch: Branch to build (default: repository.branch)
//	--revision: Commit to build instead of the branch head
//	--approve: Approve every gate without prompting
//	--server: Start the run on an approval server instead
func Run() *cobra.Command {
	var configPath string
	var opts handlers.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline",
		Long: `Execute the stack's pipeline once, from source to deploy.

Steps run in order; a failing step stops the run. At each approval gate
you are asked to approve or reject in the terminal. Without a terminal,
pass --approve to approve every gate, or start the run on a server with
--server and decide gates with 'shipgate approve'.

Press Ctrl+C to abort the run.

Examples:
  # Run the pipeline for the configured branch
  shipgate run

  # Build a specific commit and approve all gates
  shipgate run --revision 4f2c1e9 --approve

  # Start the run on an approval server
  shipgate run --server http://shipgate.internal:8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Run(cmd.Context(), configPath, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: shipgate.yaml)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Branch to build (default: repository.branch)")
	cmd.Flags().StringVar(&opts.Revision, "revision", "", "Commit to build instead of the branch head")
	cmd.Flags().BoolVar(&opts.Approve, "approve", false, "Approve every gate without prompting")
	addRemoteFlags(cmd, &opts.Server, &opts.Actor)

	return cmd
}

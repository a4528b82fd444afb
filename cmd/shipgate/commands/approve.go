package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
	"github.com/imamik/shipgate/internal/pipeline"
)

// Approve returns the command for approving a gate on a server.
func Approve() *cobra.Command {
	return decisionCommand(pipeline.DecisionApprove, "approve RUN_ID", "Approve a pending gate",
		`Approve the gate a run is waiting on, letting the next step start.

The first decision on a gate wins; deciding it again fails.

Examples:
  # Approve the only pending gate
  shipgate approve 0b6e2f8e-7c1a-4c0e-9f3b-2d5f0c8a1e47

  # Approve a named gate with a comment
  shipgate approve 0b6e2f8e --gate Approve-Deployment --comment "scan reviewed"`)
}

// Reject returns the command for rejecting a gate on a server.
func Reject() *cobra.Command {
	return decisionCommand(pipeline.DecisionReject, "reject RUN_ID", "Reject a pending gate",
		`Reject the gate a run is waiting on. The run stops as rejected and no
later step runs.

Examples:
  # Reject with a reason
  shipgate reject 0b6e2f8e --comment "CKV_AWS_18 must be fixed first"`)
}

func decisionCommand(decision pipeline.Decision, use, short, long string) *cobra.Command {
	var opts handlers.RemoteOptions
	var gate, comment string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Decide(cmd.Context(), opts, args[0], gate, decision, comment)
		},
	}

	cmd.Flags().StringVar(&gate, "gate", "", "Gate to decide (default: the run's only pending gate)")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment recorded with the decision")
	addRemoteFlags(cmd, &opts.Server, &opts.Actor)

	return cmd
}

// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the shipgate CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shipgate",
		Short: "Run gated delivery pipelines from source to Kubernetes",

		// main prints the error; usage is noise for runtime failures.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Pipeline commands
	cmd.AddCommand(Run())
	cmd.AddCommand(Serve())
	cmd.AddCommand(Status())
	cmd.AddCommand(Approve())
	cmd.AddCommand(Reject())
	cmd.AddCommand(Abort())
	cmd.AddCommand(Artifact())

	// Stack commands
	cmd.AddCommand(Validate())
	cmd.AddCommand(Outputs())
	cmd.AddCommand(Doctor())

	// Utility commands
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}

// addRemoteFlags binds the flags every approval API command takes.
func addRemoteFlags(cmd *cobra.Command, server, actor *string) {
	cmd.Flags().StringVar(server, "server", "", "Approval server URL (default: $SHIPGATE_SERVER or http://localhost:8080)")
	cmd.Flags().StringVar(actor, "actor", "", "Name recorded as the author (default: $SHIPGATE_ACTOR or $USER)")
}

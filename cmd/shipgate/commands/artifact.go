package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
)

// Artifact returns the command for inspecting a stored step artifact.
func Artifact() *cobra.Command {
	var configPath, extractDir string

	cmd := &cobra.Command{
		Use:   "artifact RUN_ID STEP",
		Short: "Show or extract the artifact a step stored",
		Long: `Show the artifact a step of a run wrote to the artifact store: its
reference, source revision, digest and metadata. With --extract the
archived workspace is unpacked into a directory.

Examples:
  # Show what the scan step stored
  shipgate artifact 0b6e2f8e Checkov-IaC-Code-Security-Checks

  # Unpack the fetched source of a run
  shipgate artifact 0b6e2f8e Source-Input --extract ./src`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Artifact(cmd.Context(), configPath, args[0], args[1], extractDir)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: shipgate.yaml)")
	cmd.Flags().StringVar(&extractDir, "extract", "", "Directory to unpack the archived workspace into")

	return cmd
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
)

// Outputs returns the command for printing stack outputs.
func Outputs() *cobra.Command {
	var configPath, server, format string

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Print the stack outputs",
		Long: `Print the names the stack exports: cluster, registry, repository,
pipeline and one build project per project-bearing stage.

Examples:
  shipgate outputs
  shipgate outputs -o json
  shipgate outputs --server http://shipgate.internal:8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Outputs(cmd.Context(), configPath, server, format)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: shipgate.yaml)")
	cmd.Flags().StringVar(&server, "server", "", "Read outputs from an approval server instead")
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "Output format: yaml or json")

	return cmd
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
)

// Doctor returns the command for checking the local environment.
//
// Optional flags:
//
//	--config, -c: Path to the stack declaration (default: auto-detect shipgate.yaml)
//	--json: Output in JSON format
func Doctor() *cobra.Command {
	var configPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the stack declaration and required tools",
		Long: `Check that the stack declaration is valid and that the tools its stages
run are installed:

  source stages   git
  scan stages     checkov
  build stages    docker, hadolint and the configured image scanner

Examples:
  shipgate doctor
  shipgate doctor --json`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return handlers.Doctor(configPath, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: shipgate.yaml)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

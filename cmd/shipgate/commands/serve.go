package commands

import (
	"flag"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/imamik/shipgate/cmd/shipgate/handlers"
)

// Serve returns the command for running the approval server.
//
// Optional flags:
//
//	--config, -c: Path to the stack declaration (default: auto-detect shipgate.yaml)
//	--addr: Listen address
//	--zap-*: Logger options (see --help)
func Serve() *cobra.Command {
	var configPath string
	var addr string
	zapOpts := zap.Options{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the approval server",
		Long: `Run an HTTP server that starts pipeline runs and records gate decisions.

Endpoints:
  POST /runs                              start a run
  GET  /runs[?status=...]                 list runs
  GET  /runs/{id}                         show a run
  POST /runs/{id}/abort                   abort a run
  GET  /runs/{id}/gates                   list pending gates
  POST /runs/{id}/gates/{gate}/approve    approve a gate
  POST /runs/{id}/gates/{gate}/reject     reject a gate
  GET  /outputs                           stack outputs
  GET  /healthz, /metrics

On shutdown, runs still in progress are aborted.

Examples:
  # Serve on the default address
  shipgate serve

  # Serve with development logging
  DEBUG=true shipgate serve --addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Serve(cmd.Context(), configPath, addr, &zapOpts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: shipgate.yaml)")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address the server listens on")

	fs := flag.NewFlagSet("zap", flag.ContinueOnError)
	zapOpts.BindFlags(fs)
	cmd.Flags().AddGoFlagSet(fs)

	return cmd
}

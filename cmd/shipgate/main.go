// Package main is the entry point for the shipgate CLI.
//
// shipgate runs a delivery stack's pipeline: source checkout, security
// scans, image build and Kubernetes deploy, with manual approval gates in
// between. Runs execute in-process (shipgate run) or on an approval server
// (shipgate serve) whose gates are decided with shipgate approve/reject.
//
// For detailed usage information, run:
//
//	shipgate --help
package main

import (
	"fmt"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/imamik/shipgate/cmd/shipgate/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	// The first signal cancels the context and aborts active runs; a second
	// one exits immediately.
	if err := commands.Root().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

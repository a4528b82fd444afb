// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Handlers are framework-agnostic and can be tested
// independently of the CLI framework.
package handlers

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/imamik/shipgate/internal/artifact"
	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/server"
	"github.com/imamik/shipgate/internal/stages"
	"github.com/imamik/shipgate/internal/util/prerequisites"
)

// DefaultServer is the approval API address remote commands use when neither
// --server nor SHIPGATE_SERVER is set.
const DefaultServer = "http://localhost:8080"

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadConfigFile loads and validates a stack declaration.
	loadConfigFile = config.LoadFile

	// findConfigFile locates shipgate.yaml.
	findConfigFile = config.FindConfigFile

	// loadTimeouts reads stage timeouts from the environment.
	loadTimeouts = config.LoadTimeouts

	// checkPrereqs checks the tools a stack's stages need.
	checkPrereqs = prerequisites.CheckConfig

	// openStore opens the artifact store a stack declares.
	openStore = artifact.Open

	// buildPlan turns a stack declaration into a plan.
	buildPlan = stages.BuildPlan

	// newExecutor creates the executor stage commands run through.
	newExecutor = func(w io.Writer) stages.Executor {
		return stages.NewShellExecutor(w)
	}

	// newClient creates an approval API client.
	newClient = server.NewClient

	// isInteractiveTTY reports whether the operator can answer prompts.
	isInteractiveTTY = func() bool {
		return (isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())) &&
			(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	}

	// stdout is where handlers print results.
	stdout io.Writer = os.Stdout
)

// loadConfig loads the stack declaration at configPath, or the nearest
// shipgate.yaml when configPath is empty.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		path, err := findConfigFile()
		if err != nil {
			return nil, fmt.Errorf("no config file found: %w", err)
		}
		configPath = path
	}

	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// serverURL resolves the approval API address.
func serverURL(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("SHIPGATE_SERVER"); env != "" {
		return env
	}
	return DefaultServer
}

// defaultActor names the operator recorded on gate decisions.
func defaultActor(flag string) string {
	if flag != "" {
		return flag
	}
	for _, env := range []string{"SHIPGATE_ACTOR", "USER", "USERNAME"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "cli"
}

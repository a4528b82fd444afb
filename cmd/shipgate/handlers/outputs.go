package handlers

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/imamik/shipgate/internal/config"
)

// Outputs prints the stack outputs, from the local declaration or from a
// running server when serverFlag is set. format is yaml or json.
func Outputs(ctx context.Context, configPath, serverFlag, format string) error {
	var outputs []config.Output
	if serverFlag != "" {
		remote, err := newClient(serverURL(serverFlag), "").Outputs(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch outputs: %w", err)
		}
		outputs = remote
	} else {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		outputs = cfg.Outputs()
	}

	switch format {
	case "json":
		return printJSON(outputs)
	case "", "yaml":
		data, err := yaml.Marshal(outputs)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Fprint(stdout, string(data))
		return nil
	}
	return fmt.Errorf("unknown output format %q (use yaml or json)", format)
}

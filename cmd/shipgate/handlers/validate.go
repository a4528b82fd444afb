package handlers

import (
	"fmt"
	"strings"

	"github.com/imamik/shipgate/internal/config"
)

// Validate loads and validates the stack declaration and prints the steps it
// declares. Tools and cluster access are not checked; see Doctor.
func Validate(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s %s\n", readyStyle.Render(checkMark), titleStyle.Render("Configuration is valid"))
	fmt.Fprintf(stdout, "  Stack:    %s\n", cfg.Stack)
	fmt.Fprintf(stdout, "  Pipeline: %s\n", cfg.Pipeline.Name)
	fmt.Fprintf(stdout, "  Source:   %s@%s\n", cfg.Repository.URL, cfg.Repository.Branch)
	fmt.Fprintf(stdout, "  Artifacts: %s\n\n", describeArtifacts(cfg.Artifacts))

	fmt.Fprintln(stdout, sectionStyle.Render("Steps"))
	for i, s := range cfg.Pipeline.Stages {
		fmt.Fprintf(stdout, "  %d. %-30s %-6s %s\n", i+1, s.Name, s.Kind, dimStyle.Render(describeStage(cfg, s)))
	}
	return nil
}

func describeArtifacts(a config.ArtifactConfig) string {
	if a.Backend == config.BackendS3 {
		loc := "s3://" + a.Bucket
		if a.Prefix != "" {
			loc += "/" + strings.Trim(a.Prefix, "/")
		}
		return loc
	}
	return a.Path
}

func describeStage(cfg *config.Config, s config.StageConfig) string {
	var parts []string
	switch s.Kind {
	case config.KindScan:
		parts = append(parts, s.Template)
	case config.KindGate:
		timeout := s.Timeout
		if timeout == 0 {
			timeout = cfg.Pipeline.GateTimeout
		}
		if timeout > 0 {
			parts = append(parts, "rejects after "+timeout.String())
		} else {
			parts = append(parts, "waits for a decision")
		}
	case config.KindBuild:
		parts = append(parts, cfg.ImageRef(s))
	case config.KindDeploy:
		parts = append(parts, s.Manifest+" -> "+cfg.Cluster.Name+"/"+s.Namespace)
	}
	if s.Project != "" {
		parts = append(parts, "project "+s.Project)
	}
	return strings.Join(parts, ", ")
}

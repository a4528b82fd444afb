package handlers

import (
	"fmt"

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/kube"
	"github.com/imamik/shipgate/internal/util/prerequisites"
)

// DoctorReport is the JSON form of the doctor output.
type DoctorReport struct {
	Config      string       `json:"config,omitempty"`
	ConfigError string       `json:"configError,omitempty"`
	Tools       []ToolStatus `json:"tools"`

	// Cluster is set when the stack deploys to a cluster.
	Cluster *ClusterStatus `json:"cluster,omitempty"`
}

// ClusterStatus is the reachability of the deploy cluster.
type ClusterStatus struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolStatus is one checked tool.
type ToolStatus struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Found    bool   `json:"found"`
	Path     string `json:"path,omitempty"`
	Version  string `json:"version,omitempty"`
}

var (
	// checkTools checks a tool list. It is replaced in tests.
	checkTools = prerequisites.Check

	// clusterVersion asks the deploy cluster for its version.
	clusterVersion = func(cluster config.ClusterConfig) (string, error) {
		client, err := kube.NewFromKubeconfigFile(cluster.Kubeconfig, cluster.Context)
		if err != nil {
			return "", err
		}
		return client.ServerVersion()
	}
)

// Doctor checks the stack declaration and the tools its stages shell out
// to. Without a declaration the default layout's tools are checked.
func Doctor(configPath string, jsonOutput bool) error {
	report := DoctorReport{}

	var cfg *config.Config
	path := configPath
	if path == "" {
		path, _ = findConfigFile()
	}
	if path != "" {
		report.Config = path
		loaded, err := loadConfigFile(path)
		if err != nil {
			report.ConfigError = err.Error()
		} else {
			cfg = loaded
		}
	}

	tools := prerequisites.DefaultTools()
	if cfg != nil {
		tools = prerequisites.ToolsFor(cfg)
	}
	tools = append(tools, prerequisites.OptionalTools()...)
	results := checkTools(tools)
	for _, r := range results.Results {
		report.Tools = append(report.Tools, ToolStatus{
			Name:     r.Tool.Name,
			Required: r.Tool.Required,
			Found:    r.Found,
			Path:     r.Path,
			Version:  r.Version,
		})
	}

	if cfg != nil && cfg.HasKind(config.KindDeploy) {
		report.Cluster = &ClusterStatus{Name: cfg.Cluster.Name}
		version, err := clusterVersion(cfg.Cluster)
		if err != nil {
			report.Cluster.Error = err.Error()
		} else {
			report.Cluster.Version = version
		}
	}

	if jsonOutput {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printDoctor(report, results)
	}

	if report.ConfigError != "" {
		return fmt.Errorf("invalid config %s", report.Config)
	}
	if err := results.Error(); err != nil {
		return err
	}
	if report.Cluster != nil && report.Cluster.Error != "" {
		return fmt.Errorf("cluster %s is unreachable: %s", report.Cluster.Name, report.Cluster.Error)
	}
	return nil
}

func printDoctor(report DoctorReport, results *prerequisites.CheckResults) {
	fmt.Fprintln(stdout, sectionStyle.Render("Configuration"))
	switch {
	case report.Config == "":
		fmt.Fprintf(stdout, "  %s no %s found, checking the default layout\n", warningStyle.Render(pendMark), config.DefaultConfigFilename)
	case report.ConfigError != "":
		fmt.Fprintf(stdout, "  %s %s\n", failedStyle.Render(crossMark), report.Config)
		fmt.Fprintf(stdout, "       %s\n", failedStyle.Render(report.ConfigError))
	default:
		fmt.Fprintf(stdout, "  %s %s\n", readyStyle.Render(checkMark), report.Config)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, sectionStyle.Render("Tools"))
	for _, r := range results.Results {
		switch {
		case r.Found:
			fmt.Fprintf(stdout, "  %s %-10s %s\n", readyStyle.Render(checkMark), r.Tool.Name, dimStyle.Render(r.Version))
		case r.Tool.Required:
			fmt.Fprintf(stdout, "  %s %-10s %s\n", failedStyle.Render(crossMark), r.Tool.Name, r.Tool.Description)
			if r.Tool.InstallURL != "" {
				fmt.Fprintf(stdout, "       %s\n", dimStyle.Render(r.Tool.InstallURL))
			}
		default:
			fmt.Fprintf(stdout, "  %s %-10s %s\n", dimStyle.Render(skipMark), r.Tool.Name, dimStyle.Render(r.Tool.Description))
		}
	}

	if c := report.Cluster; c != nil {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, sectionStyle.Render("Cluster"))
		if c.Error != "" {
			fmt.Fprintf(stdout, "  %s %-10s %s\n", failedStyle.Render(crossMark), c.Name, failedStyle.Render(c.Error))
		} else {
			fmt.Fprintf(stdout, "  %s %-10s %s\n", readyStyle.Render(checkMark), c.Name, dimStyle.Render(c.Version))
		}
	}
}

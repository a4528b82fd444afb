// Package prerequisites checks that the client tools pipeline stages shell
// out to are installed.
package prerequisites

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/imamik/shipgate/internal/config"
)

// Tool represents a client tool that may be required.
type Tool struct {
	// Name is the binary name to look for in PATH.
	Name string

	// Required indicates if this tool is mandatory.
	Required bool

	// Description explains what the tool is used for.
	Description string

	// InstallURL provides a URL for installation instructions.
	InstallURL string
}

var (
	git = Tool{
		Name:        "git",
		Required:    true,
		Description: "Required by source stages to clone the repository",
		InstallURL:  "https://git-scm.com/downloads",
	}
	checkov = Tool{
		Name:        "checkov",
		Required:    true,
		Description: "Required by scan stages to check infrastructure templates",
		InstallURL:  "https://www.checkov.io/2.Basics/Installing%20Checkov.html",
	}
	docker = Tool{
		Name:        "docker",
		Required:    true,
		Description: "Required by build stages to build and push images",
		InstallURL:  "https://docs.docker.com/get-docker/",
	}
	hadolint = Tool{
		Name:        "hadolint",
		Required:    true,
		Description: "Required by build stages to lint Dockerfiles",
		InstallURL:  "https://github.com/hadolint/hadolint#install",
	}
)

// ToolsForKind returns the tools a stage of the given kind runs. Gate and
// deploy stages need none: deploys talk to the cluster API directly.
func ToolsForKind(kind string) []Tool {
	switch kind {
	case config.KindSource:
		return []Tool{git}
	case config.KindScan:
		return []Tool{checkov}
	case config.KindBuild:
		return []Tool{docker, hadolint}
	}
	return nil
}

// ToolsFor returns the tools cfg's stages need, each listed once, plus the
// image scanners build stages declare.
func ToolsFor(cfg *config.Config) []Tool {
	var tools []Tool
	seen := make(map[string]bool)
	add := func(t Tool) {
		if !seen[t.Name] {
			seen[t.Name] = true
			tools = append(tools, t)
		}
	}

	for _, s := range cfg.Pipeline.Stages {
		for _, t := range ToolsForKind(s.Kind) {
			add(t)
		}
		if fields := strings.Fields(s.ImageScanner); len(fields) > 0 {
			add(Tool{
				Name:        fields[0],
				Required:    true,
				Description: fmt.Sprintf("Image scanner for stage %q", s.Name),
			})
		}
	}
	return tools
}

// DefaultTools returns the tools the default stage layout needs.
func DefaultTools() []Tool {
	return []Tool{git, checkov, docker, hadolint}
}

// OptionalTools returns tools that are useful but not required.
func OptionalTools() []Tool {
	return []Tool{
		{
			Name:        "kubectl",
			Required:    false,
			Description: "Useful for inspecting deployed workloads",
			InstallURL:  "https://kubernetes.io/docs/tasks/tools/",
		},
		{
			Name:        "grype",
			Required:    false,
			Description: "Common choice for a build stage image_scanner",
			InstallURL:  "https://github.com/anchore/grype#installation",
		},
	}
}

// CheckResult contains the result of checking a single tool.
type CheckResult struct {
	Tool    Tool
	Found   bool
	Path    string
	Version string
}

// CheckResults contains the results of checking multiple tools.
type CheckResults struct {
	Results []CheckResult
	Missing []Tool
}

// HasErrors returns true if any required tools are missing.
func (r *CheckResults) HasErrors() bool {
	for _, tool := range r.Missing {
		if tool.Required {
			return true
		}
	}
	return false
}

// Error returns an error if any required tools are missing.
func (r *CheckResults) Error() error {
	var missing []string
	for _, tool := range r.Missing {
		if !tool.Required {
			continue
		}
		if tool.InstallURL == "" {
			missing = append(missing, tool.Name)
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (%s)", tool.Name, tool.InstallURL))
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
}

// Check verifies that the specified tools are available.
func Check(tools []Tool) *CheckResults {
	results := &CheckResults{}

	for _, tool := range tools {
		result := CheckResult{Tool: tool}

		path, err := exec.LookPath(tool.Name)
		if err == nil {
			result.Found = true
			result.Path = path
			result.Version = getToolVersion(tool.Name)
		} else {
			results.Missing = append(results.Missing, tool)
		}

		results.Results = append(results.Results, result)
	}

	return results
}

// CheckConfig checks the tools cfg's stages need. A nil cfg checks the
// default layout.
func CheckConfig(cfg *config.Config) *CheckResults {
	if cfg == nil {
		return Check(DefaultTools())
	}
	return Check(ToolsFor(cfg))
}

// CheckAll checks the default and optional tools.
func CheckAll() *CheckResults {
	defaults := DefaultTools()
	optional := OptionalTools()
	all := make([]Tool, 0, len(defaults)+len(optional))
	all = append(all, defaults...)
	all = append(all, optional...)
	return Check(all)
}

// getToolVersion returns the first line a version flag prints, or "".
func getToolVersion(name string) string {
	for _, flag := range []string{"--version", "version", "-v"} {
		// #nosec G204 - name comes from trusted Tool definitions or the stack file
		output, err := exec.Command(name, flag).Output()
		if err == nil {
			line, _, _ := strings.Cut(string(output), "\n")
			return strings.TrimSpace(line)
		}
	}
	return ""
}

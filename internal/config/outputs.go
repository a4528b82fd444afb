package config

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Output is a named value the stack exports once declared.
type Output struct {
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// projectExports maps the default layout's stage names to their export names.
var projectExports = map[string]string{
	StepIaCScan:       "CheckovProject",
	StepContainerScan: "StaticScanProject",
	StepDeploy:        "EKSDeployProject",
}

// Outputs returns the stack exports: cluster, registry, repository and
// pipeline names, then one export per stage that names a build project.
func (c *Config) Outputs() []Output {
	out := []Output{
		{Name: "EKSClusterName", Value: c.Cluster.Name, Description: "Kubernetes cluster deploy stages target"},
		{Name: "ECRrepo", Value: c.Registry.Name, Description: "Container registry build stages push to"},
		{Name: "CCrepo", Value: c.Repository.Name, Description: "Source repository runs are triggered from"},
		{Name: "CPName", Value: c.Pipeline.Name, Description: "Pipeline name"},
	}
	for _, s := range c.Pipeline.Stages {
		if s.Project == "" {
			continue
		}
		out = append(out, Output{
			Name:        exportName(s),
			Value:       s.Project,
			Description: "Build project for " + s.Name,
		})
	}
	return out
}

// exportName derives an export name for a project-bearing stage, e.g.
// "Unit-Tests" becomes "UnitTestsProject".
func exportName(s StageConfig) string {
	if name, ok := projectExports[s.Name]; ok {
		return name
	}
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s.Name, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	}) {
		r, size := utf8.DecodeRuneInString(part)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(part[size:])
	}
	b.WriteString("Project")
	return b.String()
}

package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
	"github.com/imamik/shipgate/internal/stages"
	"github.com/imamik/shipgate/internal/util/prerequisites"
)

const testStack = `stack: devsecops-eks
repository:
  name: devsecops-eks-cc-repository
  url: https://git.example.com/app.git
artifacts:
  backend: local
  path: %s
pipeline:
  name: devsecops-project-eks-pipeline
  stages:
    - name: Source-Input
      kind: source
    - name: Approve-Checks
      kind: gate
      message: Review the scan report
      timeout: 1h
    - name: IaC-Scan
      kind: scan
      template: cdk.out/stack.template.json
      project: checkov-project
`

// writeStack writes a stack declaration whose artifacts live in a temp dir.
func writeStack(t *testing.T) (configPath, artifactDir string) {
	t.Helper()
	dir := t.TempDir()
	artifactDir = filepath.Join(dir, "artifacts")
	configPath = filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, os.WriteFile(configPath, fmt.Appendf(nil, testStack, artifactDir), 0o600))
	return configPath, artifactDir
}

// testPlan mirrors testStack with in-process stages.
func testPlan() pipeline.Plan {
	pass := pipeline.StageFunc(func(_ context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
		return in.With("checked", "yes"), nil
	})
	return pipeline.Plan{
		{Name: "Source-Input", Kind: pipeline.KindSource, Stage: pass},
		{Name: "Approve-Checks", Kind: pipeline.KindGate, Gate: pipeline.GatePolicy{Message: "Review the scan report"}},
		{Name: "IaC-Scan", Kind: pipeline.KindScan, Stage: pass},
	}
}

// stubHandlers replaces the factory variables for one test and captures
// stdout. Tests that use it must not run in parallel.
func stubHandlers(t *testing.T, interactive bool) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer

	origStdout, origTTY, origPlan, origPrereqs, origPrompt, origCheck, origCluster, origLoad :=
		stdout, isInteractiveTTY, buildPlan, checkPrereqs, promptGate, checkTools, clusterVersion, loadConfigFile
	t.Cleanup(func() {
		stdout, isInteractiveTTY, buildPlan, checkPrereqs, promptGate, checkTools, clusterVersion, loadConfigFile =
			origStdout, origTTY, origPlan, origPrereqs, origPrompt, origCheck, origCluster, origLoad
	})

	stdout = &out
	isInteractiveTTY = func() bool { return interactive }
	buildPlan = func(*config.Config, stages.Dependencies) (pipeline.Plan, error) {
		return testPlan(), nil
	}
	checkPrereqs = func(*config.Config) *prerequisites.CheckResults {
		return &prerequisites.CheckResults{}
	}
	clusterVersion = func(config.ClusterConfig) (string, error) {
		t.Error("unexpected cluster check")
		return "", nil
	}
	promptGate = func(context.Context, string, pipeline.GateState) (bool, error) {
		t.Error("unexpected prompt")
		return false, nil
	}
	return &out
}

package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/shipgate/internal/artifact"
	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
	"github.com/imamik/shipgate/internal/stages"
)

// failingScanPlan fetches a workspace and then fails the scan.
func failingScanPlan(t *testing.T) pipeline.Plan {
	t.Helper()
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "Dockerfile"), []byte("FROM python:3.12-slim\n"), 0o600))

	fetch := pipeline.StageFunc(func(_ context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
		out := in.With("url", "https://git.example.com/app.git")
		out.Path = workspace
		out.Revision = "4f2c1e9"
		return out, nil
	})
	scan := pipeline.StageFunc(func(context.Context, pipeline.Artifact) (pipeline.Artifact, error) {
		return pipeline.Artifact{}, errors.New("checkov found 2 failed checks")
	})
	return pipeline.Plan{
		{Name: "Source-Input", Kind: pipeline.KindSource, Stage: fetch},
		{Name: "IaC-Scan", Kind: pipeline.KindScan, Stage: scan},
	}
}

func TestArtifact_AfterFailedRun(t *testing.T) {
	out := stubHandlers(t, false)
	configPath, artifactDir := writeStack(t)
	plan := failingScanPlan(t)
	buildPlan = func(*config.Config, stages.Dependencies) (pipeline.Plan, error) { return plan, nil }
	ctx := context.Background()

	err := Run(ctx, configPath, RunOptions{Actor: "alice", Approve: true})
	stage, ok := pipeline.FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, "IaC-Scan", stage)

	backend, err := artifact.NewLocalStore(artifactDir)
	require.NoError(t, err)
	records, err := artifact.New(backend).Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	runID := records[0].ID
	assert.Contains(t, out.String(), "shipgate artifact "+runID+" Source-Input")

	out.Reset()
	dst := filepath.Join(t.TempDir(), "src")
	require.NoError(t, Artifact(ctx, configPath, runID, "Source-Input", dst))
	assert.Contains(t, out.String(), "Source-Input")
	assert.Contains(t, out.String(), "4f2c1e9")
	assert.Contains(t, out.String(), "Extracted to "+dst)

	got, err := os.ReadFile(filepath.Join(dst, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, "FROM python:3.12-slim\n", string(got))
}

func TestArtifact_Missing(t *testing.T) {
	stubHandlers(t, false)
	configPath, _ := writeStack(t)

	err := Artifact(context.Background(), configPath, "no-such-run", "Source-Input", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no stored artifact")
}

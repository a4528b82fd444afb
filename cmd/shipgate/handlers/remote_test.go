package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
	"github.com/imamik/shipgate/internal/server"
)

type remoteEnv struct {
	manager *pipeline.Manager
	opts    RemoteOptions
}

func newRemoteEnv(t *testing.T) *remoteEnv {
	t.Helper()
	manager := pipeline.NewManager("devsecops-project-eks-pipeline", testPlan(), pipeline.NewSequencer())
	srv := httptest.NewServer(server.New(manager,
		server.WithOutputs([]config.Output{{Name: "CPName", Value: "devsecops-project-eks-pipeline"}}),
	).Handler())
	t.Cleanup(func() {
		srv.Close()
		manager.AbortAll("test finished")
		manager.Wait()
	})
	return &remoteEnv{manager: manager, opts: RemoteOptions{Server: srv.URL, Actor: "dave"}}
}

// awaiting starts a run and waits until it reaches its gate.
func (e *remoteEnv) awaiting(t *testing.T) *pipeline.Run {
	t.Helper()
	run, err := e.manager.Start(context.Background(), pipeline.Trigger{Repository: "devsecops-eks-cc-repository", Branch: "main"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return run.Status() == pipeline.StatusAwaitingApproval },
		5*time.Second, 5*time.Millisecond)
	return run
}

func TestDecide(t *testing.T) {
	out := stubHandlers(t, false)
	env := newRemoteEnv(t)
	run := env.awaiting(t)
	ctx := context.Background()

	require.NoError(t, Decide(ctx, env.opts, run.ID, "", pipeline.DecisionApprove, "scan reviewed"))
	assert.Contains(t, out.String(), "Approve-Checks approve on run "+run.ID+" by dave")

	<-run.Done()
	assert.Equal(t, pipeline.StatusSucceeded, run.Status())
	gate, ok := run.Gate("Approve-Checks")
	require.True(t, ok)
	assert.Equal(t, "scan reviewed", gate.Comment)

	err := Decide(ctx, env.opts, run.ID, "Approve-Checks", pipeline.DecisionReject, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already decided")

	err = Decide(ctx, env.opts, run.ID, "", pipeline.DecisionReject, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not waiting on a gate")
}

func TestDecide_Reject(t *testing.T) {
	stubHandlers(t, false)
	env := newRemoteEnv(t)
	run := env.awaiting(t)

	require.NoError(t, Decide(context.Background(), env.opts, run.ID, "Approve-Checks", pipeline.DecisionReject, "fix CKV_AWS_18"))
	<-run.Done()
	assert.Equal(t, pipeline.StatusRejected, run.Status())
}

func TestDecide_UnknownRun(t *testing.T) {
	stubHandlers(t, false)
	env := newRemoteEnv(t)

	err := Decide(context.Background(), env.opts, "missing", "Approve-Checks", pipeline.DecisionApprove, "")
	require.Error(t, err)
	assert.True(t, server.IsNotFound(err))
}

func TestAbort(t *testing.T) {
	out := stubHandlers(t, false)
	env := newRemoteEnv(t)
	run := env.awaiting(t)
	ctx := context.Background()

	require.NoError(t, Abort(ctx, env.opts, run.ID, "superseded"))
	assert.Contains(t, out.String(), "Run "+run.ID+" aborted")
	assert.Equal(t, pipeline.StatusAborted, run.Status())

	out.Reset()
	require.NoError(t, Abort(ctx, env.opts, run.ID, "again"))
	assert.Contains(t, out.String(), "already aborted")
}

func TestStatus(t *testing.T) {
	out := stubHandlers(t, false)
	env := newRemoteEnv(t)
	run := env.awaiting(t)
	ctx := context.Background()

	require.NoError(t, Status(ctx, StatusOptions{RemoteOptions: env.opts}, run.ID))
	assert.Contains(t, out.String(), "awaiting_approval")
	assert.Contains(t, out.String(), "Review the scan report")

	out.Reset()
	require.NoError(t, Status(ctx, StatusOptions{RemoteOptions: env.opts, Filter: "awaiting_approval"}, ""))
	assert.Contains(t, out.String(), run.ID)

	out.Reset()
	require.NoError(t, Status(ctx, StatusOptions{RemoteOptions: env.opts, Filter: "succeeded"}, ""))
	assert.Contains(t, out.String(), "No runs.")

	out.Reset()
	require.NoError(t, Status(ctx, StatusOptions{RemoteOptions: env.opts, Output: "json"}, run.ID))
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, run.ID, snap.ID)

	out.Reset()
	require.NoError(t, Status(ctx, StatusOptions{RemoteOptions: env.opts, Output: "yaml"}, ""))
	assert.Contains(t, out.String(), "id: "+run.ID)
	assert.Contains(t, out.String(), "status: awaiting_approval")
	assert.Contains(t, out.String(), "current_step: Approve-Checks")

	err := Status(ctx, StatusOptions{RemoteOptions: env.opts, Output: "xml"}, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestStatus_Watch(t *testing.T) {
	out := stubHandlers(t, false)
	env := newRemoteEnv(t)
	run := env.awaiting(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = run.ResolveGate("Approve-Checks", pipeline.DecisionApprove, "erin", "")
	}()

	opts := StatusOptions{RemoteOptions: env.opts, Watch: true, Interval: 5 * time.Millisecond}
	require.NoError(t, Status(context.Background(), opts, run.ID))
	assert.Contains(t, out.String(), "succeeded")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pending := env.awaiting(t)
	err := Status(ctx, opts, pending.ID)
	assert.Error(t, err)
}

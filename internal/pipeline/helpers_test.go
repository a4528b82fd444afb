package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// MockObserver records events for assertions.
type MockObserver struct {
	mu       sync.Mutex
	events   []Event
	messages []string
	fields   map[string]string
}

func NewMockObserver() *MockObserver {
	return &MockObserver{fields: make(map[string]string)}
}

func (m *MockObserver) Printf(format string, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, format)
}

func (m *MockObserver) Event(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockObserver) WithFields(map[string]string) Observer {
	return m
}

func (m *MockObserver) types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// recorder tracks which stages ran and in which order.
type recorder struct {
	mu    sync.Mutex
	calls []string
	seen  map[string]Artifact
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string]Artifact)}
}

func (r *recorder) stage(name string, err error) Stage {
	return StageFunc(func(_ context.Context, in Artifact) (Artifact, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.seen[name] = in
		r.mu.Unlock()
		if err != nil {
			return Artifact{}, err
		}
		return in.With("produced-by", name), nil
	})
}

func (r *recorder) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) input(name string) Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[name]
}

// devsecopsPlan builds the six-step layout with stage failures injected by name.
func devsecopsPlan(r *recorder, failures map[string]error) Plan {
	return Plan{
		{Name: "source", Kind: KindSource, Stage: r.stage("source", failures["source"])},
		{Name: "scan", Kind: KindScan, Stage: r.stage("scan", failures["scan"])},
		{Name: "approve-scan", Kind: KindGate, Gate: GatePolicy{Message: "review checkov findings"}},
		{Name: "build", Kind: KindBuild, Stage: r.stage("build", failures["build"])},
		{Name: "approve-deploy", Kind: KindGate},
		{Name: "deploy", Kind: KindDeploy, Stage: r.stage("deploy", failures["deploy"])},
	}
}

func testTrigger() Trigger {
	return Trigger{Repository: "devsecops-eks-cc-repository", Branch: "main", TriggeredBy: "test"}
}

func newTestRun(t *testing.T, plan Plan) *Run {
	t.Helper()
	run, err := NewRun("run-1", "devsecops", testTrigger(), plan)
	require.NoError(t, err)
	return run
}

// decideAll answers every gate with the given decision.
func decideAll(decision Decision) GateNotifier {
	return GateNotifierFunc(func(run *Run, gate GateState) {
		_ = run.ResolveGate(gate.ID, decision, "tester", "")
	})
}

// decideByGate answers gates from a map and leaves the rest pending.
func decideByGate(decisions map[string]Decision) GateNotifier {
	return GateNotifierFunc(func(run *Run, gate GateState) {
		if d, ok := decisions[gate.ID]; ok {
			_ = run.ResolveGate(gate.ID, d, "tester", "")
		}
	})
}

// executeAsync runs Execute in the background and returns its result channel.
func executeAsync(ctx context.Context, seq *Sequencer, run *Run) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- seq.Execute(ctx, run) }()
	return errCh
}

func waitForGate(t *testing.T, run *Run, gateID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		g, ok := run.Gate(gateID)
		return ok && g.Decision == DecisionPending
	}, 2*time.Second, 5*time.Millisecond, "gate %s never became pending", gateID)
}

func receive(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return")
		return nil
	}
}

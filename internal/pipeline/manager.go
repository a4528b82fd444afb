package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Manager owns the runs of one pipeline. Runs are independent state
// machines; the manager only indexes them and starts their execution.
type Manager struct {
	pipeline string
	plan     Plan
	seq      *Sequencer
	newID    func() string

	mu      sync.RWMutex
	runs    map[string]*Run
	results map[string]error
	wg      sync.WaitGroup
}

// NewManager creates a manager that executes plan with seq.
func NewManager(pipelineName string, plan Plan, seq *Sequencer) *Manager {
	return &Manager{
		pipeline: pipelineName,
		plan:     plan,
		seq:      seq,
		newID:    uuid.NewString,
		runs:     make(map[string]*Run),
		results:  make(map[string]error),
	}
}

// Pipeline returns the managed pipeline name.
func (m *Manager) Pipeline() string {
	return m.pipeline
}

// Start validates the trigger, registers a run and executes it in the
// background. Validation failures are returned as *ConfigError and no run
// is created.
func (m *Manager) Start(ctx context.Context, trigger Trigger) (*Run, error) {
	run, err := NewRun(m.newID(), m.pipeline, trigger, m.plan)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := m.seq.Execute(ctx, run)
		m.mu.Lock()
		m.results[run.ID] = err
		m.mu.Unlock()
	}()
	return run, nil
}

// Get returns a run by ID.
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Result returns the error Execute returned for a finished run.
// done is false while the run is still executing.
func (m *Manager) Result(id string) (done bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	err, done = m.results[id]
	return done, err
}

// List returns snapshots of all runs, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, len(runs))
	for i, run := range runs {
		snaps[i] = run.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Resolve records a gate decision on a run.
func (m *Manager) Resolve(runID, gateID string, decision Decision, actor, comment string) error {
	run, err := m.Get(runID)
	if err != nil {
		return err
	}
	return run.ResolveGate(gateID, decision, actor, comment)
}

// Abort aborts a run. It reports false when the run was already terminal.
func (m *Manager) Abort(runID, reason string) (bool, error) {
	run, err := m.Get(runID)
	if err != nil {
		return false, err
	}
	return run.Abort(reason), nil
}

// AbortAll aborts every non-terminal run.
func (m *Manager) AbortAll(reason string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, run := range m.runs {
		run.Abort(reason)
	}
}

// Wait blocks until every started run has returned from Execute.
func (m *Manager) Wait() {
	m.wg.Wait()
}

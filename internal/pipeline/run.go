package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Trigger starts a run: a repository revision and who asked for it.
type Trigger struct {
	Repository  string `json:"repository"`
	Branch      string `json:"branch"`
	Revision    string `json:"revision,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// Validate rejects triggers that can never reach a stage.
func (t Trigger) Validate() error {
	if t.Repository == "" {
		return configErrorf("trigger has no repository")
	}
	if t.Branch == "" {
		return configErrorf("trigger has no branch")
	}
	return nil
}

// StepRecord is the observable state of one step.
type StepRecord struct {
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	Status     StepStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
	Artifact   *Artifact  `json:"artifact,omitempty"`
	Error      string     `json:"error,omitempty"`
	Gate       *GateState `json:"gate,omitempty"`
}

// Snapshot is a point-in-time copy of a run, safe to share.
type Snapshot struct {
	ID          string       `json:"id"`
	Pipeline    string       `json:"pipeline"`
	Trigger     Trigger      `json:"trigger"`
	Status      Status       `json:"status"`
	CurrentStep string       `json:"current_step,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   time.Time    `json:"started_at,omitzero"`
	FinishedAt  time.Time    `json:"finished_at,omitzero"`
	Error       string       `json:"error,omitempty"`
	Steps       []StepRecord `json:"steps"`
}

// Run is one execution of a plan. All state changes go through its methods,
// which hold the run lock; a Run is safe for concurrent use.
type Run struct {
	ID       string
	Pipeline string
	Trigger  Trigger

	plan Plan
	now  func() time.Time

	mu         sync.Mutex
	status     Status
	current    int
	records    []StepRecord
	gates      map[string]*Gate
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	errMsg     string
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewRun validates the trigger and the plan and returns a pending run.
// Validation failures are returned as *ConfigError.
func NewRun(id, pipelineName string, trigger Trigger, plan Plan) (*Run, error) {
	if id == "" {
		return nil, configErrorf("run has no id")
	}
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	records := make([]StepRecord, len(plan))
	for i, step := range plan {
		records[i] = StepRecord{Name: step.Name, Kind: step.Kind, Status: StepPending}
	}

	r := &Run{
		ID:       id,
		Pipeline: pipelineName,
		Trigger:  trigger,
		plan:     append(Plan(nil), plan...),
		now:      time.Now,
		status:   StatusPending,
		current:  -1,
		records:  records,
		gates:    make(map[string]*Gate),
		done:     make(chan struct{}),
	}
	r.createdAt = r.now()
	return r, nil
}

// Status returns the current run status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Snapshot returns a copy of the run state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ID:         r.ID,
		Pipeline:   r.Pipeline,
		Trigger:    r.Trigger,
		Status:     r.status,
		CreatedAt:  r.createdAt,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Error:      r.errMsg,
		Steps:      make([]StepRecord, len(r.records)),
	}
	if r.current >= 0 && !r.status.Terminal() {
		snap.CurrentStep = r.records[r.current].Name
	}
	for i, rec := range r.records {
		if rec.Artifact != nil {
			a := rec.Artifact.Clone()
			rec.Artifact = &a
		}
		if g, ok := r.gates[rec.Name]; ok {
			state := g.state()
			rec.Gate = &state
		}
		snap.Steps[i] = rec
	}
	return snap
}

// Abort cancels a non-terminal run and its in-flight stage. It returns false
// when the run was already terminal; aborting twice has no further effect.
func (r *Run) Abort(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}
	if reason == "" {
		reason = "aborted by operator"
	}

	if r.current >= 0 {
		rec := &r.records[r.current]
		if rec.Status == StepRunning || rec.Status == StepAwaitingApproval {
			rec.Status = StepAborted
			rec.FinishedAt = r.now()
		}
	}
	r.finishLocked(StatusAborted, reason)
	if r.cancel != nil {
		r.cancel()
	}
	return true
}

// ResolveGate records a decision on a pending gate. The first decision wins:
// later calls return ErrGateResolved and change nothing. Rejecting a gate
// moves the run to the rejected state immediately.
func (r *Run) ResolveGate(gateID string, decision Decision, actor, comment string) error {
	if decision != DecisionApprove && decision != DecisionReject {
		return configErrorf("unknown decision %q", decision)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.gates[gateID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGateNotFound, gateID)
	}
	if g.decision != DecisionPending {
		return fmt.Errorf("%w: %s is %s", ErrGateResolved, gateID, g.decision)
	}
	if r.status.Terminal() {
		return fmt.Errorf("%w: run is %s", ErrRunFinished, r.status)
	}

	g.resolve(decision, actor, comment, r.now())

	rec := &r.records[g.step]
	rec.FinishedAt = g.resolvedAt
	if decision == DecisionApprove {
		rec.Status = StepApproved
		return nil
	}

	rec.Status = StepRejected
	r.finishLocked(StatusRejected, (&RejectedError{Gate: gateID, Actor: actor, Comment: comment}).Error())
	return nil
}

// Gate returns the state of a gate the run has reached.
func (r *Run) Gate(gateID string) (GateState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[gateID]
	if !ok {
		return GateState{}, false
	}
	return g.state(), true
}

// PendingGates returns the gates currently waiting for a decision.
func (r *Run) PendingGates() []GateState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []GateState
	for _, rec := range r.records {
		if g, ok := r.gates[rec.Name]; ok && g.decision == DecisionPending {
			out = append(out, g.state())
		}
	}
	return out
}

// bindCancel attaches the cancel function of the execution context.
func (r *Run) bindCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
}

// beginStep moves the run into step i. It enforces the ordering invariant:
// the previous step must have succeeded (or been approved, for gates).
func (r *Run) beginStep(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := StatusRunning
	if r.plan[i].Kind == KindGate {
		to = StatusAwaitingApproval
	}
	if err := r.checkTransitionLocked(to); err != nil {
		return err
	}
	if i > 0 && !r.records[i-1].Status.passed() {
		return fmt.Errorf("%w: step %q started before %q passed (%s)",
			ErrInvalidTransition, r.plan[i].Name, r.plan[i-1].Name, r.records[i-1].Status)
	}
	if i != r.current+1 {
		return fmt.Errorf("%w: step %d started after step %d", ErrInvalidTransition, i, r.current)
	}

	now := r.now()
	if r.status == StatusPending {
		r.startedAt = now
	}
	r.status = to
	r.current = i

	rec := &r.records[i]
	rec.StartedAt = now
	rec.Status = StepRunning
	if to == StatusAwaitingApproval {
		rec.Status = StepAwaitingApproval
		r.gates[rec.Name] = newGate(rec.Name, i, r.plan[i].Gate, now)
	}
	return nil
}

// completeStep records the artifact of a successful stage.
func (r *Run) completeStep(i int, out Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning || r.current != i {
		return fmt.Errorf("%w: cannot complete %q while %s", ErrInvalidTransition, r.plan[i].Name, r.status)
	}
	rec := &r.records[i]
	rec.Status = StepSucceeded
	rec.FinishedAt = r.now()
	a := out.Clone()
	rec.Artifact = &a
	return nil
}

// failStep marks step i and the run as failed.
func (r *Run) failStep(i int, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkTransitionLocked(StatusFailed); err != nil {
		return err
	}
	rec := &r.records[i]
	rec.Status = StepFailed
	rec.FinishedAt = r.now()
	rec.Error = err.Error()
	r.finishLocked(StatusFailed, err.Error())
	return nil
}

// succeed marks the run as succeeded.
func (r *Run) succeed() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkTransitionLocked(StatusSucceeded); err != nil {
		return err
	}
	r.finishLocked(StatusSucceeded, "")
	return nil
}

// gate returns the live gate for a step.
func (r *Run) gate(name string) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gates[name]
}

// errorMessage returns the recorded terminal error.
func (r *Run) errorMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

func (r *Run) checkTransitionLocked(to Status) error {
	if r.status.Terminal() {
		return fmt.Errorf("%w: run is %s", ErrRunFinished, r.status)
	}
	if !CanTransition(r.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, to)
	}
	return nil
}

func (r *Run) finishLocked(status Status, msg string) {
	r.status = status
	r.errMsg = msg
	r.finishedAt = r.now()
	close(r.done)
}

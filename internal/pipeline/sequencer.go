package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ArtifactStore persists stage outputs. Put returns the artifact with its
// store reference filled in.
type ArtifactStore interface {
	Put(ctx context.Context, runID, step string, a Artifact) (Artifact, error)
}

// RecordStore persists the final snapshot of a run.
type RecordStore interface {
	PutRecord(ctx context.Context, snap Snapshot) error
}

// Sequencer drives runs through their plan. It holds no per-run state, so one
// Sequencer can execute many independent runs concurrently.
type Sequencer struct {
	observer  Observer
	artifacts ArtifactStore
	records   RecordStore
	notifier  GateNotifier
	metrics   bool
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

// WithArtifactStore persists every stage artifact before the next step starts.
func WithArtifactStore(store ArtifactStore) Option {
	return func(s *Sequencer) { s.artifacts = store }
}

// WithRecordStore persists the final run snapshot.
func WithRecordStore(store RecordStore) Option {
	return func(s *Sequencer) { s.records = store }
}

// WithGateNotifier is told whenever a run starts waiting on a gate.
func WithGateNotifier(n GateNotifier) Option {
	return func(s *Sequencer) { s.notifier = n }
}

// WithMetrics enables prometheus metrics.
func WithMetrics(enabled bool) Option {
	return func(s *Sequencer) { s.metrics = enabled }
}

// NewSequencer creates a sequencer.
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{observer: nopObserver{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs the plan of a pending run to completion. It returns nil when
// the run succeeded, a *StageError when a stage failed, a *RejectedError when
// a gate was rejected, and ErrAborted when the run was aborted or ctx was
// cancelled. Execute blocks while stages run and while gates are pending.
func (s *Sequencer) Execute(ctx context.Context, run *Run) error {
	switch status := run.Status(); {
	case status == StatusAborted:
		return ErrAborted
	case status != StatusPending:
		return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, run.ID, status)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	run.bindCancel(cancel)

	obs := s.observer.WithFields(map[string]string{"pipeline": run.Pipeline})
	obs.Event(Event{
		Type:    EventRunStarted,
		RunID:   run.ID,
		Message: fmt.Sprintf("starting %d steps for %s@%s", len(run.plan), run.Trigger.Repository, run.Trigger.Branch),
	})

	if s.metrics {
		runsActive.WithLabelValues(run.Pipeline).Inc()
		defer runsActive.WithLabelValues(run.Pipeline).Dec()
	}

	start := time.Now()
	err := s.walk(ctx, run, obs)
	s.finish(ctx, run, obs, time.Since(start))
	return err
}

func (s *Sequencer) walk(ctx context.Context, run *Run, obs Observer) error {
	input := Artifact{
		Name:     "trigger",
		Revision: run.Trigger.Revision,
		Metadata: map[string]string{
			MetaRun:        run.ID,
			MetaRepository: run.Trigger.Repository,
			MetaBranch:     run.Trigger.Branch,
		},
	}

	for i, step := range run.plan {
		if err := run.beginStep(i); err != nil {
			return s.interrupted(run, err)
		}

		if step.Kind == KindGate {
			if err := s.awaitGate(ctx, run, obs, step); err != nil {
				return err
			}
			continue
		}

		out, err := s.runStage(ctx, run, obs, i, step, input)
		if err != nil {
			return err
		}
		input = out
	}

	if err := run.succeed(); err != nil {
		return s.interrupted(run, err)
	}
	return nil
}

func (s *Sequencer) runStage(ctx context.Context, run *Run, obs Observer, i int, step Step, input Artifact) (Artifact, error) {
	obs.Event(Event{
		Type:    EventStageStarted,
		RunID:   run.ID,
		Step:    step.Name,
		Message: fmt.Sprintf("starting %s stage (%d/%d)", step.Kind, i+1, len(run.plan)),
	})
	start := time.Now()

	out, err := step.Stage.Run(ctx, input.Clone())
	if err == nil {
		out.Name = step.Name
		if s.artifacts != nil {
			out, err = s.artifacts.Put(ctx, run.ID, step.Name, out)
			if err != nil {
				err = fmt.Errorf("failed to persist artifact: %w", err)
			}
		}
	}

	if ctx.Err() != nil && !run.Status().Terminal() {
		run.Abort(fmt.Sprintf("context cancelled during %s", step.Name))
	}
	if run.Status() == StatusAborted {
		s.recordStage(run, step, "aborted", start)
		return Artifact{}, ErrAborted
	}

	if err != nil {
		stageErr := &StageError{Stage: step.Name, Kind: step.Kind, Err: err}
		if ferr := run.failStep(i, stageErr); ferr != nil {
			return Artifact{}, s.interrupted(run, ferr)
		}
		s.recordStage(run, step, "failed", start)
		obs.Event(Event{
			Type:    EventStageFailed,
			RunID:   run.ID,
			Step:    step.Name,
			Message: fmt.Sprintf("failed: %v", err),
		})
		return Artifact{}, stageErr
	}

	if err := run.completeStep(i, out); err != nil {
		return Artifact{}, s.interrupted(run, err)
	}
	s.recordStage(run, step, "succeeded", start)
	obs.Event(Event{
		Type:    EventStageCompleted,
		RunID:   run.ID,
		Step:    step.Name,
		Message: fmt.Sprintf("completed in %v", time.Since(start).Round(time.Millisecond)),
		Fields:  artifactFields(out),
	})
	return out, nil
}

func (s *Sequencer) awaitGate(ctx context.Context, run *Run, obs Observer, step Step) error {
	g := run.gate(step.Name)
	state, _ := run.Gate(step.Name)

	obs.Event(Event{
		Type:    EventGatePending,
		RunID:   run.ID,
		Step:    step.Name,
		Message: gateMessage(step),
	})
	if s.notifier != nil {
		s.notifier.Notify(run, state)
	}

	var timeout <-chan time.Time
	if step.Gate.Timeout > 0 {
		timer := time.NewTimer(step.Gate.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-g.Resolved():
	case <-run.Done():
	case <-timeout:
		comment := fmt.Sprintf("no decision within %s", step.Gate.Timeout)
		if err := run.ResolveGate(step.Name, DecisionReject, "timeout", comment); err != nil && !errors.Is(err, ErrGateResolved) {
			return s.interrupted(run, err)
		}
	case <-ctx.Done():
		run.Abort(fmt.Sprintf("context cancelled while waiting on %s", step.Name))
	}

	final, _ := run.Gate(step.Name)
	wait := final.ResolvedAt.Sub(final.RequestedAt).Seconds()

	switch final.Decision {
	case DecisionApprove:
		s.recordGate(run, step, final.Decision, wait)
		obs.Event(Event{
			Type:    EventGateApproved,
			RunID:   run.ID,
			Step:    step.Name,
			Message: "approved",
			Fields:  actorFields(final),
		})
		return nil
	case DecisionReject:
		s.recordGate(run, step, final.Decision, wait)
		obs.Event(Event{
			Type:    EventGateRejected,
			RunID:   run.ID,
			Step:    step.Name,
			Message: "rejected",
			Fields:  actorFields(final),
		})
		return &RejectedError{Gate: final.ID, Actor: final.Actor, Comment: final.Comment}
	}
	return ErrAborted
}

// interrupted maps a refused state change to the error describing why the
// run stopped. A run left non-terminal by an unexpected error is aborted.
func (s *Sequencer) interrupted(run *Run, err error) error {
	switch run.Status() {
	case StatusAborted:
		return ErrAborted
	case StatusRejected:
		for _, rec := range run.Snapshot().Steps {
			if g := rec.Gate; g != nil && g.Decision == DecisionReject {
				return &RejectedError{Gate: g.ID, Actor: g.Actor, Comment: g.Comment}
			}
		}
		return &RejectedError{}
	case StatusFailed, StatusSucceeded:
		return err
	}
	run.Abort(err.Error())
	return err
}

func (s *Sequencer) finish(ctx context.Context, run *Run, obs Observer, elapsed time.Duration) {
	status := run.Status()
	event := Event{RunID: run.ID, Message: fmt.Sprintf("%s after %v", status, elapsed.Round(time.Millisecond))}
	switch status {
	case StatusSucceeded:
		event.Type = EventRunSucceeded
	case StatusFailed:
		event.Type = EventRunFailed
		event.Message += ": " + run.errorMessage()
	case StatusRejected:
		event.Type = EventRunRejected
		event.Message += ": " + run.errorMessage()
	default:
		event.Type = EventRunAborted
		event.Message += ": " + run.errorMessage()
	}
	obs.Event(event)

	if s.metrics {
		recordRunMetric(run.Pipeline, status, elapsed.Seconds())
	}

	if s.records != nil {
		if err := s.records.PutRecord(context.WithoutCancel(ctx), run.Snapshot()); err != nil {
			obs.Printf("failed to persist run record %s: %v", run.ID, err)
		}
	}
}

func (s *Sequencer) recordStage(run *Run, step Step, result string, start time.Time) {
	if s.metrics {
		recordStageMetric(run.Pipeline, step.Name, result, time.Since(start).Seconds())
	}
}

func (s *Sequencer) recordGate(run *Run, step Step, decision Decision, seconds float64) {
	if s.metrics {
		recordGateMetric(run.Pipeline, step.Name, decision, seconds)
	}
}

func gateMessage(step Step) string {
	msg := "waiting for approval"
	if step.Gate.Message != "" {
		msg += ": " + step.Gate.Message
	}
	if step.Gate.Timeout > 0 {
		msg += fmt.Sprintf(" (timeout %s)", step.Gate.Timeout)
	}
	return msg
}

func actorFields(g GateState) map[string]string {
	if g.Actor == "" {
		return nil
	}
	return map[string]string{"actor": g.Actor}
}

func artifactFields(a Artifact) map[string]string {
	fields := make(map[string]string)
	if a.Revision != "" {
		fields["revision"] = a.Revision
	}
	if a.Ref != "" {
		fields["ref"] = a.Ref
	}
	if a.Digest != "" {
		fields["digest"] = a.Digest
	}
	return fields
}

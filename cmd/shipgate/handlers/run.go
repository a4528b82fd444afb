package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
	"github.com/imamik/shipgate/internal/stages"
)

// RunOptions are the flags of the run command.
type RunOptions struct {
	Branch   string
	Revision string
	Actor    string

	// Approve answers every gate with approve instead of prompting.
	Approve bool

	// Server starts the run on a running approval server instead of in
	// this process.
	Server string
}

// promptGate asks the operator to decide a gate. It is replaced in tests.
var promptGate = confirmGate

// Run executes one pipeline run in this process and waits for it to finish.
// Gates are answered at an interactive prompt, or approved when
// opts.Approve is set. Cancelling ctx aborts the run.
func Run(ctx context.Context, configPath string, opts RunOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	opts.Actor = defaultActor(opts.Actor)
	trigger := pipeline.Trigger{
		Repository:  cfg.Repository.Name,
		Branch:      cfg.Repository.Branch,
		Revision:    opts.Revision,
		TriggeredBy: opts.Actor,
	}
	if opts.Branch != "" {
		trigger.Branch = opts.Branch
	}

	if opts.Server != "" {
		return startRemote(ctx, opts.Server, opts.Actor, trigger)
	}

	interactive := isInteractiveTTY()
	if cfg.HasKind(config.KindGate) && !opts.Approve && !interactive {
		return fmt.Errorf("pipeline %q has approval gates: run it in a terminal or pass --approve", cfg.Pipeline.Name)
	}

	if results := checkPrereqs(cfg); results.HasErrors() {
		return results.Error()
	}

	timeouts := loadTimeouts()
	store, err := openStore(ctx, cfg.Artifacts, timeouts)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	plan, err := buildPlan(cfg, stages.Dependencies{
		Executor: newExecutor(os.Stderr),
		Timeouts: timeouts,
	})
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	seq := pipeline.NewSequencer(
		pipeline.WithObserver(pipeline.NewConsoleObserver()),
		pipeline.WithArtifactStore(store),
		pipeline.WithRecordStore(store),
		pipeline.WithGateNotifier(pipeline.GateNotifierFunc(func(run *pipeline.Run, gate pipeline.GateState) {
			go answerGate(ctx, run, gate, opts)
		})),
	)
	manager := pipeline.NewManager(cfg.Pipeline.Name, plan, seq)

	run, err := manager.Start(ctx, trigger)
	if err != nil {
		return err
	}
	log.Printf("Started run %s", run.ID)

	<-run.Done()
	manager.Wait()
	_, runErr := manager.Result(run.ID)

	snap := run.Snapshot()
	fmt.Fprint(stdout, "\n"+renderRun(snap))
	if stage, ok := pipeline.FailedStage(runErr); ok {
		if prev := inputStep(snap, stage); prev != "" {
			fmt.Fprintf(stdout, "\nInspect the input of %s with: shipgate artifact %s %s\n", stage, run.ID, prev)
		}
	}
	return runErr
}

// inputStep returns the last step before stage that stored an artifact.
func inputStep(snap pipeline.Snapshot, stage string) string {
	prev := ""
	for _, step := range snap.Steps {
		if step.Name == stage {
			return prev
		}
		if step.Artifact != nil {
			prev = step.Name
		}
	}
	return ""
}

// answerGate decides one gate. A prompt that fails or is cancelled aborts the
// run rather than leaving it waiting with nobody to answer.
func answerGate(ctx context.Context, run *pipeline.Run, gate pipeline.GateState, opts RunOptions) {
	decision, comment := pipeline.DecisionApprove, "approved with --approve"

	if !opts.Approve {
		// Stop prompting once the run moves on without us (timeout, abort).
		promptCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-run.Done():
				cancel()
			case <-promptCtx.Done():
			}
		}()

		approved, err := promptGate(promptCtx, run.ID, gate)
		if err != nil {
			if run.Status().Terminal() {
				return
			}
			log.Printf("Gate %s: %v", gate.ID, err)
			run.Abort(fmt.Sprintf("gate %s was not answered", gate.ID))
			return
		}
		comment = "approved at prompt"
		if !approved {
			decision, comment = pipeline.DecisionReject, "rejected at prompt"
		}
	}

	err := run.ResolveGate(gate.ID, decision, opts.Actor, comment)
	if err != nil && !errors.Is(err, pipeline.ErrGateResolved) && !errors.Is(err, pipeline.ErrRunFinished) {
		log.Printf("Gate %s: %v", gate.ID, err)
	}
}

// confirmGate asks for a decision with a huh confirm prompt.
func confirmGate(ctx context.Context, runID string, gate pipeline.GateState) (bool, error) {
	description := gate.Message
	if gate.Timeout > 0 {
		description += fmt.Sprintf("\nRejected automatically after %s.", gate.Timeout)
	}

	approved := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Approve %s?", gate.ID)).
				Description(description).
				Affirmative("Approve").
				Negative("Reject").
				Value(&approved),
		).Title("Run " + runID),
	).RunWithContext(ctx)
	return approved, err
}

// startRemote triggers the run on an approval server and returns once it is
// accepted.
func startRemote(ctx context.Context, serverFlag, actor string, trigger pipeline.Trigger) error {
	url := serverURL(serverFlag)
	snap, err := newClient(url, actor).StartRun(ctx, trigger)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	fmt.Fprintf(stdout, "Started run %s on %s\n", snap.ID, url)
	fmt.Fprintf(stdout, "Follow it with: shipgate status %s --server %s\n", snap.ID, url)
	return nil
}

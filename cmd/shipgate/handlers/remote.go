package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/imamik/shipgate/internal/pipeline"
	"github.com/imamik/shipgate/internal/server"
)

// RemoteOptions select the approval server and the operator.
type RemoteOptions struct {
	Server string
	Actor  string
}

func (o RemoteOptions) client() *server.Client {
	return newClient(serverURL(o.Server), defaultActor(o.Actor))
}

// Decide approves or rejects a gate on a running server. An empty gateID
// picks the run's only pending gate.
func Decide(ctx context.Context, opts RemoteOptions, runID, gateID string, decision pipeline.Decision, comment string) error {
	client := opts.client()

	if gateID == "" {
		gates, err := client.PendingGates(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to list gates: %w", err)
		}
		switch len(gates) {
		case 0:
			return fmt.Errorf("run %s is not waiting on a gate", runID)
		case 1:
			gateID = gates[0].ID
		default:
			return fmt.Errorf("run %s is waiting on %d gates, name one with --gate", runID, len(gates))
		}
	}

	gate, err := client.Resolve(ctx, runID, gateID, decision, comment)
	if err != nil {
		if server.IsConflict(err) {
			return fmt.Errorf("gate %s was already decided: %w", gateID, err)
		}
		return fmt.Errorf("failed to %s gate %s: %w", decision, gateID, err)
	}

	mark := readyStyle.Render(checkMark)
	if gate.Decision == pipeline.DecisionReject {
		mark = failedStyle.Render(crossMark)
	}
	fmt.Fprintf(stdout, "%s %s %s on run %s by %s\n", mark, gate.ID, gate.Decision, runID, gate.Actor)
	return nil
}

// Abort stops a run on a running server. Aborting a finished run is not an
// error: the run is left unchanged.
func Abort(ctx context.Context, opts RemoteOptions, runID, reason string) error {
	resp, err := opts.client().Abort(ctx, runID, reason)
	if err != nil {
		return fmt.Errorf("failed to abort run %s: %w", runID, err)
	}
	if resp.Aborted {
		fmt.Fprintf(stdout, "Run %s aborted\n", runID)
		return nil
	}
	fmt.Fprintf(stdout, "Run %s already %s\n", runID, resp.Run.Status)
	return nil
}

// StatusOptions are the flags of the status command.
type StatusOptions struct {
	RemoteOptions

	// Filter limits the run list to one status.
	Filter string

	// Output is table, json or yaml.
	Output string

	// Watch polls a run until it reaches a terminal status.
	Watch    bool
	Interval time.Duration
}

// Status shows one run, or every run when runID is empty.
func Status(ctx context.Context, opts StatusOptions, runID string) error {
	client := opts.client()

	if runID == "" {
		runs, err := client.ListRuns(ctx, pipeline.Status(opts.Filter))
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if opts.Output != "" && opts.Output != "table" {
			return printStructured(runs, opts.Output)
		}
		fmt.Fprint(stdout, renderRunList(runs))
		return nil
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		snap, err := client.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to get run %s: %w", runID, err)
		}
		structured := opts.Output != "" && opts.Output != "table"
		if !opts.Watch || snap.Status.Terminal() {
			if structured {
				return printStructured(snap, opts.Output)
			}
			fmt.Fprint(stdout, renderRun(snap))
			return nil
		}
		if !structured {
			fmt.Fprint(stdout, renderRun(snap)+"\n")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// printStructured prints v as json or yaml. YAML keeps the JSON field names.
func printStructured(v any, format string) error {
	switch format {
	case "json":
		return printJSON(v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Fprint(stdout, string(data))
		return nil
	}
	return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

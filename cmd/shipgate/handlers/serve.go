package handlers

import (
	"context"
	"fmt"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/imamik/shipgate/internal/pipeline"
	"github.com/imamik/shipgate/internal/server"
	"github.com/imamik/shipgate/internal/stages"
)

// listenAndServe runs the approval server. It is replaced in tests.
var listenAndServe = func(ctx context.Context, srv *server.Server, addr string) error {
	return srv.ListenAndServe(ctx, addr)
}

// Serve runs the approval server for the stack at configPath until ctx is
// cancelled. Runs are started and their gates decided through the API.
func Serve(ctx context.Context, configPath, addr string, zapOpts *zap.Options) error {
	if zapOpts == nil {
		zapOpts = &zap.Options{}
	}
	if os.Getenv("DEBUG") == "true" {
		zapOpts.Development = true
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(zapOpts)))
	setupLog := ctrl.Log.WithName("setup")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if results := checkPrereqs(cfg); results.HasErrors() {
		setupLog.Error(results.Error(), "stages will fail until the missing tools are installed")
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

	gateLog := ctrl.Log.WithName("gates")
	seq := pipeline.NewSequencer(
		pipeline.WithObserver(pipeline.NewLogrObserver(ctrl.Log.WithName("pipeline"))),
		pipeline.WithArtifactStore(store),
		pipeline.WithRecordStore(store),
		pipeline.WithMetrics(true),
		pipeline.WithGateNotifier(pipeline.GateNotifierFunc(func(run *pipeline.Run, gate pipeline.GateState) {
			gateLog.Info("awaiting approval",
				"run", run.ID,
				"gate", gate.ID,
				"approve", fmt.Sprintf("POST /runs/%s/gates/%s/approve", run.ID, gate.ID))
		})),
	)
	manager := pipeline.NewManager(cfg.Pipeline.Name, plan, seq)

	srv := server.New(manager,
		server.WithLogger(ctrl.Log.WithName("server")),
		server.WithOutputs(cfg.Outputs()),
		server.WithRecords(store),
		server.WithRunContext(ctx),
	)

	setupLog.Info("starting approval server",
		"stack", cfg.Stack,
		"pipeline", cfg.Pipeline.Name,
		"steps", len(plan),
		"artifacts", store.Backend().Location(""))
	if err := listenAndServe(ctx, srv, addr); err != nil {
		setupLog.Error(err, "problem running server")
		return err
	}
	return nil
}

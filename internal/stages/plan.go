package stages

import (
	"fmt"
	"maps"
	"strings"

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/kube"
	"github.com/imamik/shipgate/internal/pipeline"
)

// Dependencies are the shared collaborators BuildPlan wires into stages.
type Dependencies struct {
	Executor Executor
	Timeouts *config.Timeouts

	// Kube is used by deploy stages. When nil, a client is created from the
	// cluster kubeconfig on demand.
	Kube kube.Client
}

// BuildPlan turns a stack declaration into an executable plan.
func BuildPlan(cfg *config.Config, deps Dependencies) (pipeline.Plan, error) {
	if deps.Executor == nil {
		return nil, fmt.Errorf("no executor configured")
	}
	if deps.Timeouts == nil {
		deps.Timeouts = config.LoadTimeouts()
	}

	plan := make(pipeline.Plan, 0, len(cfg.Pipeline.Stages))
	for _, sc := range cfg.Pipeline.Stages {
		step := pipeline.Step{Name: sc.Name, Kind: pipeline.Kind(sc.Kind)}
		env := StageEnv(cfg, sc)
		timeout := deps.Timeouts.StageTimeout(sc)

		switch sc.Kind {
		case config.KindSource:
			step.Stage = &SourceStage{
				Fetcher:    &GitFetcher{Exec: deps.Executor, Timeout: timeout, Env: env},
				Repository: cfg.Repository.URL,
				Workdir:    cfg.Pipeline.Workdir,
			}
		case config.KindScan:
			step.Stage = &ScanStage{
				Scanner:        &CheckovScanner{Exec: deps.Executor, Timeout: timeout, Env: env},
				Template:       sc.Template,
				Framework:      sc.Framework,
				SkipChecksFile: sc.SkipChecksFile,
				SkipChecks:     sc.SkipChecks,
				Workdir:        cfg.Pipeline.Workdir,
			}
		case config.KindGate:
			step.Gate = pipeline.GatePolicy{Message: sc.Message, Timeout: sc.Timeout}
		case config.KindBuild:
			step.Stage = &BuildStage{
				Builder: &DockerBuilder{
					Exec:           deps.Executor,
					Timeout:        timeout,
					Env:            env,
					HadolintConfig: sc.HadolintConfig,
					Scanner:        strings.Fields(sc.ImageScanner),
				},
				Dockerfile: sc.Dockerfile,
				Context:    sc.Context,
				Image:      cfg.ImageRef(sc),
				Workdir:    cfg.Pipeline.Workdir,
			}
		case config.KindDeploy:
			if deps.Kube == nil {
				client, err := kube.NewFromKubeconfigFile(cfg.Cluster.Kubeconfig, cfg.Cluster.Context)
				if err != nil {
					return nil, fmt.Errorf("stage %q: %w", sc.Name, err)
				}
				deps.Kube = client
			}
			step.Stage = &DeployStage{
				Deployer: &KubeDeployer{
					Client:          deps.Kube,
					RolloutTimeout:  deps.Timeouts.Rollout,
					RolloutInterval: deps.Timeouts.RolloutPoll,
				},
				Manifest:     sc.Manifest,
				Namespace:    sc.Namespace,
				Deployment:   sc.Deployment,
				ApplyTimeout: timeout,
			}
		default:
			return nil, fmt.Errorf("stage %q has unknown kind %q", sc.Name, sc.Kind)
		}
		plan = append(plan, step)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// StageEnv is the environment handed to a stage's commands: the stack's
// well-known values, then the stage's own env entries.
func StageEnv(cfg *config.Config, sc config.StageConfig) map[string]string {
	env := map[string]string{
		"SHIPGATE_STACK":     cfg.Stack,
		"SHIPGATE_PIPELINE":  cfg.Pipeline.Name,
		"SHIPGATE_STAGE":     sc.Name,
		"CLUSTER_NAME":       cfg.Cluster.Name,
		"ECR_REPOSITORY_URI": cfg.Registry.URI,
		"IMAGE_REPO_NAME":    cfg.Registry.Name,
		"AWS_DEFAULT_REGION": cfg.Region,
	}
	if sc.Kind == config.KindBuild {
		env["IMAGE_TAG"] = sc.Tag
	}
	if sc.Project != "" {
		env["SHIPGATE_PROJECT"] = sc.Project
	}
	for k, v := range env {
		if v == "" {
			delete(env, k)
		}
	}
	maps.Copy(env, sc.Env)
	return env
}

// Package stages holds the collaborators behind each pipeline step and the
// adapters that expose them as pipeline.Stage values.
//
// Each capability is a small interface with one production implementation:
// [GitFetcher] for source fetch, [CheckovScanner] for infrastructure scans,
// [DockerBuilder] for image lint/build/push/scan and [KubeDeployer] for
// deploys. Command-based collaborators share one [Executor]. [BuildPlan]
// turns a stack declaration into a pipeline.Plan.
package stages

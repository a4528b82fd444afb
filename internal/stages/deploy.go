package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imamik/shipgate/internal/kube"
	"github.com/imamik/shipgate/internal/pipeline"
)

// Deployer applies manifests to a cluster and verifies the result.
type Deployer interface {
	Apply(ctx context.Context, manifest []byte, namespace string) ([]kube.ObjectRef, error)
	Verify(ctx context.Context, namespace string, deployments []string) ([]kube.WorkloadStatus, error)
	Pods(ctx context.Context, workloads []kube.WorkloadStatus) ([]kube.PodStatus, error)
}

// KubeDeployer deploys through the kube client.
type KubeDeployer struct {
	Client          kube.Client
	RolloutTimeout  time.Duration
	RolloutInterval time.Duration
}

// Apply implements Deployer.
func (k *KubeDeployer) Apply(ctx context.Context, manifest []byte, namespace string) ([]kube.ObjectRef, error) {
	return k.Client.ApplyManifests(ctx, manifest, namespace)
}

// Verify implements Deployer.
func (k *KubeDeployer) Verify(ctx context.Context, namespace string, deployments []string) ([]kube.WorkloadStatus, error) {
	interval := k.RolloutInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return k.Client.WaitForDeployments(ctx, namespace, deployments, k.RolloutTimeout, interval)
}

// Pods implements Deployer. It lists the pods behind each workload's selector.
func (k *KubeDeployer) Pods(ctx context.Context, workloads []kube.WorkloadStatus) ([]kube.PodStatus, error) {
	var pods []kube.PodStatus
	for _, w := range workloads {
		if w.Selector == "" {
			continue
		}
		found, err := k.Client.ListPods(ctx, w.Namespace, w.Selector)
		if err != nil {
			return nil, err
		}
		pods = append(pods, found...)
	}
	return pods, nil
}

// DeployStage applies the manifest from the source tree and waits for the
// Deployments it contains. ${IMAGE}, ${IMAGE_DIGEST}, ${REVISION} and
// ${NAMESPACE} in the manifest are replaced before applying.
type DeployStage struct {
	Deployer   Deployer
	Manifest   string
	Namespace  string
	Deployment string

	// ApplyTimeout bounds the apply; the rollout wait has its own timeout.
	ApplyTimeout time.Duration
}

// Run implements pipeline.Stage.
func (s *DeployStage) Run(ctx context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	if in.Path == "" {
		return pipeline.Artifact{}, errors.New("deploy input has no source tree")
	}

	// #nosec G304 - manifest path is inside the fetched workspace
	raw, err := os.ReadFile(filepath.Join(in.Path, s.Manifest))
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest := RenderManifest(raw, map[string]string{
		"IMAGE":        imageRef(in),
		"IMAGE_DIGEST": in.Digest,
		"REVISION":     in.Revision,
		"NAMESPACE":    s.Namespace,
	})

	applyCtx := ctx
	if s.ApplyTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, s.ApplyTimeout)
		defer cancel()
	}
	refs, err := s.Deployer.Apply(applyCtx, manifest, s.Namespace)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("apply failed: %w", err)
	}

	deployments := kube.Deployments(refs, s.Namespace)
	if s.Deployment != "" {
		deployments = []string{s.Deployment}
	}
	statuses, err := s.Deployer.Verify(ctx, s.Namespace, deployments)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("rollout failed: %w", err)
	}

	pods, err := s.Deployer.Pods(ctx, statuses)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to list pods: %w", err)
	}
	podList, err := json.Marshal(pods)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to encode pod status: %w", err)
	}

	applied := make([]string, len(refs))
	for i, r := range refs {
		applied[i] = r.String()
	}
	workloads, err := json.Marshal(statuses)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to encode workload status: %w", err)
	}

	out := in.With("applied", strings.Join(applied, ","))
	out.Metadata["workloads"] = string(workloads)
	out.Metadata["pods"] = string(podList)
	out.Metadata["namespace"] = s.Namespace
	return out, nil
}

// RenderManifest substitutes ${KEY} for the known keys and leaves every
// other $ reference untouched.
func RenderManifest(manifest []byte, values map[string]string) []byte {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		if v != "" {
			pairs = append(pairs, "${"+k+"}", v)
		}
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(manifest)))
}

// imageRef prefers the immutable digest reference when one is known.
func imageRef(in pipeline.Artifact) string {
	image := in.Meta(pipeline.MetaImage)
	if image == "" || in.Digest == "" {
		return image
	}
	repo := image
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		repo = image[:i]
	}
	return repo + "@" + in.Digest
}

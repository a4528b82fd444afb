package kube

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// WorkloadStatus is the rollout state of a Deployment.
type WorkloadStatus struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Replicas  int32  `json:"replicas"`
	Updated   int32  `json:"updated"`
	Ready     int32  `json:"ready"`
	Available int32  `json:"available"`
	Selector  string `json:"selector,omitempty"`
	Message   string `json:"message,omitempty"`

	// Complete is true once the latest spec is observed and every replica
	// is updated and available.
	Complete bool `json:"complete"`

	// Stalled is true once the progress deadline was exceeded.
	Stalled bool `json:"stalled,omitempty"`
}

func (s WorkloadStatus) String() string {
	return fmt.Sprintf("%s/%s %d/%d available", s.Namespace, s.Name, s.Available, s.Replicas)
}

// PodStatus summarizes a pod.
type PodStatus struct {
	Name     string `json:"name"`
	Phase    string `json:"phase"`
	Ready    bool   `json:"ready"`
	Restarts int32  `json:"restarts"`
	Node     string `json:"node,omitempty"`
}

// ErrRolloutStalled is returned when a Deployment exceeded its progress deadline.
var ErrRolloutStalled = errors.New("deployment rollout stalled")

// DeploymentStatus returns the rollout state of one Deployment.
func (c *client) DeploymentStatus(ctx context.Context, namespace, name string) (WorkloadStatus, error) {
	d, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return WorkloadStatus{}, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, name, err)
	}
	return deploymentStatus(d), nil
}

// WaitForDeployments polls every interval until all named Deployments are
// complete. It fails early when a rollout stalls and reports the last seen
// state of every Deployment on timeout.
func (c *client) WaitForDeployments(ctx context.Context, namespace string, names []string, timeout, interval time.Duration) ([]WorkloadStatus, error) {
	statuses := make([]WorkloadStatus, len(names))
	for i, name := range names {
		statuses[i] = WorkloadStatus{Namespace: namespace, Name: name}
	}
	if len(names) == 0 {
		return statuses, nil
	}

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		done := true
		for i, name := range names {
			status, err := c.DeploymentStatus(ctx, namespace, name)
			if apierrors.IsNotFound(err) {
				done = false
				continue
			}
			if err != nil {
				return false, err
			}
			statuses[i] = status
			if statuses[i].Stalled {
				return false, fmt.Errorf("%w: %s: %s", ErrRolloutStalled, statuses[i], statuses[i].Message)
			}
			if !statuses[i].Complete {
				done = false
			}
		}
		return done, nil
	})
	if err != nil {
		if errors.Is(err, ErrRolloutStalled) {
			return statuses, err
		}
		return statuses, fmt.Errorf("timed out waiting for deployments (%s): %w", pendingSummary(statuses), err)
	}
	return statuses, nil
}

// ListPods returns the pods matching a label selector.
func (c *client) ListPods(ctx context.Context, namespace, selector string) ([]PodStatus, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %w", namespace, err)
	}

	out := make([]PodStatus, 0, len(pods.Items))
	for i := range pods.Items {
		out = append(out, podStatus(&pods.Items[i]))
	}
	return out, nil
}

func deploymentStatus(d *appsv1.Deployment) WorkloadStatus {
	replicas := int32(1)
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}

	s := WorkloadStatus{
		Namespace: d.Namespace,
		Name:      d.Name,
		Replicas:  replicas,
		Updated:   d.Status.UpdatedReplicas,
		Ready:     d.Status.ReadyReplicas,
		Available: d.Status.AvailableReplicas,
	}
	if sel, err := metav1.LabelSelectorAsSelector(d.Spec.Selector); err == nil {
		s.Selector = sel.String()
	}

	for _, cond := range d.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && cond.Status == corev1.ConditionFalse &&
			cond.Reason == "ProgressDeadlineExceeded" {
			s.Stalled = true
			s.Message = cond.Message
		}
	}

	s.Complete = d.Status.ObservedGeneration >= d.Generation &&
		s.Updated >= replicas &&
		s.Available >= replicas &&
		d.Status.Replicas == s.Updated
	return s
}

func podStatus(p *corev1.Pod) PodStatus {
	s := PodStatus{Name: p.Name, Phase: string(p.Status.Phase), Node: p.Spec.NodeName}
	for _, cond := range p.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			s.Ready = true
		}
	}
	for _, cs := range p.Status.ContainerStatuses {
		s.Restarts += cs.RestartCount
	}
	return s
}

func pendingSummary(statuses []WorkloadStatus) string {
	var parts []string
	for _, s := range statuses {
		if !s.Complete {
			parts = append(parts, s.String())
		}
	}
	return strings.Join(parts, ", ")
}

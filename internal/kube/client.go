package kube

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// FieldManager identifies shipgate as the owner of applied fields.
const FieldManager = "shipgate"

// Client provides the cluster operations deploy stages need.
type Client interface {
	// ApplyManifests applies multi-document YAML using Server-Side Apply.
	// Namespaced objects without a namespace are placed in namespace.
	ApplyManifests(ctx context.Context, manifests []byte, namespace string) ([]ObjectRef, error)

	// DeploymentStatus returns the rollout state of one Deployment.
	DeploymentStatus(ctx context.Context, namespace, name string) (WorkloadStatus, error)

	// WaitForDeployments polls until every named Deployment is available.
	WaitForDeployments(ctx context.Context, namespace string, names []string, timeout, interval time.Duration) ([]WorkloadStatus, error)

	// ListPods returns the pods matching a label selector.
	ListPods(ctx context.Context, namespace, selector string) ([]PodStatus, error)

	// ServerVersion returns the API server version.
	ServerVersion() (string, error)
}

// client implements Client using k8s.io/client-go.
type client struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	mapper    meta.RESTMapper
}

// NewFromKubeconfigFile creates a Client from a kubeconfig path. An empty
// path falls back to the default loading rules (KUBECONFIG, ~/.kube/config);
// an empty context uses the file's current context.
func NewFromKubeconfigFile(path, kubeContext string) (Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return NewFromRESTConfig(restConfig)
}

// NewFromRESTConfig creates a Client from a REST config. API discovery is
// cached and resolved lazily on the first apply.
func NewFromRESTConfig(restConfig *rest.Config) (Client, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(discoveryClient))

	return &client{
		clientset: clientset,
		dynamic:   dynamicClient,
		mapper:    mapper,
	}, nil
}

// NewFromClients creates a Client from pre-configured clients.
// This is useful for testing with fake clients.
func NewFromClients(clientset kubernetes.Interface, dynamicClient dynamic.Interface, mapper meta.RESTMapper) Client {
	return &client{
		clientset: clientset,
		dynamic:   dynamicClient,
		mapper:    mapper,
	}
}

// ServerVersion returns the API server's git version.
func (c *client) ServerVersion() (string, error) {
	info, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get server version: %w", err)
	}
	return info.GitVersion, nil
}

package config

import "time"

// Stage kinds accepted in the stages list.
const (
	KindSource = "source"
	KindScan   = "scan"
	KindGate   = "gate"
	KindBuild  = "build"
	KindDeploy = "deploy"
)

// Artifact backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config is the stack declaration.
type Config struct {
	Stack      string           `mapstructure:"stack" yaml:"stack"`
	Region     string           `mapstructure:"region" yaml:"region,omitempty"`
	Cluster    ClusterConfig    `mapstructure:"cluster" yaml:"cluster"`
	Registry   RegistryConfig   `mapstructure:"registry" yaml:"registry"`
	Repository RepositoryConfig `mapstructure:"repository" yaml:"repository"`
	Artifacts  ArtifactConfig   `mapstructure:"artifacts" yaml:"artifacts"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
}

// ClusterConfig describes the Kubernetes cluster deploy stages target.
type ClusterConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Version    string `mapstructure:"version" yaml:"version,omitempty"`
	Kubeconfig string `mapstructure:"kubeconfig" yaml:"kubeconfig,omitempty"`
	Context    string `mapstructure:"context" yaml:"context,omitempty"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace,omitempty"`
}

// RegistryConfig describes the container image registry build stages push to.
type RegistryConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	URI        string `mapstructure:"uri" yaml:"uri"`
	ScanOnPush bool   `mapstructure:"scan_on_push" yaml:"scan_on_push,omitempty"`
}

// RepositoryConfig describes the source repository runs are triggered from.
type RepositoryConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	URL         string `mapstructure:"url" yaml:"url"`
	Branch      string `mapstructure:"branch" yaml:"branch,omitempty"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
}

// ArtifactConfig selects the artifact store.
type ArtifactConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend,omitempty"`
	Path     string `mapstructure:"path" yaml:"path,omitempty"`
	Bucket   string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// PipelineConfig is the ordered list of steps.
type PipelineConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Workdir string `mapstructure:"workdir" yaml:"workdir,omitempty"`

	// GateTimeout applies to gates without their own timeout. Zero waits forever.
	GateTimeout time.Duration `mapstructure:"gate_timeout" yaml:"gate_timeout,omitempty"`

	Stages []StageConfig `mapstructure:"stages" yaml:"stages"`
}

// StageConfig declares one step. Which fields apply depends on Kind.
type StageConfig struct {
	Name        string            `mapstructure:"name" yaml:"name"`
	Kind        string            `mapstructure:"kind" yaml:"kind"`
	Project     string            `mapstructure:"project" yaml:"project,omitempty"`
	Description string            `mapstructure:"description" yaml:"description,omitempty"`
	Timeout     time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Env         map[string]string `mapstructure:"env" yaml:"env,omitempty"`

	// scan
	Template       string   `mapstructure:"template" yaml:"template,omitempty"`
	Framework      string   `mapstructure:"framework" yaml:"framework,omitempty"`
	SkipChecksFile string   `mapstructure:"skip_checks_file" yaml:"skip_checks_file,omitempty"`
	SkipChecks     []string `mapstructure:"skip_checks" yaml:"skip_checks,omitempty"`

	// gate
	Message string `mapstructure:"message" yaml:"message,omitempty"`

	// build; ImageScanner is a command the image reference is appended to,
	// empty skips the vulnerability scan
	Dockerfile     string `mapstructure:"dockerfile" yaml:"dockerfile,omitempty"`
	Context        string `mapstructure:"context" yaml:"context,omitempty"`
	Tag            string `mapstructure:"tag" yaml:"tag,omitempty"`
	HadolintConfig string `mapstructure:"hadolint_config" yaml:"hadolint_config,omitempty"`
	ImageScanner   string `mapstructure:"image_scanner" yaml:"image_scanner,omitempty"`

	// deploy
	Manifest   string `mapstructure:"manifest" yaml:"manifest,omitempty"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace,omitempty"`
	Deployment string `mapstructure:"deployment" yaml:"deployment,omitempty"`
}

// StagesOfKind returns the declared stages of one kind, in order.
func (c *Config) StagesOfKind(kind string) []StageConfig {
	var out []StageConfig
	for _, s := range c.Pipeline.Stages {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// HasKind reports whether any stage has the given kind.
func (c *Config) HasKind(kind string) bool {
	return len(c.StagesOfKind(kind)) > 0
}

// ImageRef returns the image reference a build stage pushes.
func (c *Config) ImageRef(s StageConfig) string {
	tag := s.Tag
	if tag == "" {
		tag = DefaultImageTag
	}
	return c.Registry.URI + ":" + tag
}

package config

// DefaultConfigFilename is the file FindConfigFile looks for.
const DefaultConfigFilename = "shipgate.yaml"

// Default values applied by ApplyDefaults.
const (
	DefaultStack          = "devsecops-eks"
	DefaultClusterName    = "eks-cluster"
	DefaultNamespace      = "default"
	DefaultRegistryName   = "devsecops-repo-ecr"
	DefaultRepositoryName = "devsecops-eks-cc-repository"
	DefaultBranch         = "main"
	DefaultPipelineName   = "devsecops-project-eks-pipeline"
	DefaultArtifactPath   = ".shipgate/artifacts"
	DefaultWorkdir        = ".shipgate/work"
	DefaultImageTag       = "app-latest"
	DefaultDockerfile     = "Dockerfile"
	DefaultScanFramework  = "cloudformation"
)

// Names of the steps in the default layout.
const (
	StepSource        = "Source-Input"
	StepIaCScan       = "Checkov-IaC-Code-Security-Checks"
	StepApproveChecks = "Approve-Checkov-Checks"
	StepContainerScan = "Container-Scan-Hadolint-AnchoreEngine"
	StepApproveDeploy = "Approve-Deployment"
	StepDeploy        = "Deploy-to-EKS"
)

// DefaultStages returns the six-step layout used when a stack declares no
// stages: fetch the source, scan the infrastructure template, wait for
// approval, lint/build/push/scan the image, wait for approval, deploy.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{
			Name: StepSource,
			Kind: KindSource,
		},
		{
			Name:           StepIaCScan,
			Kind:           KindScan,
			Project:        "cdk_security_check_checkov",
			Framework:      DefaultScanFramework,
			Template:       "cdk.out/EksDevsecopsObservabilityStack.template.json",
			SkipChecksFile: "kubernetes/skip_checks.config",
		},
		{
			Name:    StepApproveChecks,
			Kind:    KindGate,
			Message: "Review the Checkov findings before the container image is built",
		},
		{
			Name:           StepContainerScan,
			Kind:           KindBuild,
			Project:        "devsecops-project-eks-static-scan",
			Dockerfile:     DefaultDockerfile,
			Tag:            DefaultImageTag,
			HadolintConfig: "kubernetes/hadolint.yaml",
			ImageScanner:   "grype --fail-on high",
		},
		{
			Name:    StepApproveDeploy,
			Kind:    KindGate,
			Message: "Review the Hadolint and Anchore results before deploying to the cluster",
		},
		{
			Name:     StepDeploy,
			Kind:     KindDeploy,
			Project:  "devsecops-project-eks-deploy",
			Manifest: "kubernetes/deployment.yaml",
		},
	}
}

// ApplyDefaults fills every unset field that has a default.
func (c *Config) ApplyDefaults() {
	if c.Stack == "" {
		c.Stack = DefaultStack
	}
	if c.Cluster.Name == "" {
		c.Cluster.Name = DefaultClusterName
	}
	if c.Cluster.Namespace == "" {
		c.Cluster.Namespace = DefaultNamespace
	}
	if c.Registry.Name == "" {
		c.Registry.Name = DefaultRegistryName
	}
	if c.Repository.Name == "" {
		c.Repository.Name = DefaultRepositoryName
	}
	if c.Repository.Branch == "" {
		c.Repository.Branch = DefaultBranch
	}
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = BackendLocal
	}
	if c.Artifacts.Backend == BackendLocal && c.Artifacts.Path == "" {
		c.Artifacts.Path = DefaultArtifactPath
	}
	if c.Artifacts.Backend == BackendS3 {
		if c.Artifacts.Region == "" {
			c.Artifacts.Region = c.Region
		}
		if c.Artifacts.Prefix == "" {
			c.Artifacts.Prefix = c.Stack
		}
	}
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = DefaultPipelineName
	}
	if c.Pipeline.Workdir == "" {
		c.Pipeline.Workdir = DefaultWorkdir
	}
	if len(c.Pipeline.Stages) == 0 {
		c.Pipeline.Stages = DefaultStages()
	}

	for i := range c.Pipeline.Stages {
		s := &c.Pipeline.Stages[i]
		switch s.Kind {
		case KindScan:
			if s.Framework == "" {
				s.Framework = DefaultScanFramework
			}
		case KindGate:
			if s.Timeout == 0 {
				s.Timeout = c.Pipeline.GateTimeout
			}
		case KindBuild:
			if s.Dockerfile == "" {
				s.Dockerfile = DefaultDockerfile
			}
			if s.Tag == "" {
				s.Tag = DefaultImageTag
			}
		case KindDeploy:
			if s.Namespace == "" {
				s.Namespace = c.Cluster.Namespace
			}
		}
	}
}

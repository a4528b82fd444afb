package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ValidKinds lists the accepted stage kinds.
var ValidKinds = []string{KindSource, KindScan, KindGate, KindBuild, KindDeploy}

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{1,254}$`)

// Validate checks the declaration and returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Stack == "" {
		errs = append(errs, errors.New("stack is required"))
	}
	if c.Pipeline.Name == "" {
		errs = append(errs, errors.New("pipeline.name is required"))
	}
	if c.Pipeline.GateTimeout < 0 {
		errs = append(errs, errors.New("pipeline.gate_timeout must not be negative"))
	}

	errs = append(errs, c.validateArtifacts()...)
	errs = append(errs, c.validateStages()...)

	if c.HasKind(KindSource) && c.Repository.URL == "" {
		errs = append(errs, errors.New("repository.url is required for source stages"))
	}
	if c.HasKind(KindBuild) && c.Registry.URI == "" {
		errs = append(errs, errors.New("registry.uri is required for build stages"))
	}
	if c.HasKind(KindDeploy) {
		if c.Cluster.Name == "" {
			errs = append(errs, errors.New("cluster.name is required for deploy stages"))
		}
		if c.Cluster.Kubeconfig == "" && os.Getenv("KUBECONFIG") == "" {
			errs = append(errs, errors.New("cluster.kubeconfig or the KUBECONFIG environment variable is required for deploy stages"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateArtifacts() []error {
	var errs []error
	switch c.Artifacts.Backend {
	case BackendLocal:
		if c.Artifacts.Path == "" {
			errs = append(errs, errors.New("artifacts.path is required for the local backend"))
		}
	case BackendS3:
		if c.Artifacts.Bucket == "" {
			errs = append(errs, errors.New("artifacts.bucket is required for the s3 backend"))
		}
		if c.Artifacts.Region == "" && c.Artifacts.Endpoint == "" {
			errs = append(errs, errors.New("artifacts.region or artifacts.endpoint is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend must be one of: %v", []string{BackendLocal, BackendS3}))
	}
	return errs
}

func (c *Config) validateStages() []error {
	stages := c.Pipeline.Stages
	if len(stages) == 0 {
		return []error{errors.New("pipeline.stages must contain at least one stage")}
	}

	var errs []error
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		field := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else {
			field = fmt.Sprintf("stage %q", s.Name)
			if seen[s.Name] {
				errs = append(errs, fmt.Errorf("%s is declared more than once", field))
			}
			seen[s.Name] = true
		}

		if !slices.Contains(ValidKinds, s.Kind) {
			errs = append(errs, fmt.Errorf("%s: kind must be one of: %s", field, strings.Join(ValidKinds, ", ")))
			continue
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s: timeout must not be negative", field))
		}
		if s.Project != "" && !projectNamePattern.MatchString(s.Project) {
			errs = append(errs, fmt.Errorf("%s: project name %q must be 2-255 letters, digits, hyphens or underscores", field, s.Project))
		}

		switch s.Kind {
		case KindScan:
			if s.Template == "" {
				errs = append(errs, fmt.Errorf("%s: template is required for scan stages", field))
			}
		case KindGate:
			if i == 0 {
				errs = append(errs, fmt.Errorf("%s: a pipeline cannot start with a gate", field))
			}
			if i == len(stages)-1 {
				errs = append(errs, fmt.Errorf("%s: a pipeline cannot end with a gate", field))
			}
			if i > 0 && stages[i-1].Kind == KindGate {
				errs = append(errs, fmt.Errorf("%s: gate directly follows gate %q", field, stages[i-1].Name))
			}
		case KindBuild:
			if s.Dockerfile == "" {
				errs = append(errs, fmt.Errorf("%s: dockerfile is required for build stages", field))
			}
		case KindDeploy:
			if s.Manifest == "" {
				errs = append(errs, fmt.Errorf("%s: manifest is required for deploy stages", field))
			}
		}
	}
	return errs
}

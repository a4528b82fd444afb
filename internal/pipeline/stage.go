package pipeline

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Kind tags a step in a pipeline plan.
type Kind string

const (
	// KindSource fetches a revision from a source repository.
	KindSource Kind = "source"
	// KindScan runs an infrastructure-as-code security scan.
	KindScan Kind = "scan"
	// KindGate halts the run until a human approves or rejects.
	KindGate Kind = "gate"
	// KindBuild lints, builds, pushes and scans a container image.
	KindBuild Kind = "build"
	// KindDeploy applies manifests to a cluster and verifies workloads.
	KindDeploy Kind = "deploy"
)

// Kinds lists every known step kind in pipeline order.
var Kinds = []Kind{KindSource, KindScan, KindGate, KindBuild, KindDeploy}

// Valid reports whether k is a known step kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Artifact is the opaque output of one stage, consumed by the next.
// Artifacts are handed over by value; stages must not mutate their input.
type Artifact struct {
	// Name is the step that produced the artifact.
	Name string `json:"name"`

	// Revision is the source revision the artifact was derived from.
	Revision string `json:"revision,omitempty"`

	// Path is a local workspace directory holding the artifact contents.
	Path string `json:"path,omitempty"`

	// Ref is the artifact store reference once the artifact is persisted.
	Ref string `json:"ref,omitempty"`

	// Digest identifies the content, e.g. an image digest or archive checksum.
	Digest string `json:"digest,omitempty"`

	// Metadata carries stage-specific values forward (image URI, workload status).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Well-known metadata keys. The trigger artifact handed to the first stage
// carries the run, repository and branch.
const (
	MetaRun        = "run"
	MetaRepository = "repository"
	MetaBranch     = "branch"
	MetaImage      = "image"
	MetaReport     = "report"
)

// Meta returns a metadata value, or "" when unset.
func (a Artifact) Meta(key string) string {
	return a.Metadata[key]
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	out := a
	if a.Metadata != nil {
		out.Metadata = maps.Clone(a.Metadata)
	}
	return out
}

// With returns a copy of the artifact with an extra metadata entry.
func (a Artifact) With(key, value string) Artifact {
	out := a.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]string)
	}
	out.Metadata[key] = value
	return out
}

// Stage is the capability every non-gate step provides: consume an input
// artifact, produce an output artifact, or fail.
type Stage interface {
	Run(ctx context.Context, in Artifact) (Artifact, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, in Artifact) (Artifact, error)

// Run implements Stage.
func (f StageFunc) Run(ctx context.Context, in Artifact) (Artifact, error) {
	return f(ctx, in)
}

// GatePolicy configures a manual approval gate.
type GatePolicy struct {
	// Message is shown to approvers.
	Message string

	// Timeout rejects the gate when no decision arrives in time.
	// Zero waits forever.
	Timeout time.Duration
}

// Step is one tagged entry of a plan. Stage is set for every kind except
// KindGate, which uses Gate instead.
type Step struct {
	Name  string
	Kind  Kind
	Stage Stage
	Gate  GatePolicy
}

// Plan is the ordered list of steps a run executes.
type Plan []Step

// Validate checks the structural rules of a plan: at least one stage, unique
// names, known kinds, a stage implementation for every non-gate step, and
// gates only between two stages.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return configErrorf("plan has no steps")
	}

	seen := make(map[string]bool, len(p))
	for i, step := range p {
		if step.Name == "" {
			return configErrorf("step %d has no name", i)
		}
		if seen[step.Name] {
			return configErrorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true

		if !step.Kind.Valid() {
			return configErrorf("step %q has unknown kind %q", step.Name, step.Kind)
		}

		if step.Kind != KindGate {
			if step.Stage == nil {
				return configErrorf("step %q (%s) has no stage implementation", step.Name, step.Kind)
			}
			continue
		}

		switch {
		case i == 0:
			return configErrorf("gate %q cannot be the first step", step.Name)
		case i == len(p)-1:
			return configErrorf("gate %q cannot be the last step", step.Name)
		case p[i-1].Kind == KindGate:
			return configErrorf("gate %q directly follows gate %q", step.Name, p[i-1].Name)
		}
		if step.Gate.Timeout < 0 {
			return configErrorf("gate %q has negative timeout", step.Name)
		}
	}
	return nil
}

// Names returns the step names in order.
func (p Plan) Names() []string {
	names := make([]string, len(p))
	for i, step := range p {
		names[i] = step.Name
	}
	return names
}

// String renders the plan as "a -> b -> c".
func (p Plan) String() string {
	parts := make([]string, len(p))
	for i, step := range p {
		parts[i] = fmt.Sprintf("%s(%s)", step.Name, step.Kind)
	}
	return strings.Join(parts, " -> ")
}

package stages

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/imamik/shipgate/internal/pipeline"
)

// ImageBuilder lints, builds, pushes and scans container images.
type ImageBuilder interface {
	Lint(ctx context.Context, dir, dockerfile string) ([]byte, error)
	Build(ctx context.Context, dir, dockerfile, buildContext string, images []string) error
	Push(ctx context.Context, image string) (digest string, err error)
	VulnerabilityScan(ctx context.Context, image string) ([]byte, error)
}

// DockerBuilder drives hadolint, the docker CLI and an optional image
// vulnerability scanner.
type DockerBuilder struct {
	Exec           Executor
	Timeout        time.Duration
	Env            map[string]string
	HadolintConfig string
	Scanner        []string
}

// Lint implements ImageBuilder.
func (d *DockerBuilder) Lint(ctx context.Context, dir, dockerfile string) ([]byte, error) {
	args := []string{"hadolint", "--format", "json"}
	if d.HadolintConfig != "" {
		args = append(args, "--config", d.HadolintConfig)
	}
	args = append(args, dockerfile)
	return d.Exec.Exec(ctx, Job{Name: "hadolint", Args: args, Dir: dir, Env: d.Env, Timeout: d.Timeout})
}

// Build implements ImageBuilder. The image is tagged with every reference in
// images.
func (d *DockerBuilder) Build(ctx context.Context, dir, dockerfile, buildContext string, images []string) error {
	args := []string{"docker", "build", "--file", dockerfile}
	for _, image := range images {
		args = append(args, "--tag", image)
	}
	_, err := d.Exec.Exec(ctx, Job{
		Name:    "docker build",
		Args:    append(args, buildContext),
		Dir:     dir,
		Env:     d.Env,
		Timeout: d.Timeout,
	})
	return err
}

// Push implements ImageBuilder and returns the registry digest.
func (d *DockerBuilder) Push(ctx context.Context, image string) (string, error) {
	if _, err := d.Exec.Exec(ctx, Job{
		Name:    "docker push",
		Args:    []string{"docker", "push", image},
		Env:     d.Env,
		Timeout: d.Timeout,
	}); err != nil {
		return "", err
	}

	out, err := d.Exec.Exec(ctx, Job{
		Name:    "docker image inspect",
		Args:    []string{"docker", "image", "inspect", "--format", "{{index .RepoDigests 0}}", image},
		Env:     d.Env,
		Timeout: d.Timeout,
	})
	if err != nil {
		return "", err
	}
	_, digest, ok := strings.Cut(strings.TrimSpace(string(out)), "@")
	if !ok {
		return "", fmt.Errorf("no repository digest for %s", image)
	}
	return digest, nil
}

// VulnerabilityScan implements ImageBuilder. It is a no-op without a scanner.
func (d *DockerBuilder) VulnerabilityScan(ctx context.Context, image string) ([]byte, error) {
	if len(d.Scanner) == 0 {
		return nil, nil
	}
	args := append(append([]string(nil), d.Scanner...), image)
	return d.Exec.Exec(ctx, Job{Name: d.Scanner[0], Args: args, Env: d.Env, Timeout: d.Timeout})
}

// BuildStage lints the Dockerfile, builds the image, pushes it and scans the
// pushed image. Any failing step fails the stage; nothing is pushed when the
// lint or build fails. Besides the configured tag, the image is pushed under
// the short source revision.
type BuildStage struct {
	Builder    ImageBuilder
	Dockerfile string
	Context    string
	Image      string
	Workdir    string
}

// Run implements pipeline.Stage.
func (s *BuildStage) Run(ctx context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	if in.Path == "" {
		return pipeline.Artifact{}, errors.New("build input has no source tree")
	}
	buildContext := s.Context
	if buildContext == "" {
		buildContext = "."
	}

	lint, err := s.Builder.Lint(ctx, in.Path, s.Dockerfile)
	reportPath, werr := writeReport(runDir(s.Workdir, in), "hadolint.json", lint)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("dockerfile lint failed: %w", err)
	}
	if werr != nil {
		return pipeline.Artifact{}, werr
	}

	images := []string{s.Image}
	if rev := revisionImage(s.Image, in.Revision); rev != "" && rev != s.Image {
		images = append(images, rev)
	}
	if err := s.Builder.Build(ctx, in.Path, s.Dockerfile, buildContext, images); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("image build failed: %w", err)
	}

	var digest string
	for i, image := range images {
		d, err := s.Builder.Push(ctx, image)
		if err != nil {
			return pipeline.Artifact{}, fmt.Errorf("image push failed: %w", err)
		}
		if i == 0 {
			digest = d
		}
	}

	scan, err := s.Builder.VulnerabilityScan(ctx, s.Image)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("image vulnerability scan failed: %w", err)
	}

	out := in.With(pipeline.MetaImage, s.Image)
	out.Digest = digest
	out.Metadata[pipeline.MetaReport] = reportPath
	out.Metadata["dockerfile"] = filepath.ToSlash(s.Dockerfile)
	out.Metadata["images"] = strings.Join(images, ",")
	if scan != nil {
		scanPath, err := writeReport(runDir(s.Workdir, in), "image-scan.txt", scan)
		if err != nil {
			return pipeline.Artifact{}, err
		}
		out.Metadata["image_scan"] = scanPath
	}
	return out, nil
}

// shortRevisionLen matches the abbreviated commit hash used as the image tag.
const shortRevisionLen = 7

// revisionImage retags image with the abbreviated source revision. It returns
// "" when the revision is unknown.
func revisionImage(image, revision string) string {
	if revision == "" {
		return ""
	}
	if len(revision) > shortRevisionLen {
		revision = revision[:shortRevisionLen]
	}
	repo := image
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		repo = image[:i]
	}
	return repo + ":" + revision
}

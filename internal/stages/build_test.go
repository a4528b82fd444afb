package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/shipgate/internal/pipeline"
)

const (
	testImage  = "123456789012.dkr.ecr.eu-west-1.amazonaws.com/devsecops:app-latest"
	revImage   = "123456789012.dkr.ecr.eu-west-1.amazonaws.com/devsecops:4b825dc"
	testDigest = "sha256:9b2f5c0e1d3a4b6c8e7f9012a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6"
)

func TestDockerBuilder_Commands(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor().
		on("hadolint", "[]", nil).
		on("docker image inspect", "123456789012.dkr.ecr.eu-west-1.amazonaws.com/devsecops@"+testDigest+"\n", nil)
	b := &DockerBuilder{
		Exec:           exec,
		HadolintConfig: "kubernetes/hadolint.yaml",
		Scanner:        []string{"grype", "--fail-on", "high"},
	}
	ctx := context.Background()

	lint, err := b.Lint(ctx, "/src", "Dockerfile")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(lint))

	require.NoError(t, b.Build(ctx, "/src", "Dockerfile", ".", []string{testImage, revImage}))

	digest, err := b.Push(ctx, testImage)
	require.NoError(t, err)
	assert.Equal(t, testDigest, digest)

	_, err = b.VulnerabilityScan(ctx, testImage)
	require.NoError(t, err)

	assert.Equal(t, []string{"hadolint", "docker build", "docker push", "docker image inspect", "grype"}, exec.names())

	job, _ := exec.job("hadolint")
	assert.Equal(t, []string{"hadolint", "--format", "json", "--config", "kubernetes/hadolint.yaml", "Dockerfile"}, job.Args)
	job, _ = exec.job("docker build")
	assert.Equal(t, []string{"docker", "build", "--file", "Dockerfile", "--tag", testImage, "--tag", revImage, "."}, job.Args)
	assert.Equal(t, "/src", job.Dir)
	job, _ = exec.job("grype")
	assert.Equal(t, []string{"grype", "--fail-on", "high", testImage}, job.Args)
}

func TestDockerBuilder_NoDigest(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor().on("docker image inspect", "\n", nil)
	_, err := (&DockerBuilder{Exec: exec}).Push(context.Background(), testImage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no repository digest")
}

func TestDockerBuilder_NoScanner(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	out, err := (&DockerBuilder{Exec: exec}).VulnerabilityScan(context.Background(), testImage)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, exec.names())
}

// fakeBuilder records the order of build steps.
type fakeBuilder struct {
	calls  []string
	built  []string
	pushed []string
	fail   map[string]error
	scan   []byte
}

func (f *fakeBuilder) step(name string) error {
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeBuilder) Lint(context.Context, string, string) ([]byte, error) {
	return []byte(`[{"code":"DL3008","level":"warning"}]`), f.step("lint")
}

func (f *fakeBuilder) Build(_ context.Context, _, _, _ string, images []string) error {
	f.built = images
	return f.step("build")
}

func (f *fakeBuilder) Push(_ context.Context, image string) (string, error) {
	f.pushed = append(f.pushed, image)
	if err := f.step("push"); err != nil {
		return "", err
	}
	return testDigest, nil
}

func (f *fakeBuilder) VulnerabilityScan(context.Context, string) ([]byte, error) {
	return f.scan, f.step("scan")
}

func TestBuildStage_Order(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{scan: []byte("No vulnerabilities found")}
	workdir := t.TempDir()
	stage := &BuildStage{Builder: builder, Dockerfile: "Dockerfile", Image: testImage, Workdir: workdir}

	in := sourceTree(t, map[string]string{"Dockerfile": "FROM python:3.12-slim\n"})
	out, err := stage.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{"lint", "build", "push", "push", "scan"}, builder.calls)
	assert.Equal(t, []string{testImage, revImage}, builder.built)
	assert.Equal(t, []string{testImage, revImage}, builder.pushed, "the revision tag is pushed after the configured tag")
	assert.Equal(t, testImage+","+revImage, out.Meta("images"))
	assert.Equal(t, testImage, out.Meta(pipeline.MetaImage))
	assert.Equal(t, testDigest, out.Digest)
	assert.Equal(t, in.Path, out.Path)
	assert.Equal(t, filepath.Join(workdir, "run-1", "reports", "hadolint.json"), out.Meta(pipeline.MetaReport))

	scan, err := os.ReadFile(out.Meta("image_scan"))
	require.NoError(t, err)
	assert.Equal(t, "No vulnerabilities found", string(scan))
}

func TestBuildStage_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failAt    string
		wantCalls []string
		wantErr   string
	}{
		{name: "lint", failAt: "lint", wantCalls: []string{"lint"}, wantErr: "dockerfile lint failed"},
		{name: "build skips push", failAt: "build", wantCalls: []string{"lint", "build"}, wantErr: "image build failed"},
		{name: "push", failAt: "push", wantCalls: []string{"lint", "build", "push"}, wantErr: "image push failed"},
		{name: "scan", failAt: "scan", wantCalls: []string{"lint", "build", "push", "push", "scan"}, wantErr: "image vulnerability scan failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			builder := &fakeBuilder{fail: map[string]error{tt.failAt: errors.New("exit status 1")}}
			stage := &BuildStage{Builder: builder, Dockerfile: "Dockerfile", Image: testImage, Workdir: t.TempDir()}

			_, err := stage.Run(context.Background(), sourceTree(t, nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.wantCalls, builder.calls)
		})
	}
}

func TestBuildStage_LintReportKeptOnFailure(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	builder := &fakeBuilder{fail: map[string]error{"lint": errors.New("exit status 1")}}
	stage := &BuildStage{Builder: builder, Dockerfile: "Dockerfile", Image: testImage, Workdir: workdir}

	_, err := stage.Run(context.Background(), sourceTree(t, nil))
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(workdir, "run-1", "reports", "hadolint.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "DL3008")
}

func TestRevisionImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		image, revision, want string
	}{
		{testImage, "4b825dc642cb6eb9a060e54bf8d69288fbee4904", revImage},
		{"registry.local:5000/app", "4b825dc", "registry.local:5000/app:4b825dc"},
		{"registry.local:5000/app:v1", "abc", "registry.local:5000/app:abc"},
		{testImage, "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, revisionImage(tt.image, tt.revision), tt.image)
	}
}

func TestBuildStage_NoRevision(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{}
	stage := &BuildStage{Builder: builder, Dockerfile: "Dockerfile", Image: testImage, Workdir: t.TempDir()}
	in := sourceTree(t, nil)
	in.Revision = ""

	_, err := stage.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{testImage}, builder.pushed)
}

func TestBuildStage_NoSource(t *testing.T) {
	t.Parallel()
	_, err := (&BuildStage{Builder: &fakeBuilder{}}).Run(context.Background(), pipeline.Artifact{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source tree")
}

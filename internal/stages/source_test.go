package stages

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/shipgate/internal/pipeline"
)

const headCommit = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

func TestGitFetcher_ShallowClone(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor().on("git rev-parse", headCommit+"\n", nil)
	g := &GitFetcher{Exec: exec}
	dir := filepath.Join(t.TempDir(), "run-1", "src")

	commit, err := g.Fetch(context.Background(), "https://git.example.com/app.git", "main", "", dir)
	require.NoError(t, err)
	assert.Equal(t, headCommit, commit)
	assert.Equal(t, []string{"git clone", "git rev-parse"}, exec.names())

	clone, _ := exec.job("git clone")
	assert.Equal(t, []string{
		"git", "clone", "--single-branch", "--branch", "main", "--depth", "1",
		"--", "https://git.example.com/app.git", dir,
	}, clone.Args)
	assert.Equal(t, "0", clone.Env["GIT_TERMINAL_PROMPT"])

	revParse, _ := exec.job("git rev-parse")
	assert.Equal(t, dir, revParse.Dir)
}

func TestGitFetcher_Revision(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor().on("git rev-parse", "abc123\n", nil)
	g := &GitFetcher{Exec: exec}
	dir := filepath.Join(t.TempDir(), "src")

	commit, err := g.Fetch(context.Background(), "https://git.example.com/app.git", "main", "abc123", dir)
	require.NoError(t, err)
	assert.Equal(t, "abc123", commit)
	assert.Equal(t, []string{"git clone", "git checkout", "git rev-parse"}, exec.names())

	clone, _ := exec.job("git clone")
	assert.NotContains(t, clone.Args, "--depth", "a pinned revision needs more than the branch head")
	checkout, _ := exec.job("git checkout")
	assert.Equal(t, []string{"git", "checkout", "--detach", "abc123", "--"}, checkout.Args)
}

func TestGitFetcher_RejectsOptionArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                         string
		repository, branch, revision string
	}{
		{name: "repository", repository: "--upload-pack=touch /tmp/pwned://x", branch: "main"},
		{name: "branch", repository: "https://git.example.com/app.git", branch: "-x"},
		{name: "revision", repository: "https://git.example.com/app.git", branch: "main", revision: "--orphan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exec := newFakeExecutor()
			g := &GitFetcher{Exec: exec}

			_, err := g.Fetch(context.Background(), tt.repository, tt.branch, tt.revision, filepath.Join(t.TempDir(), "src"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid git argument")
			assert.Empty(t, exec.names(), "git is never invoked")
		})
	}
}

func TestGitFetcher_CloneFails(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor().on("git clone", "fatal: repository not found", &JobError{Job: "git clone", ExitCode: 128})
	g := &GitFetcher{Exec: exec}

	_, err := g.Fetch(context.Background(), "https://git.example.com/missing.git", "main", "", filepath.Join(t.TempDir(), "src"))
	require.Error(t, err)
	assert.Equal(t, []string{"git clone"}, exec.names())
}

type fakeFetcher struct {
	repository, branch, revision, dir string
	err                               error
}

func (f *fakeFetcher) Fetch(_ context.Context, repository, branch, revision, dir string) (string, error) {
	f.repository, f.branch, f.revision, f.dir = repository, branch, revision, dir
	if f.err != nil {
		return "", f.err
	}
	return headCommit, nil
}

func TestSourceStage(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	fetcher := &fakeFetcher{}
	stage := &SourceStage{Fetcher: fetcher, Repository: "https://git.example.com/app.git", Workdir: workdir}

	trigger := pipeline.Artifact{
		Name: "trigger",
		Metadata: map[string]string{
			pipeline.MetaRun:        "run-7",
			pipeline.MetaRepository: "devsecops-eks-cc-repository",
			pipeline.MetaBranch:     "release",
		},
	}
	out, err := stage.Run(context.Background(), trigger)
	require.NoError(t, err)

	assert.Equal(t, "https://git.example.com/app.git", fetcher.repository, "a repository name falls back to the configured URL")
	assert.Equal(t, "release", fetcher.branch)
	assert.Equal(t, filepath.Join(workdir, "run-7", "src"), out.Path)
	assert.Equal(t, headCommit, out.Revision)
	assert.Equal(t, "run-7", out.Meta(pipeline.MetaRun))
	assert.Equal(t, "https://git.example.com/app.git", out.Meta("url"))
	assert.Equal(t, "devsecops-eks-cc-repository", trigger.Metadata[pipeline.MetaRepository], "input is not mutated")
	assert.NotContains(t, trigger.Metadata, "url")
}

func TestSourceStage_TriggerURL(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	stage := &SourceStage{Fetcher: fetcher, Repository: "https://git.example.com/app.git", Workdir: t.TempDir()}
	_, err := stage.Run(context.Background(), pipeline.Artifact{
		Revision: "abc123",
		Metadata: map[string]string{pipeline.MetaRepository: "git@git.example.com:fork/app.git", pipeline.MetaBranch: "main"},
	})
	require.NoError(t, err)
	assert.Equal(t, "git@git.example.com:fork/app.git", fetcher.repository)
	assert.Equal(t, "abc123", fetcher.revision)
	assert.Contains(t, fetcher.dir, filepath.Join("adhoc", "src"))
}

func TestSourceStage_Errors(t *testing.T) {
	t.Parallel()

	_, err := (&SourceStage{Fetcher: &fakeFetcher{}, Workdir: t.TempDir()}).Run(context.Background(), pipeline.Artifact{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no repository URL")

	stage := &SourceStage{Fetcher: &fakeFetcher{err: errors.New("boom")}, Repository: "/srv/git/app.git", Workdir: t.TempDir()}
	_, err = stage.Run(context.Background(), pipeline.Artifact{})
	require.Error(t, err)
	assert.Equal(t, "failed to fetch /srv/git/app.git: boom", err.Error())
}

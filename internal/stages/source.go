package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imamik/shipgate/internal/pipeline"
)

// SourceFetcher checks out one branch of a repository.
type SourceFetcher interface {
	// Fetch checks out branch (or revision, when set) of repository into dir
	// and returns the resolved commit.
	Fetch(ctx context.Context, repository, branch, revision, dir string) (string, error)
}

// GitFetcher fetches sources with the git CLI.
type GitFetcher struct {
	Exec    Executor
	Timeout time.Duration
	Env     map[string]string
}

// Fetch implements SourceFetcher. Without a revision it makes a shallow
// clone of the branch head; with one it clones the branch and checks the
// revision out.
func (g *GitFetcher) Fetch(ctx context.Context, repository, branch, revision, dir string) (string, error) {
	for _, arg := range []string{repository, branch, revision} {
		if strings.HasPrefix(arg, "-") {
			return "", fmt.Errorf("invalid git argument %q", arg)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	clone := []string{"git", "clone", "--single-branch", "--branch", branch}
	if revision == "" {
		clone = append(clone, "--depth", "1")
	}
	clone = append(clone, "--", repository, dir)
	if err := g.run(ctx, "git clone", "", clone...); err != nil {
		return "", err
	}

	if revision != "" {
		if err := g.run(ctx, "git checkout", dir, "git", "checkout", "--detach", revision, "--"); err != nil {
			return "", err
		}
	}

	out, err := g.Exec.Exec(ctx, Job{
		Name:    "git rev-parse",
		Args:    []string{"git", "rev-parse", "HEAD"},
		Dir:     dir,
		Env:     g.Env,
		Timeout: g.Timeout,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitFetcher) run(ctx context.Context, name, dir string, args ...string) error {
	env := map[string]string{"GIT_TERMINAL_PROMPT": "0"}
	for k, v := range g.Env {
		env[k] = v
	}
	_, err := g.Exec.Exec(ctx, Job{Name: name, Args: args, Dir: dir, Env: env, Timeout: g.Timeout})
	return err
}

// SourceStage is the first step: it turns the trigger into a workspace.
type SourceStage struct {
	Fetcher    SourceFetcher
	Repository string
	Workdir    string
}

// Run implements pipeline.Stage. The input is the trigger artifact; the
// configured repository URL is used when the trigger names no URL.
func (s *SourceStage) Run(ctx context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	repository := s.Repository
	if isRepositoryURL(in.Meta(pipeline.MetaRepository)) {
		repository = in.Meta(pipeline.MetaRepository)
	}
	if repository == "" {
		return pipeline.Artifact{}, fmt.Errorf("no repository URL to fetch")
	}

	dir := filepath.Join(runDir(s.Workdir, in), "src")
	commit, err := s.Fetcher.Fetch(ctx, repository, in.Meta(pipeline.MetaBranch), in.Revision, dir)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to fetch %s: %w", repository, err)
	}

	out := in.With("url", repository)
	out.Revision = commit
	out.Path = dir
	return out, nil
}

// runDir is the per-run workspace directory.
func runDir(workdir string, in pipeline.Artifact) string {
	id := in.Meta(pipeline.MetaRun)
	if id == "" {
		id = "adhoc"
	}
	return filepath.Join(workdir, id)
}

func isRepositoryURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "git@") || filepath.IsAbs(s)
}

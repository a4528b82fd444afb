package stages

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imamik/shipgate/internal/pipeline"
)

type jobResult struct {
	out []byte
	err error
}

// fakeExecutor records jobs and answers them by job name.
type fakeExecutor struct {
	mu      sync.Mutex
	jobs    []Job
	results map[string]jobResult
	hook    func(Job)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: make(map[string]jobResult)}
}

func (f *fakeExecutor) on(name string, out string, err error) *fakeExecutor {
	f.results[name] = jobResult{out: []byte(out), err: err}
	return f
}

func (f *fakeExecutor) Exec(_ context.Context, job Job) ([]byte, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	res := f.results[job.Name]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(job)
	}
	return res.out, res.err
}

func (f *fakeExecutor) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.jobs))
	for i, j := range f.jobs {
		out[i] = j.Name
	}
	return out
}

func (f *fakeExecutor) job(name string) (Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

// sourceTree creates a fetched workspace with the given files.
func sourceTree(t *testing.T, files map[string]string) pipeline.Artifact {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return pipeline.Artifact{
		Name:     "Source-Input",
		Revision: "4b825dc642cb6eb9a060e54bf8d69288fbee4904",
		Path:     dir,
		Metadata: map[string]string{pipeline.MetaRun: "run-1", pipeline.MetaBranch: "main"},
	}
}

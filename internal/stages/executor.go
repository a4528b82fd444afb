package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

// Job is one external command.
type Job struct {
	// Name labels the job in errors and logs.
	Name string

	// Args is the command and its arguments. It is executed directly, not
	// through a shell; use Shell for scripts.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is added to the process environment.
	Env map[string]string

	// Stdin is fed to the command when set.
	Stdin io.Reader

	// Timeout bounds the job. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Shell returns the arguments that run script with sh -c.
func Shell(script string) []string {
	return []string{"sh", "-c", script}
}

// Executor runs jobs. The combined stdout/stderr is returned in both the
// success and failure case.
type Executor interface {
	Exec(ctx context.Context, job Job) ([]byte, error)
}

// JobError is returned when a job exits non-zero, times out or cannot start.
type JobError struct {
	Job      string
	ExitCode int
	TimedOut bool
	Output   string
	Err      error
}

func (e *JobError) Error() string {
	var msg string
	switch {
	case e.TimedOut:
		msg = fmt.Sprintf("%s timed out", e.Job)
	case e.ExitCode > 0:
		msg = fmt.Sprintf("%s exited with code %d", e.Job, e.ExitCode)
	default:
		msg = fmt.Sprintf("%s failed: %v", e.Job, e.Err)
	}
	if tail := lastLines(e.Output, 10); tail != "" {
		msg += "\n" + tail
	}
	return msg
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// ShellExecutor runs jobs as local processes.
type ShellExecutor struct {
	// Output, when set, receives a copy of every job's combined output as it
	// is produced.
	Output io.Writer

	mu sync.Mutex
}

// NewShellExecutor creates an executor that streams job output to w.
func NewShellExecutor(w io.Writer) *ShellExecutor {
	return &ShellExecutor{Output: w}
}

// Exec implements Executor.
func (e *ShellExecutor) Exec(ctx context.Context, job Job) ([]byte, error) {
	if len(job.Args) == 0 {
		return nil, &JobError{Job: job.Name, Err: errors.New("no command")}
	}
	name := job.Name
	if name == "" {
		name = job.Args[0]
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	// #nosec G204 - commands come from the stack declaration, not request input
	cmd := exec.CommandContext(ctx, job.Args[0], job.Args[1:]...)
	cmd.Dir = job.Dir
	cmd.Stdin = job.Stdin
	cmd.Env = mergeEnv(os.Environ(), job.Env)
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	var w io.Writer = &out
	if e.Output != nil {
		w = io.MultiWriter(&out, &lockedWriter{mu: &e.mu, w: e.Output})
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if err == nil {
		return out.Bytes(), nil
	}

	jobErr := &JobError{Job: name, Output: out.String(), Err: err}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		jobErr.TimedOut = true
	case errors.As(err, &exitErr):
		jobErr.ExitCode = exitErr.ExitCode()
	}
	return out.Bytes(), jobErr
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// mergeEnv appends env to base in key order; later entries override
// earlier ones for exec.
func mergeEnv(base []string, env map[string]string) []string {
	out := slices.Clone(base)
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

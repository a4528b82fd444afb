package stages

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellExecutor_CombinedOutput(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	e := NewShellExecutor(&stream)
	out, err := e.Exec(context.Background(), Job{
		Name: "echo",
		Args: Shell(`echo out; echo err >&2; echo "$GREETING"`),
		Env:  map[string]string{"GREETING": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out\nerr\nhello\n", string(out))
	assert.Equal(t, string(out), stream.String())
}

func TestShellExecutor_Dir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out, err := NewShellExecutor(nil).Exec(context.Background(), Job{Args: []string{"pwd"}, Dir: dir})
	require.NoError(t, err)
	assert.Contains(t, strings.TrimSpace(string(out)), dir)
}

func TestShellExecutor_ExitCode(t *testing.T) {
	t.Parallel()

	out, err := NewShellExecutor(nil).Exec(context.Background(), Job{
		Name: "lint",
		Args: Shell("echo finding one; echo finding two; exit 3"),
	})
	require.Error(t, err)
	assert.Equal(t, "finding one\nfinding two\n", string(out))

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, 3, jobErr.ExitCode)
	assert.False(t, jobErr.TimedOut)
	assert.Equal(t, "lint exited with code 3\nfinding one\nfinding two", err.Error())
}

func TestShellExecutor_Timeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := NewShellExecutor(nil).Exec(context.Background(), Job{
		Name:    "sleep",
		Args:    []string{"sleep", "10"},
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.True(t, jobErr.TimedOut)
	assert.Contains(t, err.Error(), "sleep timed out")
}

func TestShellExecutor_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := NewShellExecutor(nil).Exec(ctx, Job{Name: "sleep", Args: []string{"sleep", "10"}})
	require.Error(t, err)

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.False(t, jobErr.TimedOut)
}

func TestShellExecutor_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewShellExecutor(nil).Exec(context.Background(), Job{Name: "empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty failed: no command")

	_, err = NewShellExecutor(nil).Exec(context.Background(), Job{Args: []string{"definitely-not-a-command-xyz"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitely-not-a-command-xyz failed")
}

func TestMergeEnv(t *testing.T) {
	t.Parallel()

	got := mergeEnv([]string{"PATH=/bin"}, map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"PATH=/bin", "A=1", "B=2"}, got)
}

func TestLastLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "c\nd", lastLines("a\nb\nc\nd\n", 2))
	assert.Empty(t, lastLines("", 5))
}

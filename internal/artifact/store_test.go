package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
)

func newLocal(t *testing.T) (*Store, *LocalStore) {
	t.Helper()
	backend, err := NewLocalStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	return New(backend), backend
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	store, backend := newLocal(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"Dockerfile": "FROM scratch\n"})

	in := pipeline.Artifact{Name: "Source-Input", Revision: "abc123", Path: src, Metadata: map[string]string{"url": "https://git.example.com/app.git"}}
	out, err := store.Put(ctx, "run-1", "Source-Input", in)
	require.NoError(t, err)

	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(backend.Root(), "run-1", "Source-Input", "artifact.json")), out.Ref)
	assert.Equal(t, "run-1/Source-Input/contents.tar.gz", out.Meta(MetaArchive))
	assert.Len(t, out.Meta(MetaArchiveSHA256), 64)
	assert.Empty(t, in.Ref, "input is not mutated")

	got, err := store.Get(ctx, "run-1", "Source-Input")
	require.NoError(t, err)
	assert.Equal(t, out, got)

	dst := t.TempDir()
	require.NoError(t, store.Extract(ctx, got, dst))
	assert.FileExists(t, filepath.Join(dst, "Dockerfile"))
}

func TestStore_PutRefusesOverwrite(t *testing.T) {
	t.Parallel()

	store, _ := newLocal(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "run-1", "scan", pipeline.Artifact{Name: "scan"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "run-1", "scan", pipeline.Artifact{Name: "scan", Revision: "other"})
	require.ErrorIs(t, err, ErrExists)

	got, err := store.Get(ctx, "run-1", "scan")
	require.NoError(t, err)
	assert.Empty(t, got.Revision)
}

func TestStore_ConcurrentWritersOneWins(t *testing.T) {
	t.Parallel()

	_, backend := newLocal(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- backend.Write(ctx, "run-1/run.json", []byte{byte('0' + i)})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrExists)
	}
	assert.Equal(t, 1, succeeded)
}

func TestStore_CarriedPathsStoredOnce(t *testing.T) {
	t.Parallel()

	store, _ := newLocal(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"app.py": "print('hi')\n"})
	report := filepath.Join(t.TempDir(), "checkov.txt")
	require.NoError(t, os.WriteFile(report, []byte("Passed checks: 41"), 0o600))

	source, err := store.Put(ctx, "run-1", "source", pipeline.Artifact{Name: "source", Path: src})
	require.NoError(t, err)

	scan := source.With(pipeline.MetaReport, report)
	scan.Name = "scan"
	scan, err = store.Put(ctx, "run-1", "scan", scan)
	require.NoError(t, err)
	assert.Equal(t, source.Meta(MetaArchive), scan.Meta(MetaArchive), "the source tree is not archived again")
	assert.True(t, strings.HasSuffix(scan.Meta("report_ref"), "run-1/scan/files/checkov.txt"))

	deploy := scan.Clone()
	deploy.Name = "deploy"
	deploy, err = store.Put(ctx, "run-1", "deploy", deploy)
	require.NoError(t, err)
	assert.Equal(t, scan.Meta("report_ref"), deploy.Meta("report_ref"))

	keys, err := store.Backend().List(ctx, "run-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"run-1/deploy/artifact.json",
		"run-1/scan/artifact.json",
		"run-1/scan/files/checkov.txt",
		"run-1/source/artifact.json",
		"run-1/source/contents.tar.gz",
	}, keys)
}

func TestStore_PutErrors(t *testing.T) {
	t.Parallel()

	store, _ := newLocal(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "", "scan", pipeline.Artifact{})
	require.Error(t, err)

	_, err = store.Put(ctx, "run-1", "build", pipeline.Artifact{Metadata: map[string]string{pipeline.MetaReport: "/does/not/exist"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read report")

	_, err = store.Get(ctx, "run-1", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = store.Extract(ctx, pipeline.Artifact{Name: "gate"}, t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Records(t *testing.T) {
	t.Parallel()

	store, _ := newLocal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-b", "run-a"} {
		require.NoError(t, store.PutRecord(ctx, pipeline.Snapshot{
			ID:        id,
			Pipeline:  "devsecops-project-eks-pipeline",
			Status:    pipeline.StatusSucceeded,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	_, err := store.Put(ctx, "run-a", "source", pipeline.Artifact{Name: "source"})
	require.NoError(t, err)

	err = store.PutRecord(ctx, pipeline.Snapshot{ID: "run-a"})
	require.ErrorIs(t, err, ErrExists)
	require.Error(t, store.PutRecord(ctx, pipeline.Snapshot{}))

	snap, err := store.GetRecord(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSucceeded, snap.Status)

	records, err := store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-b", records[0].ID)
	assert.Equal(t, "run-a", records[1].ID)
}

func TestStore_OnS3(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeS3(t, "artifacts")
	store := New(newTestS3Store(t, srv, "artifacts", "devsecops-eks"))
	ctx := context.Background()

	out, err := store.Put(ctx, "run-1", "Deploy-to-EKS", pipeline.Artifact{Name: "Deploy-to-EKS", Digest: "sha256:abc"})
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/devsecops-eks/run-1/Deploy-to-EKS/artifact.json", out.Ref)

	_, ok := fake.object("devsecops-eks/run-1/Deploy-to-EKS/artifact.json")
	assert.True(t, ok)

	_, err = store.Put(ctx, "run-1", "Deploy-to-EKS", pipeline.Artifact{})
	require.ErrorIs(t, err, ErrExists)
}

func TestLocalStore_InvalidKey(t *testing.T) {
	t.Parallel()

	_, backend := newLocal(t)
	require.Error(t, backend.Write(context.Background(), "../escape", []byte("x")))
	_, err := backend.Read(context.Background(), "../../etc/passwd")
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	store, err := Open(context.Background(), config.ArtifactConfig{Backend: config.BackendLocal, Path: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store.Backend())

	_, err = Open(context.Background(), config.ArtifactConfig{Backend: "gcs"}, nil)
	require.Error(t, err)

	_, err = Open(context.Background(), config.ArtifactConfig{Backend: config.BackendS3}, nil)
	require.Error(t, err)
}

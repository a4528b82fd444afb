package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/imamik/shipgate/internal/pipeline"
)

var (
	// ErrExists is returned when a key has already been written.
	ErrExists = errors.New("artifact already exists")

	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("artifact not found")
)

// Backend stores opaque objects under slash-separated keys.
type Backend interface {
	// Write stores data under key and fails with ErrExists if key is taken.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the object under key or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Location renders key as a reference users can follow.
	Location(key string) string
}

// Metadata keys the store adds to persisted artifacts.
const (
	MetaArchive       = "archive"
	MetaArchiveSHA256 = "archive_sha256"

	// metaStored lists the local paths already persisted by earlier steps,
	// so a source tree carried through the plan is archived only once.
	metaStored = "stored"
)

// fileKeys are the metadata entries holding report files worth keeping.
var fileKeys = []string{pipeline.MetaReport, "image_scan"}

const (
	artifactFile = "artifact.json"
	archiveFile  = "contents.tar.gz"
	recordFile   = "run.json"
)

// Store persists artifacts and run records on a Backend. It satisfies
// pipeline.ArtifactStore and pipeline.RecordStore.
type Store struct {
	backend Backend
}

// New creates a store on backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Put persists the artifact produced by step of runID and returns it with Ref
// pointing at the stored copy. The workspace directory and report files are
// uploaded unless an earlier step of the run already stored them.
func (s *Store) Put(ctx context.Context, runID, step string, a pipeline.Artifact) (pipeline.Artifact, error) {
	if runID == "" || step == "" {
		return pipeline.Artifact{}, errors.New("run id and step are required")
	}
	prefix := stepPrefix(runID, step)
	metaKey := path.Join(prefix, artifactFile)

	if _, err := s.backend.Read(ctx, metaKey); err == nil {
		return pipeline.Artifact{}, fmt.Errorf("%s: %w", metaKey, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return pipeline.Artifact{}, err
	}

	out := a.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]string)
	}
	stored := storedPaths(out)

	if out.Path != "" && !slices.Contains(stored, out.Path) {
		data, err := Archive(out.Path)
		if err != nil {
			return pipeline.Artifact{}, fmt.Errorf("failed to archive %s: %w", out.Path, err)
		}
		key := path.Join(prefix, archiveFile)
		if err := s.backend.Write(ctx, key, data); err != nil {
			return pipeline.Artifact{}, fmt.Errorf("failed to store archive: %w", err)
		}
		sum := sha256.Sum256(data)
		out.Metadata[MetaArchive] = key
		out.Metadata[MetaArchiveSHA256] = hex.EncodeToString(sum[:])
		stored = append(stored, out.Path)
	}

	for _, k := range fileKeys {
		file := out.Meta(k)
		if file == "" || slices.Contains(stored, file) {
			continue
		}
		// #nosec G304 - report paths are written by the stages of this run
		data, err := os.ReadFile(file)
		if err != nil {
			return pipeline.Artifact{}, fmt.Errorf("failed to read %s: %w", k, err)
		}
		key := path.Join(prefix, "files", filepath.Base(file))
		if err := s.backend.Write(ctx, key, data); err != nil {
			return pipeline.Artifact{}, fmt.Errorf("failed to store %s: %w", k, err)
		}
		out.Metadata[k+"_ref"] = s.backend.Location(key)
		stored = append(stored, file)
	}

	if len(stored) > 0 {
		out.Metadata[metaStored] = strings.Join(stored, string(filepath.ListSeparator))
	}
	out.Ref = s.backend.Location(metaKey)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := s.backend.Write(ctx, metaKey, data); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to store artifact: %w", err)
	}
	return out, nil
}

// Get returns the artifact step of runID produced.
func (s *Store) Get(ctx context.Context, runID, step string) (pipeline.Artifact, error) {
	data, err := s.backend.Read(ctx, path.Join(stepPrefix(runID, step), artifactFile))
	if err != nil {
		return pipeline.Artifact{}, err
	}
	var a pipeline.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return a, nil
}

// Extract unpacks the archived workspace of a stored artifact into dir.
func (s *Store) Extract(ctx context.Context, a pipeline.Artifact, dir string) error {
	key := a.Meta(MetaArchive)
	if key == "" {
		return fmt.Errorf("artifact %s has no archive: %w", a.Name, ErrNotFound)
	}
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		return err
	}
	if want := a.Meta(MetaArchiveSHA256); want != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != want {
			return fmt.Errorf("archive %s checksum mismatch: got %s, want %s", key, got, want)
		}
	}
	return Unarchive(data, dir)
}

// PutRecord persists the final snapshot of a run.
func (s *Store) PutRecord(ctx context.Context, snap pipeline.Snapshot) error {
	if snap.ID == "" {
		return errors.New("run record has no id")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	return s.backend.Write(ctx, path.Join(snap.ID, recordFile), data)
}

// GetRecord returns the stored snapshot of a finished run.
func (s *Store) GetRecord(ctx context.Context, runID string) (pipeline.Snapshot, error) {
	data, err := s.backend.Read(ctx, path.Join(runID, recordFile))
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	var snap pipeline.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("failed to decode run record: %w", err)
	}
	return snap, nil
}

// Records returns the stored snapshots of all finished runs, oldest first.
func (s *Store) Records(ctx context.Context) ([]pipeline.Snapshot, error) {
	keys, err := s.backend.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var snaps []pipeline.Snapshot
	for _, key := range keys {
		runID, file, ok := strings.Cut(key, "/")
		if !ok || file != recordFile {
			continue
		}
		snap, err := s.GetRecord(ctx, runID)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	slices.SortFunc(snaps, func(a, b pipeline.Snapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return snaps, nil
}

func stepPrefix(runID, step string) string {
	return path.Join(runID, sanitize(step))
}

// sanitize keeps step names usable as a single key segment.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, name)
}

func storedPaths(a pipeline.Artifact) []string {
	v := a.Meta(metaStored)
	if v == "" {
		return nil
	}
	return filepath.SplitList(v)
}

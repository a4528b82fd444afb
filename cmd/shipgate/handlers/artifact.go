package handlers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/imamik/shipgate/internal/artifact"
	"github.com/imamik/shipgate/internal/pipeline"
)

// Artifact prints the artifact a step of a run stored. A non-empty extractDir
// also unpacks the archived workspace there.
func Artifact(ctx context.Context, configPath, runID, step, extractDir string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Artifacts, loadTimeouts())
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	a, err := store.Get(ctx, runID, step)
	if errors.Is(err, artifact.ErrNotFound) {
		return fmt.Errorf("run %s has no stored artifact for %s", runID, step)
	}
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	fmt.Fprint(stdout, renderArtifact(a))

	if extractDir == "" {
		return nil
	}
	if err := store.Extract(ctx, a, extractDir); err != nil {
		return fmt.Errorf("failed to extract artifact: %w", err)
	}
	fmt.Fprintf(stdout, "\n%s Extracted to %s\n", readyStyle.Render(checkMark), extractDir)
	return nil
}

func renderArtifact(a pipeline.Artifact) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(a.Name) + "\n")
	fmt.Fprintf(&b, "  %-10s %s\n", "ref", a.Ref)
	if a.Revision != "" {
		fmt.Fprintf(&b, "  %-10s %s\n", "revision", a.Revision)
	}
	if a.Digest != "" {
		fmt.Fprintf(&b, "  %-10s %s\n", "digest", a.Digest)
	}
	for _, k := range slices.Sorted(maps.Keys(a.Metadata)) {
		fmt.Fprintf(&b, "  %-10s %s\n", k, a.Metadata[k])
	}
	return b.String()
}

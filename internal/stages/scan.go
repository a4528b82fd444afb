package stages

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imamik/shipgate/internal/pipeline"
)

// ScanRequest describes one infrastructure scan.
type ScanRequest struct {
	Dir        string
	Template   string
	Framework  string
	SkipChecks []string
}

// ScanReport is the scanner's verdict.
type ScanReport struct {
	Passed bool
	Output []byte
}

// SecurityScanner checks a rendered infrastructure template.
type SecurityScanner interface {
	Scan(ctx context.Context, req ScanRequest) (ScanReport, error)
}

// CheckovScanner runs checkov.
type CheckovScanner struct {
	Exec    Executor
	Timeout time.Duration
	Env     map[string]string
}

// Scan implements SecurityScanner. Failed checks are reported as a report
// that did not pass, not as an error; errors mean checkov could not run.
func (c *CheckovScanner) Scan(ctx context.Context, req ScanRequest) (ScanReport, error) {
	args := []string{"checkov", "--framework", req.Framework, "--compact", "-f", req.Template}
	if len(req.SkipChecks) > 0 {
		args = append(args, "--skip-check", strings.Join(req.SkipChecks, ","))
	}

	out, err := c.Exec.Exec(ctx, Job{
		Name:    "checkov",
		Args:    args,
		Dir:     req.Dir,
		Env:     c.Env,
		Timeout: c.Timeout,
	})
	if err == nil {
		return ScanReport{Passed: true, Output: out}, nil
	}

	// checkov exits 1 when checks fail.
	var jobErr *JobError
	if errors.As(err, &jobErr) && jobErr.ExitCode == 1 {
		return ScanReport{Passed: false, Output: out}, nil
	}
	return ScanReport{Output: out}, err
}

// ScanFailedError is returned by ScanStage when the scan did not pass.
type ScanFailedError struct {
	Template string
	Summary  string
}

func (e *ScanFailedError) Error() string {
	msg := fmt.Sprintf("security checks failed for %s", e.Template)
	if e.Summary != "" {
		msg += ": " + e.Summary
	}
	return msg
}

// ScanStage runs the security scanner on the fetched source.
type ScanStage struct {
	Scanner        SecurityScanner
	Template       string
	Framework      string
	SkipChecksFile string
	SkipChecks     []string
	Workdir        string
}

// Run implements pipeline.Stage. The report is written next to the source
// tree and referenced from the output artifact.
func (s *ScanStage) Run(ctx context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	if in.Path == "" {
		return pipeline.Artifact{}, errors.New("scan input has no source tree")
	}

	skip := append([]string(nil), s.SkipChecks...)
	if s.SkipChecksFile != "" {
		fromFile, err := ReadSkipChecks(filepath.Join(in.Path, s.SkipChecksFile))
		if err != nil {
			return pipeline.Artifact{}, err
		}
		skip = append(skip, fromFile...)
	}

	report, err := s.Scanner.Scan(ctx, ScanRequest{
		Dir:        in.Path,
		Template:   s.Template,
		Framework:  s.Framework,
		SkipChecks: skip,
	})
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("failed to run scanner: %w", err)
	}

	reportPath, err := writeReport(runDir(s.Workdir, in), "checkov.txt", report.Output)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	if !report.Passed {
		return pipeline.Artifact{}, &ScanFailedError{Template: s.Template, Summary: summaryLine(report.Output)}
	}

	out := in.With(pipeline.MetaReport, reportPath)
	out.Metadata["skipped_checks"] = fmt.Sprint(len(skip))
	return out, nil
}

// ReadSkipChecks reads a skip-checks file: one check ID per line, blank
// lines and # comments ignored. Commas on a line also separate IDs.
func ReadSkipChecks(path string) ([]string, error) {
	//nolint:gosec // path is inside the fetched workspace
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read skip checks file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var checks []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		for _, id := range strings.Split(line, ",") {
			if id = strings.TrimSpace(id); id != "" {
				checks = append(checks, id)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read skip checks file: %w", err)
	}
	return checks, nil
}

func writeReport(dir, name string, data []byte) (string, error) {
	dir = filepath.Join(dir, "reports")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// summaryLine picks the scanner's result line ("Passed checks: 10, Failed
// checks: 2, ...") or the last output line.
func summaryLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for _, l := range lines {
		if strings.Contains(l, "Failed checks:") {
			return strings.TrimSpace(l)
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

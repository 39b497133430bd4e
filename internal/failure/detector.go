// Package failure classifies why a finished job failed. Detection runs a
// fixed sequence of checks and the first positive one names the failure
// kind, so a scheduler kill is never misreported as a log error.
package failure

import (
	"fmt"
	"path/filepath"
	"strings"

	"drover/internal/job"
	"drover/internal/logscan"
)

// Verdict is the outcome of inspecting one finished job.
type Verdict struct {
	Failed   bool
	Kind     job.FailureKind
	Reason   string
	Lines    []string // suspicious output lines kept for the record
	ExitCode *int
}

// Detector inspects finished jobs. Safe for concurrent use.
type Detector struct {
	inspector *logscan.Inspector
}

func New(inspector *logscan.Inspector) *Detector {
	return &Detector{inspector: inspector}
}

// Detect classifies a job whose backend run has finished. reported is the
// terminal state the backend handed back. Checks run in order: scheduler
// verdict, exit code, expected output files, then captured output. Error
// lines are gathered regardless of which check fires so the record keeps
// the evidence.
func (d *Detector) Detect(j *job.Job, reported job.State) Verdict {
	lines := d.inspector.Scan(j.StderrPath, j.StdoutPath)

	code := exitCode(j)
	if code == nil {
		if c, ok := d.inspector.ExitCode(j.StderrPath, j.StdoutPath); ok {
			code = &c
		}
	}

	if reported == job.StateFailed {
		return Verdict{
			Failed:   true,
			Kind:     job.FailureScheduler,
			Reason:   "scheduler reported the job as failed",
			Lines:    lines,
			ExitCode: code,
		}
	}

	if code != nil && *code != 0 {
		return Verdict{
			Failed:   true,
			Kind:     job.FailureExitCode,
			Reason:   fmt.Sprintf("exited with code %d", *code),
			Lines:    lines,
			ExitCode: code,
		}
	}

	if missing := missingFiles(j); len(missing) > 0 {
		return Verdict{
			Failed:   true,
			Kind:     job.FailureMissingFile,
			Reason:   fmt.Sprintf("expected output files missing: %s", strings.Join(missing, ", ")),
			Lines:    lines,
			ExitCode: code,
		}
	}

	if len(lines) > 0 {
		kind := job.FailureLogError
		reason := fmt.Sprintf("%d suspicious line(s) in captured output", len(lines))
		if d.inspector.HasOOM(lines) {
			kind = job.FailureOOM
			reason = "out-of-memory signature in captured output"
		}
		return Verdict{
			Failed:   true,
			Kind:     kind,
			Reason:   reason,
			Lines:    lines,
			ExitCode: code,
		}
	}

	return Verdict{ExitCode: code}
}

// exitCode returns the code already recorded on the job, if any.
func exitCode(j *job.Job) *int {
	if j.ExitCode == nil {
		return nil
	}
	c := *j.ExitCode
	return &c
}

// missingFiles returns the expected-file patterns that matched nothing.
// Relative patterns are resolved against the job's working directory. A
// malformed pattern counts as missing because presence cannot be shown.
func missingFiles(j *job.Job) []string {
	var missing []string
	for _, pattern := range j.ExpectedFiles {
		if pattern == "" {
			continue
		}
		resolved := pattern
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(j.Workdir, resolved)
		}
		matches, err := filepath.Glob(resolved)
		if err != nil || len(matches) == 0 {
			missing = append(missing, pattern)
		}
	}
	return missing
}

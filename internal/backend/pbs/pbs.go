// Package pbs drives PBS-family schedulers (OpenPBS and Torque) through
// qsub, qstat, and qdel. The two families differ in resource-request
// syntax; the cluster profile picks the style.
package pbs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"drover/internal/apperrors"
	"drover/internal/backend/shell"
	"drover/internal/job"
	"drover/internal/profile"
)

const (
	submitCmd = "qsub"
	statusCmd = "qstat"
	cancelCmd = "qdel"
)

var (
	jobStatePattern   = regexp.MustCompile(`job_state\s*=\s*(\w)`)
	exitStatusPattern = regexp.MustCompile(`Exit_status\s*=\s*(-?\d+)`)
)

// Backend implements job.Backend against PBS.
type Backend struct {
	prof      *profile.Profile
	run       shell.Runner
	installed func(string) bool
}

func New(prof *profile.Profile) *Backend {
	if prof == nil {
		prof = &profile.Profile{}
	}
	return &Backend{prof: prof, run: shell.Run, installed: shell.Installed}
}

func (b *Backend) Name() string { return "pbs" }

// GenerateScript renders the qsub script for j. Pure: same job, same
// profile, same text.
func (b *Backend) GenerateScript(j *job.Job) string {
	res := j.Resources.Data()

	lines := []string{
		"#!/bin/bash",
		"#PBS -N " + j.Name,
	}
	if queue := b.queue(res); queue != "" {
		lines = append(lines, "#PBS -q "+queue)
	}
	if account := firstOf(res.Account, b.prof.Account); account != "" {
		lines = append(lines, "#PBS -A "+account)
	}
	lines = append(lines, "#PBS -l "+b.resourceLine(res))
	if res.Walltime != "" {
		lines = append(lines, "#PBS -l walltime="+res.Walltime)
	}
	if j.StdoutPath != "" {
		lines = append(lines, "#PBS -o "+j.StdoutPath)
	}
	if j.StderrPath != "" {
		lines = append(lines, "#PBS -e "+j.StderrPath)
	}
	lines = append(lines, shell.EnsurePrefix(b.prof.PBS.ExtraDirectives, "#PBS")...)

	lines = append(lines, "")
	if j.Workdir != "" {
		lines = append(lines, "cd "+j.Workdir, "")
	} else {
		lines = append(lines, "cd $PBS_O_WORKDIR", "")
	}

	moduleSets := [][]string{b.prof.Modules}
	if res.GPUs > 0 {
		moduleSets = append(moduleSets, b.prof.GPU.Modules)
	}
	if modules := shell.ModuleLines(moduleSets...); len(modules) > 0 {
		lines = append(lines, modules...)
		lines = append(lines, "")
	}

	if exports := shell.ExportLines(b.prof.Env, j.Env.Data()); len(exports) > 0 {
		lines = append(lines, exports...)
		lines = append(lines, "")
	}

	lines = append(lines, j.Command, "")
	return strings.Join(lines, "\n")
}

func (b *Backend) queue(res job.ResourceSpec) string {
	if res.Queue != "" {
		return res.Queue
	}
	if res.GPUs > 0 && b.prof.GPU.Queue != "" {
		return b.prof.GPU.Queue
	}
	return b.prof.DefaultQueue
}

// resourceLine renders the chunk request in the profile's style:
// select=2:ncpus=8:mem=32gb for OpenPBS, nodes=2:ppn=8,mem=32gb for
// Torque.
func (b *Backend) resourceLine(res job.ResourceSpec) string {
	nodes, cpus := res.Nodes, res.CPUs
	if nodes <= 0 {
		nodes = 1
	}
	if cpus <= 0 {
		cpus = 1
	}
	mem := pbsMemory(res.Memory)

	if b.prof.PBS.ResourceStyle == profile.ResourceStyleNodes {
		parts := []string{fmt.Sprintf("nodes=%d:ppn=%d", nodes, cpus)}
		if mem != "" {
			parts = append(parts, "mem="+mem)
		}
		if res.GPUs > 0 {
			parts = append(parts, fmt.Sprintf("gpus=%d", res.GPUs))
		}
		return strings.Join(parts, ",")
	}

	spec := fmt.Sprintf("select=%d:ncpus=%d", nodes, cpus)
	if mem != "" {
		spec += ":mem=" + mem
	}
	if res.GPUs > 0 {
		spec += fmt.Sprintf(":ngpus=%d", res.GPUs)
		if b.prof.GPU.Host != "" {
			spec += ":host=" + b.prof.GPU.Host
		}
	}
	return spec
}

// pbsMemory normalizes a human memory string ("32G", "512MiB") to the
// whole-gigabyte form PBS resource lists expect. Unparsable strings pass
// through untouched.
func pbsMemory(raw string) string {
	if raw == "" {
		return ""
	}
	size, err := units.RAMInBytes(raw)
	if err != nil || size <= 0 {
		return raw
	}
	gb := (size + units.GiB - 1) / units.GiB
	return fmt.Sprintf("%dgb", gb)
}

func (b *Backend) Submit(ctx context.Context, scriptPath string) (string, error) {
	stdout, stderr, err := b.run(ctx, submitCmd, scriptPath)
	if err != nil {
		return "", apperrors.Submission(b.Name(), fmt.Errorf("qsub: %s", shell.ErrorText(stderr, err)))
	}
	// qsub prints "3921.pbsserver"; the leading sequence is the job id.
	id, _, _ := strings.Cut(stdout, ".")
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperrors.Submission(b.Name(), fmt.Errorf("no job id in qsub output %q", stdout))
	}
	return id, nil
}

// Status asks the live queue first, then finished-job history (qstat -x).
// A job absent from both is reported completed; the failure detector
// catches anything that actually went wrong.
func (b *Backend) Status(ctx context.Context, backendID string) (job.State, error) {
	stdout, _, err := b.run(ctx, statusCmd, "-f", backendID)
	if err != nil {
		if ctx.Err() != nil {
			return job.StateUnknown, ctx.Err()
		}
		stdout, _, err = b.run(ctx, statusCmd, "-f", "-x", backendID)
		if err != nil || stdout == "" {
			return job.StateCompleted, nil
		}
	}
	return parseState(stdout), nil
}

func parseState(out string) job.State {
	m := jobStatePattern.FindStringSubmatch(out)
	if m == nil {
		return job.StateUnknown
	}
	switch m[1] {
	case "Q", "H", "W", "T":
		return job.StateQueued
	case "R", "E", "B":
		return job.StateRunning
	case "C":
		return job.StateCompleted
	case "F":
		// OpenPBS finished state; the exit status decides the outcome.
		if em := exitStatusPattern.FindStringSubmatch(out); em != nil {
			if code, err := strconv.Atoi(em[1]); err == nil && code != 0 {
				return job.StateFailed
			}
		}
		return job.StateCompleted
	default:
		return job.StateUnknown
	}
}

func (b *Backend) Cancel(ctx context.Context, backendID string) error {
	_, stderr, err := b.run(ctx, cancelCmd, backendID)
	if err != nil {
		return fmt.Errorf("qdel %s: %s", backendID, shell.ErrorText(stderr, err))
	}
	return nil
}

func (b *Backend) Available(context.Context) bool {
	return b.installed(submitCmd)
}

func (b *Backend) Close() error { return nil }

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ job.Backend = (*Backend)(nil)

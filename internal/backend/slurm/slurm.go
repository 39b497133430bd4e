// Package slurm drives a SLURM cluster through its command-line tools:
// sbatch, squeue, sacct, scancel.
package slurm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"drover/internal/apperrors"
	"drover/internal/backend/shell"
	"drover/internal/job"
	"drover/internal/profile"
)

const (
	submitCmd = "sbatch"
	queueCmd  = "squeue"
	acctCmd   = "sacct"
	cancelCmd = "scancel"
)

// sbatch prints "Submitted batch job 12345"; the wording varies across
// versions and site wrappers, so take the first integer run.
var jobIDPattern = regexp.MustCompile(`\d+`)

// Backend implements job.Backend against SLURM.
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

func (b *Backend) Name() string { return "slurm" }

// GenerateScript renders the sbatch script for j. Pure: same job, same
// profile, same text.
func (b *Backend) GenerateScript(j *job.Job) string {
	res := j.Resources.Data()
	nodes, cpus := res.Nodes, res.CPUs
	if nodes <= 0 {
		nodes = 1
	}
	if cpus <= 0 {
		cpus = 1
	}

	lines := []string{
		"#!/bin/bash",
		"#SBATCH --job-name=" + j.Name,
	}
	if partition := b.partition(res); partition != "" {
		lines = append(lines, "#SBATCH --partition="+partition)
	}
	if account := firstOf(res.Account, b.prof.Account); account != "" {
		lines = append(lines, "#SBATCH --account="+account)
	}
	lines = append(lines,
		fmt.Sprintf("#SBATCH --nodes=%d", nodes),
		fmt.Sprintf("#SBATCH --ntasks-per-node=%d", cpus),
	)
	if res.Memory != "" {
		lines = append(lines, "#SBATCH --mem="+res.Memory)
	}
	if res.Walltime != "" {
		lines = append(lines, "#SBATCH --time="+res.Walltime)
	}
	if res.GPUs > 0 {
		gres := b.prof.GPU.Gres
		if gres == "" {
			gres = "gpu"
		}
		lines = append(lines, fmt.Sprintf("#SBATCH --gres=%s:%d", gres, res.GPUs))
	}
	if j.StdoutPath != "" {
		lines = append(lines, "#SBATCH --output="+j.StdoutPath)
	}
	if j.StderrPath != "" {
		lines = append(lines, "#SBATCH --error="+j.StderrPath)
	}
	lines = append(lines, shell.EnsurePrefix(b.prof.Slurm.ExtraDirectives, "#SBATCH")...)

	lines = append(lines, "")
	if j.Workdir != "" {
		lines = append(lines, "cd "+j.Workdir, "")
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

// partition picks the queue: job request first, then the GPU partition
// when GPUs are asked for, then the site default.
func (b *Backend) partition(res job.ResourceSpec) string {
	if res.Queue != "" {
		return res.Queue
	}
	if res.GPUs > 0 && b.prof.GPU.Queue != "" {
		return b.prof.GPU.Queue
	}
	return b.prof.DefaultQueue
}

func (b *Backend) Submit(ctx context.Context, scriptPath string) (string, error) {
	stdout, stderr, err := b.run(ctx, submitCmd, scriptPath)
	if err != nil {
		return "", apperrors.Submission(b.Name(), fmt.Errorf("sbatch: %s", shell.ErrorText(stderr, err)))
	}
	id := jobIDPattern.FindString(stdout)
	if id == "" {
		return "", apperrors.Submission(b.Name(), fmt.Errorf("no job id in sbatch output %q", stdout))
	}
	return id, nil
}

// Status asks the live queue first; jobs fall out of squeue shortly after
// finishing, so an empty answer falls back to accounting.
func (b *Backend) Status(ctx context.Context, backendID string) (job.State, error) {
	stdout, _, err := b.run(ctx, queueCmd, "-j", backendID, "-h", "-o", "%T")
	if err != nil || stdout == "" {
		if ctx.Err() != nil {
			return job.StateUnknown, ctx.Err()
		}
		return b.accountedState(ctx, backendID), nil
	}
	return queueState(stdout), nil
}

// accountedState consults sacct for a job no longer in the live queue. A
// job absent from accounting too is reported completed; the failure
// detector catches anything that actually went wrong.
func (b *Backend) accountedState(ctx context.Context, backendID string) job.State {
	stdout, _, err := b.run(ctx, acctCmd, "-j", backendID, "-n", "-o", "State", "-P")
	if err != nil || stdout == "" {
		return job.StateCompleted
	}
	for _, line := range strings.Split(stdout, "\n") {
		state := strings.ToUpper(strings.TrimSpace(line))
		if state == "" {
			continue
		}
		switch {
		case strings.Contains(state, "COMPLETED"):
			return job.StateCompleted
		case strings.Contains(state, "FAILED"),
			strings.Contains(state, "CANCELLED"),
			strings.Contains(state, "TIMEOUT"),
			strings.Contains(state, "NODE_FAIL"),
			strings.Contains(state, "OUT_OF_MEMORY"),
			strings.Contains(state, "PREEMPTED"):
			return job.StateFailed
		case strings.Contains(state, "RUNNING"):
			return job.StateRunning
		case strings.Contains(state, "PENDING"):
			return job.StateQueued
		}
	}
	return job.StateCompleted
}

func queueState(raw string) job.State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "SUSPENDED", "CONFIGURING":
		return job.StateQueued
	case "RUNNING", "COMPLETING":
		return job.StateRunning
	case "COMPLETED":
		return job.StateCompleted
	case "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "PREEMPTED", "OUT_OF_MEMORY", "BOOT_FAIL":
		return job.StateFailed
	default:
		return job.StateUnknown
	}
}

func (b *Backend) Cancel(ctx context.Context, backendID string) error {
	_, stderr, err := b.run(ctx, cancelCmd, backendID)
	if err != nil {
		return fmt.Errorf("scancel %s: %s", backendID, shell.ErrorText(stderr, err))
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

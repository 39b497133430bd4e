package slurm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/datatypes"

	"drover/internal/apperrors"
	"drover/internal/job"
	"drover/internal/profile"
)

type response struct {
	stdout string
	stderr string
	err    error
}

// stubbed wires a Backend to canned command responses keyed by tool name.
func stubbed(prof *profile.Profile, responses map[string]response) *Backend {
	b := New(prof)
	b.run = func(_ context.Context, name string, _ ...string) (string, string, error) {
		r, ok := responses[name]
		if !ok {
			return "", "", fmt.Errorf("unexpected command %s", name)
		}
		return r.stdout, r.stderr, r.err
	}
	return b
}

func sampleJob() *job.Job {
	return &job.Job{
		ID:      "a1b2c3d4",
		Name:    "align-reads",
		Command: "bwa mem ref.fa reads.fq > out.sam",
		Workdir: "/scratch/align",
		Resources: datatypes.NewJSONType(job.ResourceSpec{
			Nodes:    2,
			CPUs:     8,
			Memory:   "32G",
			Walltime: "04:00:00",
		}),
		Env:        datatypes.NewJSONType(job.Env{"OMP_NUM_THREADS": "8"}),
		StdoutPath: "/scratch/runs/a1b2c3d4/stdout.log",
		StderrPath: "/scratch/runs/a1b2c3d4/stderr.log",
	}
}

func TestGenerateScript(t *testing.T) {
	t.Parallel()

	prof := &profile.Profile{
		DefaultQueue: "batch",
		Account:      "astro",
		Modules:      []string{"gcc/13.2"},
		Env:          map[string]string{"TMPDIR": "/scratch/tmp"},
	}
	script := New(prof).GenerateScript(sampleJob())

	for _, want := range []string{
		"#!/bin/bash",
		"#SBATCH --job-name=align-reads",
		"#SBATCH --partition=batch",
		"#SBATCH --account=astro",
		"#SBATCH --nodes=2",
		"#SBATCH --ntasks-per-node=8",
		"#SBATCH --mem=32G",
		"#SBATCH --time=04:00:00",
		"#SBATCH --output=/scratch/runs/a1b2c3d4/stdout.log",
		"#SBATCH --error=/scratch/runs/a1b2c3d4/stderr.log",
		"cd /scratch/align",
		"module load gcc/13.2",
		`export OMP_NUM_THREADS="8"`,
		`export TMPDIR="/scratch/tmp"`,
		"bwa mem ref.fa reads.fq > out.sam",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q\n%s", want, script)
		}
	}

	if got := New(prof).GenerateScript(sampleJob()); got != script {
		t.Error("GenerateScript() is not deterministic")
	}
}

func TestGenerateScriptGPU(t *testing.T) {
	t.Parallel()

	prof := &profile.Profile{
		DefaultQueue: "batch",
		GPU: profile.GPU{
			Queue:   "gpu",
			Gres:    "gpu:a100",
			Modules: []string{"cuda/12.3"},
		},
	}
	j := sampleJob()
	j.Resources = datatypes.NewJSONType(job.ResourceSpec{GPUs: 2})

	script := New(prof).GenerateScript(j)
	for _, want := range []string{
		"#SBATCH --partition=gpu",
		"#SBATCH --gres=gpu:a100:2",
		"module load cuda/12.3",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q\n%s", want, script)
		}
	}
}

func TestGenerateScriptDefaults(t *testing.T) {
	t.Parallel()

	j := &job.Job{ID: "x", Name: "tiny", Command: "true"}
	script := New(nil).GenerateScript(j)

	if !strings.Contains(script, "#SBATCH --nodes=1") {
		t.Errorf("script missing default nodes\n%s", script)
	}
	if !strings.Contains(script, "#SBATCH --ntasks-per-node=1") {
		t.Errorf("script missing default cpus\n%s", script)
	}
	if strings.Contains(script, "--partition") {
		t.Errorf("script has a partition with no queue configured\n%s", script)
	}
}

func TestGenerateScriptQueueOverride(t *testing.T) {
	t.Parallel()

	prof := &profile.Profile{DefaultQueue: "batch", GPU: profile.GPU{Queue: "gpu"}}
	j := sampleJob()
	j.Resources = datatypes.NewJSONType(job.ResourceSpec{Queue: "express", GPUs: 1})

	script := New(prof).GenerateScript(j)
	if !strings.Contains(script, "#SBATCH --partition=express") {
		t.Errorf("job queue must beat the GPU partition\n%s", script)
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	b := stubbed(nil, map[string]response{
		submitCmd: {stdout: "Submitted batch job 424242"},
	})
	id, err := b.Submit(context.Background(), "/tmp/job.sh")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id != "424242" {
		t.Errorf("Submit() = %q, want 424242", id)
	}
}

func TestSubmitFailure(t *testing.T) {
	t.Parallel()

	b := stubbed(nil, map[string]response{
		submitCmd: {stderr: "sbatch: error: invalid partition", err: errors.New("exit status 1")},
	})
	_, err := b.Submit(context.Background(), "/tmp/job.sh")
	if !errors.Is(err, apperrors.ErrSubmission) {
		t.Fatalf("Submit() error = %v, want submission error", err)
	}
	if !strings.Contains(err.Error(), "invalid partition") {
		t.Errorf("Submit() error = %v, want stderr detail", err)
	}
}

func TestSubmitUnparsableOutput(t *testing.T) {
	t.Parallel()

	b := stubbed(nil, map[string]response{
		submitCmd: {stdout: "submission accepted"},
	})
	if _, err := b.Submit(context.Background(), "/tmp/job.sh"); !errors.Is(err, apperrors.ErrSubmission) {
		t.Fatalf("Submit() error = %v, want submission error", err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		squeue response
		sacct  response
		want   job.State
	}{
		{"pending in queue", response{stdout: "PENDING"}, response{}, job.StateQueued},
		{"running", response{stdout: "RUNNING"}, response{}, job.StateRunning},
		{"completing counts as running", response{stdout: "COMPLETING"}, response{}, job.StateRunning},
		{"timeout is a failure", response{stdout: "TIMEOUT"}, response{}, job.StateFailed},
		{"odd state is unknown", response{stdout: "SPECIAL_EXIT"}, response{}, job.StateUnknown},
		{
			"fell out of queue, accounting says completed",
			response{err: errors.New("exit status 1")},
			response{stdout: "COMPLETED\nCOMPLETED"},
			job.StateCompleted,
		},
		{
			"accounting cancelled by admin",
			response{stdout: ""},
			response{stdout: "CANCELLED by 1000"},
			job.StateFailed,
		},
		{
			"absent everywhere is completed",
			response{stdout: ""},
			response{stdout: ""},
			job.StateCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := stubbed(nil, map[string]response{
				queueCmd: tt.squeue,
				acctCmd:  tt.sacct,
			})
			got, err := b.Status(context.Background(), "424242")
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := stubbed(nil, map[string]response{
		queueCmd: {err: context.Canceled},
		acctCmd:  {},
	})
	if _, err := b.Status(ctx, "424242"); err == nil {
		t.Fatal("Status() error = nil, want context error")
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	b := stubbed(nil, map[string]response{cancelCmd: {}})
	if err := b.Cancel(context.Background(), "424242"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	b = stubbed(nil, map[string]response{
		cancelCmd: {stderr: "scancel: error: Invalid job id", err: errors.New("exit status 1")},
	})
	if err := b.Cancel(context.Background(), "nope"); err == nil {
		t.Fatal("Cancel() error = nil, want error")
	}
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	b := New(nil)
	b.installed = func(tool string) bool { return tool == submitCmd }
	if !b.Available(context.Background()) {
		t.Error("Available() = false with sbatch installed")
	}

	b.installed = func(string) bool { return false }
	if b.Available(context.Background()) {
		t.Error("Available() = true with nothing installed")
	}
}

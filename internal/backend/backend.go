// Package backend selects and constructs scheduler backends.
package backend

import (
	"context"
	"fmt"

	"drover/internal/apperrors"
	"drover/internal/backend/docker"
	"drover/internal/backend/pbs"
	"drover/internal/backend/slurm"
	"drover/internal/job"
	"drover/internal/profile"
)

// Recognized backend kinds.
const (
	KindAuto   = "auto"
	KindSlurm  = "slurm"
	KindPBS    = "pbs"
	KindDocker = "docker"
)

// New constructs the named backend, auto-detecting when kind is empty
// or "auto".
func New(ctx context.Context, kind string, prof *profile.Profile) (job.Backend, error) {
	switch kind {
	case "", KindAuto:
		return Detect(ctx, prof)
	case KindSlurm:
		return slurm.New(prof), nil
	case KindPBS:
		return pbs.New(prof), nil
	case KindDocker:
		return docker.New(ctx, prof)
	default:
		return nil, apperrors.Validation("backend",
			fmt.Sprintf("unknown backend %q (want %s, %s, %s, or %s)", kind, KindSlurm, KindPBS, KindDocker, KindAuto))
	}
}

// Detect probes for a usable backend in order: SLURM, PBS, then a local
// Docker daemon.
func Detect(ctx context.Context, prof *profile.Profile) (job.Backend, error) {
	if b := slurm.New(prof); b.Available(ctx) {
		return b, nil
	}
	if b := pbs.New(prof); b.Available(ctx) {
		return b, nil
	}
	if b, err := docker.New(ctx, prof); err == nil {
		if b.Available(ctx) {
			return b, nil
		}
		b.Close()
	}
	return nil, apperrors.Validation("backend",
		"no scheduler found: need sbatch or qsub on PATH, or a reachable docker daemon")
}

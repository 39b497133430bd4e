package job

import "context"

// Backend defines the interface for external batch-scheduling systems.
// Implementations translate between a Job and one scheduler product; they
// hold no job state of their own.
//
// # State Management
//
// The Job Store is the SOURCE OF TRUTH for job state. A backend only
// reports the scheduler's current view of a submitted job. This enables:
//
//   - Crash recovery: submitted jobs keep running if the process restarts
//   - Shared pipelines: multiple engine instances can track one store
//   - Simplicity: backends stay stateless command adapters
//
// # Script directives
//
// Everything a scheduler needs beyond the script text itself (resources,
// output paths, queue, account) is carried inside the generated script as
// that scheduler's directive block, which is why Submit takes only a
// script path.
type Backend interface {
	// Name returns the variant name, e.g. "slurm", "pbs", "docker".
	Name() string

	// GenerateScript renders the batch script for a job. Pure and
	// deterministic: the same job always yields identical script text.
	GenerateScript(j *Job) string

	// Submit hands a previously written script to the scheduler and
	// returns the backend-assigned id. Fails with a Submission error on
	// non-zero exit or unparsable scheduler output.
	Submit(ctx context.Context, scriptPath string) (string, error)

	// Status reports the scheduler's view of a submitted job: one of
	// StateQueued, StateRunning, StateCompleted, StateFailed, or
	// StateUnknown. Implementations must consult historical accounting
	// as well as the live queue, since a job may leave the live queue
	// before its terminal state is recorded.
	Status(ctx context.Context, backendID string) (State, error)

	// Cancel asks the scheduler to stop a submitted job.
	Cancel(ctx context.Context, backendID string) error

	// Available reports whether this backend can be used on this host.
	// It is a cheap local probe and must not report false positives.
	Available(ctx context.Context) bool

	// Close releases resources held by the backend.
	// Submitted jobs are NOT stopped; they continue independently.
	Close() error
}

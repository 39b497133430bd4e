// Package job defines the persistent job model, the dependency edge model,
// and the scheduler backend contract shared by every other package.
package job

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// State is the lifecycle state of a job.
type State string

// Lifecycle states. A job is created pending, moves to queued on backend
// submission, to running when the scheduler starts it, and ends in one of
// the terminal states. Unknown is only ever reported by backends, never
// persisted as a job state.
const (
	StatePending   State = "pending"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateUnknown   State = "unknown"
)

// Terminal reports whether no further automatic transitions can occur,
// except retry spawning from a failed state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Active reports whether the job still needs tracking passes.
func (s State) Active() bool {
	switch s {
	case StatePending, StateQueued, StateRunning:
		return true
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateQueued, StateRunning,
		StateCompleted, StateFailed, StateCancelled, StateUnknown:
		return true
	}
	return false
}

// FailureKind classifies why a job failed.
type FailureKind string

const (
	FailureScheduler   FailureKind = "scheduler"    // backend reported a failed state or rejected submission
	FailureExitCode    FailureKind = "exit_code"    // non-zero exit code extracted from captured output
	FailureMissingFile FailureKind = "missing_file" // an expected output file was never produced
	FailureLogError    FailureKind = "log_error"    // non-whitelisted error lines in captured output
	FailureOOM         FailureKind = "oom"          // log errors carrying an out-of-memory signature
)

// EdgeKind is the condition under which a dependency edge is satisfied.
type EdgeKind string

const (
	AfterOK   EdgeKind = "after_ok"   // predecessor completed
	AfterFail EdgeKind = "after_fail" // predecessor failed with retries exhausted
	AfterAny  EdgeKind = "after_any"  // predecessor reached any terminal state
)

// Valid reports whether k is a known edge kind.
func (k EdgeKind) Valid() bool {
	switch k {
	case AfterOK, AfterFail, AfterAny:
		return true
	}
	return false
}

// ResourceSpec is the resource request translated into backend directives.
type ResourceSpec struct {
	Nodes    int    `json:"nodes"`
	CPUs     int    `json:"cpus"`
	GPUs     int    `json:"gpus"`
	Memory   string `json:"memory"`
	Walltime string `json:"walltime"`
	Queue    string `json:"queue,omitempty"`
	Account  string `json:"account,omitempty"`
}

// Job is one unit of work, persisted as a row in the jobs table. Complex
// fields are serialized as JSON inside typed columns. Nullable columns use
// pointers so a reloaded job compares field-for-field with the original.
type Job struct {
	ID            string                            `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Name          string                            `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Command       string                            `gorm:"column:command;type:text;not null" json:"command"`
	Workdir       string                            `gorm:"column:workdir;type:text" json:"workdir"`
	RunDir        string                            `gorm:"column:run_dir;type:text" json:"run_dir"`
	StdoutPath    string                            `gorm:"column:stdout_path;type:text" json:"stdout_path"`
	StderrPath    string                            `gorm:"column:stderr_path;type:text" json:"stderr_path"`
	Resources     datatypes.JSONType[ResourceSpec]  `gorm:"column:resources" json:"resources"`
	Env           datatypes.JSONType[Env]           `gorm:"column:env" json:"env"`
	ExpectedFiles datatypes.JSONSlice[string]       `gorm:"column:expected_files" json:"expected_files"`
	State         State                             `gorm:"column:state;type:varchar(16);index:idx_jobs_state" json:"state"`
	Backend       string                            `gorm:"column:backend;type:varchar(32)" json:"backend,omitempty"`
	BackendID     *string                           `gorm:"column:backend_id;type:varchar(128);index:idx_jobs_backend_id" json:"backend_id,omitempty"`
	ExitCode      *int                              `gorm:"column:exit_code" json:"exit_code,omitempty"`
	FailureKind   FailureKind                       `gorm:"column:failure_kind;type:varchar(32)" json:"failure_kind,omitempty"`
	FailureReason string                            `gorm:"column:failure_reason;type:text" json:"failure_reason,omitempty"`
	ErrorLines    datatypes.JSONSlice[string]       `gorm:"column:error_lines" json:"error_lines,omitempty"`
	RetryCount    int                               `gorm:"column:retry_count" json:"retry_count"`
	MaxRetries    int                               `gorm:"column:max_retries" json:"max_retries"`
	ParentID      *string                           `gorm:"column:parent_id;type:varchar(64);index:idx_jobs_parent_id" json:"parent_id,omitempty"`
	CreatedAt     time.Time                         `gorm:"column:created_at;index:idx_jobs_created_at" json:"created_at"`
	SubmittedAt   *time.Time                        `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	StartedAt     *time.Time                        `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time                        `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// Env is a job's environment variable mapping.
type Env map[string]string

// TableName implements gorm's table naming.
func (Job) TableName() string { return "jobs" }

// ScriptPath returns the batch script location inside the run directory.
func (j *Job) ScriptPath() string {
	if j.RunDir == "" {
		return ""
	}
	return filepath.Join(j.RunDir, "job.sh")
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool { return j.State.Terminal() }

// RetriesExhausted reports whether the automatic retry budget is spent.
func (j *Job) RetriesExhausted() bool { return j.RetryCount >= j.MaxRetries }

// Edge is one dependency edge: JobID runs only after DependsOn reaches the
// terminal outcome selected by Kind. The composite primary key makes edge
// insertion idempotent.
type Edge struct {
	JobID     string    `gorm:"column:job_id;primaryKey;type:varchar(64)" json:"job_id"`
	DependsOn string    `gorm:"column:depends_on;primaryKey;type:varchar(64)" json:"depends_on"`
	Kind      EdgeKind  `gorm:"column:kind;primaryKey;type:varchar(16)" json:"kind"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName implements gorm's table naming.
func (Edge) TableName() string { return "dependencies" }

// NewID returns a short, globally unique job id.
func NewID() string {
	return uuid.New().String()[:8]
}

// Updates is a partial field set applied atomically by the store: every
// non-nil field lands in a single UPDATE statement, so a state transition
// and its timestamp are never observed apart.
type Updates struct {
	State         *State
	BackendID     *string
	ExitCode      *int
	FailureKind   *FailureKind
	FailureReason *string
	ErrorLines    []string
	SubmittedAt   *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Columns renders the populated fields as gorm update columns.
func (u Updates) Columns() map[string]any {
	cols := make(map[string]any)
	if u.State != nil {
		cols["state"] = *u.State
	}
	if u.BackendID != nil {
		cols["backend_id"] = *u.BackendID
	}
	if u.ExitCode != nil {
		cols["exit_code"] = *u.ExitCode
	}
	if u.FailureKind != nil {
		cols["failure_kind"] = *u.FailureKind
	}
	if u.FailureReason != nil {
		cols["failure_reason"] = *u.FailureReason
	}
	if u.ErrorLines != nil {
		cols["error_lines"] = datatypes.JSONSlice[string](u.ErrorLines)
	}
	if u.SubmittedAt != nil {
		cols["submitted_at"] = *u.SubmittedAt
	}
	if u.StartedAt != nil {
		cols["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	return cols
}

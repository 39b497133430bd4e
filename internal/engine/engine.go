// Package engine sequences the orchestration loop: it persists submitted
// jobs, resolves dependency edges, drives scheduler submission, polls
// backend state, classifies failures, and spawns retries. All state lives
// in the store, so any number of engine instances can share one pipeline
// and a restarted process picks up exactly where it left off.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/benbjohnson/clock"
	"gorm.io/datatypes"

	"drover/internal/apperrors"
	"drover/internal/failure"
	"drover/internal/job"
	"drover/internal/observability"
	"drover/internal/store"
)

// Validation limits
const (
	maxIDLength       = 64
	maxNameLength     = 255
	maxCommandLength  = 8192
	maxEnvEntries     = 64
	maxEnvKeyLength   = 128
	maxEnvValueLength = 2048
	maxExpectedFiles  = 64
	maxDependencies   = 64
	maxNodes          = 1024
	maxCPUsPerNode    = 256
	maxGPUsPerNode    = 16
	maxRetryBudget    = 10
)

const defaultMonitorInterval = 30 * time.Second

// jobIDPattern allows alphanumeric, hyphens, and underscores
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Config holds the engine's collaborators and policy knobs.
type Config struct {
	Store             *store.Store           // job store (required)
	Backend           job.Backend            // scheduler backend (required)
	Detector          *failure.Detector      // failure detector (required)
	WorkRoot          string                 // parent of per-job run directories (default "drover-work")
	DefaultMaxRetries int                    // retry budget applied when a request leaves it unset
	Clock             clock.Clock            // injectable clock (default wall clock)
	Notifier          *Notifier              // lifecycle webhook notifier (optional)
	Metrics           *observability.Metrics // metrics recorder (optional)
}

// Engine is the orchestration loop. Every method is synchronous and safe
// for concurrent use; Monitor is the only call that blocks between passes.
type Engine struct {
	store    *store.Store
	backend  job.Backend
	detector *failure.Detector
	notifier *Notifier
	metrics  *observability.Metrics
	clock    clock.Clock

	workRoot          string
	defaultMaxRetries int
}

// New creates an engine and ensures its work root exists.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}

	workRoot := cfg.WorkRoot
	if workRoot == "" {
		workRoot = "drover-work"
	}
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Engine{
		store:             cfg.Store,
		backend:           cfg.Backend,
		detector:          cfg.Detector,
		notifier:          cfg.Notifier,
		metrics:           cfg.Metrics,
		clock:             clk,
		workRoot:          workRoot,
		defaultMaxRetries: cfg.DefaultMaxRetries,
	}, nil
}

// SubmitRequest describes one job to orchestrate.
type SubmitRequest struct {
	ID            string            `json:"id,omitempty"`
	Name          string            `json:"name,omitempty"`
	Command       string            `json:"command"`
	Workdir       string            `json:"workdir,omitempty"`
	Resources     job.ResourceSpec  `json:"resources"`
	Env           map[string]string `json:"env,omitempty"`
	ExpectedFiles []string          `json:"expected_files,omitempty"`
	MaxRetries    *int              `json:"max_retries,omitempty"`
	Dependencies  []DependencySpec  `json:"dependencies,omitempty"`
}

// DependencySpec names one predecessor edge of a submitted job.
type DependencySpec struct {
	JobID string       `json:"job_id"`
	Kind  job.EdgeKind `json:"kind,omitempty"`
}

// TrackResult reports what one tracking pass did.
type TrackResult struct {
	Job       *job.Job `json:"job"`
	Spawned   []string `json:"spawned,omitempty"`   // retry spawns created during the pass
	Submitted []string `json:"submitted,omitempty"` // pending dependents dispatched during the pass
}

// Submit validates and persists a new job with its dependency edges, then
// immediately attempts resolution, so a job whose dependencies are already
// satisfied (or absent) goes straight to the backend. The returned job
// reflects the state after that first resolution attempt.
func (e *Engine) Submit(ctx context.Context, req *SubmitRequest) (*job.Job, error) {
	e.applyDefaults(req)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	j := &job.Job{
		ID:            req.ID,
		Name:          req.Name,
		Command:       req.Command,
		Workdir:       req.Workdir,
		Resources:     datatypes.NewJSONType(req.Resources),
		Env:           datatypes.NewJSONType(job.Env(req.Env)),
		ExpectedFiles: datatypes.JSONSlice[string](req.ExpectedFiles),
		State:         job.StatePending,
		Backend:       e.backend.Name(),
		MaxRetries:    *req.MaxRetries,
		CreatedAt:     now,
	}
	e.assignRunDir(j)
	if j.Workdir == "" {
		j.Workdir = j.RunDir
	}

	edges := make([]job.Edge, 0, len(req.Dependencies))
	for _, d := range req.Dependencies {
		edges = append(edges, job.Edge{JobID: j.ID, DependsOn: d.JobID, Kind: d.Kind, CreatedAt: now})
	}

	if err := e.store.Create(ctx, j, edges); err != nil {
		return nil, err
	}
	e.ensureRunDir(j)

	slog.Info("Job accepted", "jobId", j.ID, "name", j.Name, "dependencies", len(edges))

	ready, err := e.eligible(ctx, j)
	if err != nil {
		return nil, err
	}
	if ready {
		res := &TrackResult{}
		if err := e.dispatch(ctx, j, res); err != nil {
			return nil, err
		}
	}
	return e.store.Get(ctx, j.ID)
}

// Track runs one non-blocking pass over a single job: a pending job is
// re-checked for readiness and dispatched when eligible, a queued or
// running job is polled against the backend, and a job found terminal has
// its retry spawning and dependent resolution re-applied, which makes the
// pass safe to repeat after a crash between the terminal write and its
// follow-up work.
func (e *Engine) Track(ctx context.Context, id string) (*TrackResult, error) {
	j, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &TrackResult{}
	switch j.State {
	case job.StatePending:
		ready, err := e.eligible(ctx, j)
		if err != nil {
			return nil, err
		}
		if ready {
			if err := e.dispatch(ctx, j, res); err != nil {
				return nil, err
			}
		}
	case job.StateQueued, job.StateRunning:
		if err := e.poll(ctx, j, res); err != nil {
			return nil, err
		}
	default:
		if err := e.afterTerminal(ctx, j, res); err != nil {
			return nil, err
		}
	}

	fresh, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res.Job = fresh
	return res, nil
}

// MonitorResult is the final observation per tracked job id.
type MonitorResult struct {
	Jobs map[string]*job.Job
	Done bool // every tracked job reached a terminal state
}

// Monitor repeatedly tracks the given jobs, plus any retry spawns and
// triggered dependents discovered along the way, until all of them are
// terminal or ctx expires. Cancellation is checked only between passes; an
// in-flight pass always finishes, and on expiry the partial results are
// returned without error.
func (e *Engine) Monitor(ctx context.Context, ids []string, interval time.Duration) (*MonitorResult, error) {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}

	seen := make(map[string]bool, len(ids))
	active := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			active = append(active, id)
		}
	}

	out := &MonitorResult{Jobs: make(map[string]*job.Job, len(active))}
	for {
		if ctx.Err() != nil {
			return out, nil
		}
		passCtx := context.WithoutCancel(ctx)

		var still []string
		add := func(id string) {
			if !seen[id] {
				seen[id] = true
				still = append(still, id)
			}
		}
		for _, id := range active {
			tr, err := e.Track(passCtx, id)
			if err != nil {
				return out, err
			}
			out.Jobs[id] = tr.Job
			for _, nid := range tr.Spawned {
				add(nid)
			}
			for _, nid := range tr.Submitted {
				add(nid)
			}
			if !tr.Job.Terminal() {
				still = append(still, id)
			}
		}
		active = still

		if len(active) == 0 {
			out.Done = true
			return out, nil
		}

		timer := e.clock.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Retry manually respawns a failed job. Unlike the automatic path it works
// even when the retry budget is exhausted; the spawn's budget is lifted to
// its own attempt count when necessary.
func (e *Engine) Retry(ctx context.Context, id string) (*job.Job, error) {
	j, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateFailed {
		return nil, apperrors.Conflict("job", id, fmt.Sprintf("job %s is %s, only failed jobs can be retried", id, j.State))
	}

	res := &TrackResult{}
	spawn, err := e.spawnRetry(ctx, j, true, res)
	if err != nil {
		return nil, err
	}
	return e.store.Get(ctx, spawn.ID)
}

// Cancel stops a job. A submitted job is cancelled on the backend first;
// the record then moves to cancelled and dependents are resolved, so
// after_any edges on it fire.
func (e *Engine) Cancel(ctx context.Context, id string) (*job.Job, error) {
	j, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Terminal() {
		return nil, apperrors.Conflict("job", id, fmt.Sprintf("job %s is already %s", id, j.State))
	}

	if j.BackendID != nil {
		if err := e.backend.Cancel(ctx, *j.BackendID); err != nil {
			return nil, err
		}
	}

	now := e.clock.Now().UTC()
	cancelled := job.StateCancelled
	if err := e.store.Update(ctx, id, job.Updates{State: &cancelled, CompletedAt: &now}); err != nil {
		return nil, err
	}
	j.State = cancelled
	j.CompletedAt = &now

	slog.Info("Job cancelled", "jobId", id)
	e.notifier.JobCancelled(j)
	e.recordFinished(ctx, j, cancelled, now)

	res := &TrackResult{}
	if err := e.afterTerminal(ctx, j, res); err != nil {
		return nil, err
	}
	return e.store.Get(ctx, id)
}

// Info returns one job.
func (e *Engine) Info(ctx context.Context, id string) (*job.Job, error) {
	return e.store.Get(ctx, id)
}

// List returns jobs, newest first, optionally narrowed by state.
func (e *Engine) List(ctx context.Context, states []job.State, limit int) ([]job.Job, error) {
	return e.store.List(ctx, store.Filter{States: states, NewestFirst: true, Limit: limit})
}

// Sweep runs one tracking pass over every live job and returns how many
// passes succeeded. Per-job failures are logged and skipped so one broken
// job cannot stall the rest of the pipeline.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	jobs, err := e.store.List(ctx, store.Filter{
		States: []job.State{job.StatePending, job.StateQueued, job.StateRunning},
	})
	if err != nil {
		return 0, err
	}

	tracked := 0
	for i := range jobs {
		if ctx.Err() != nil {
			return tracked, nil
		}
		if _, err := e.Track(ctx, jobs[i].ID); err != nil {
			slog.Warn("Tracking pass failed", "jobId", jobs[i].ID, "error", err)
			continue
		}
		tracked++
	}
	return tracked, nil
}

// Cleanup deletes a terminal job's record and every edge touching it, and
// optionally its run directory. Live jobs are refused; historical failure
// data is otherwise never removed implicitly.
func (e *Engine) Cleanup(ctx context.Context, id string, removeFiles bool) error {
	j, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !j.Terminal() {
		return apperrors.Conflict("job", id, fmt.Sprintf("job %s is %s, only terminal jobs can be cleaned up", id, j.State))
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	if removeFiles && j.RunDir != "" {
		if err := os.RemoveAll(j.RunDir); err != nil {
			slog.Warn("Failed to remove run directory", "jobId", id, "runDir", j.RunDir, "error", err)
		}
	}
	slog.Info("Job record removed", "jobId", id, "files", removeFiles)
	return nil
}

// stateSnapshot is the export document layout.
type stateSnapshot struct {
	ExportedAt time.Time `json:"exported_at"`
	TotalJobs  int       `json:"total_jobs"`
	Jobs       []job.Job `json:"jobs"`
}

// Export writes a read-only snapshot of every job as an indented JSON
// document.
func (e *Engine) Export(ctx context.Context, w io.Writer) error {
	jobs, err := e.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	doc := stateSnapshot{
		ExportedAt: e.clock.Now().UTC(),
		TotalJobs:  len(jobs),
		Jobs:       jobs,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Ready reports whether the store and the backend are both reachable.
func (e *Engine) Ready(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if !e.backend.Available(ctx) {
		return fmt.Errorf("backend %s is not available", e.backend.Name())
	}
	return nil
}

// Close releases the backend and the store.
func (e *Engine) Close() error {
	return errors.Join(e.backend.Close(), e.store.Close())
}

// applyDefaults fills unset request fields before validation.
func (e *Engine) applyDefaults(req *SubmitRequest) {
	if req.ID == "" {
		req.ID = job.NewID()
	}
	if req.Name == "" {
		req.Name = req.ID
	}
	if req.Resources.Nodes <= 0 {
		req.Resources.Nodes = 1
	}
	if req.Resources.CPUs <= 0 {
		req.Resources.CPUs = 1
	}
	if req.Resources.Memory == "" {
		req.Resources.Memory = "4GB"
	}
	if req.Resources.Walltime == "" {
		req.Resources.Walltime = "01:00:00"
	}
	if req.MaxRetries == nil {
		budget := e.defaultMaxRetries
		req.MaxRetries = &budget
	}
	for i := range req.Dependencies {
		if req.Dependencies[i].Kind == "" {
			req.Dependencies[i].Kind = job.AfterOK
		}
	}
}

// validateRequest validates a submit request. Does not modify the request.
func validateRequest(req *SubmitRequest) error {
	if len(req.ID) > maxIDLength {
		return apperrors.Validation("id", fmt.Sprintf("job ID exceeds maximum length of %d", maxIDLength))
	}
	if !jobIDPattern.MatchString(req.ID) {
		return apperrors.Validation("id", "job ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	if len(req.Name) > maxNameLength {
		return apperrors.Validation("name", fmt.Sprintf("name exceeds maximum length of %d", maxNameLength))
	}
	if req.Command == "" {
		return apperrors.Validation("command", "command is required")
	}
	if len(req.Command) > maxCommandLength {
		return apperrors.Validation("command", fmt.Sprintf("command exceeds maximum length of %d", maxCommandLength))
	}

	if req.Resources.Nodes > maxNodes {
		return apperrors.Validation("resources.nodes", fmt.Sprintf("nodes exceed maximum of %d", maxNodes))
	}
	if req.Resources.CPUs > maxCPUsPerNode {
		return apperrors.Validation("resources.cpus", fmt.Sprintf("cpus exceed maximum of %d per node", maxCPUsPerNode))
	}
	if req.Resources.GPUs < 0 || req.Resources.GPUs > maxGPUsPerNode {
		return apperrors.Validation("resources.gpus", fmt.Sprintf("gpus must be between 0 and %d", maxGPUsPerNode))
	}

	if len(req.Env) > maxEnvEntries {
		return apperrors.Validation("env", fmt.Sprintf("environment exceeds maximum of %d entries", maxEnvEntries))
	}
	for k, v := range req.Env {
		if k == "" || len(k) > maxEnvKeyLength {
			return apperrors.Validation("env", fmt.Sprintf("environment keys must be 1-%d characters", maxEnvKeyLength))
		}
		if len(v) > maxEnvValueLength {
			return apperrors.Validation("env", fmt.Sprintf("environment value for %s exceeds maximum length of %d", k, maxEnvValueLength))
		}
	}

	if len(req.ExpectedFiles) > maxExpectedFiles {
		return apperrors.Validation("expected_files", fmt.Sprintf("expected files exceed maximum of %d", maxExpectedFiles))
	}
	for _, p := range req.ExpectedFiles {
		if p == "" {
			return apperrors.Validation("expected_files", "expected file patterns must not be empty")
		}
	}

	if *req.MaxRetries < 0 || *req.MaxRetries > maxRetryBudget {
		return apperrors.Validation("max_retries", fmt.Sprintf("max_retries must be between 0 and %d", maxRetryBudget))
	}

	if len(req.Dependencies) > maxDependencies {
		return apperrors.Validation("dependencies", fmt.Sprintf("dependencies exceed maximum of %d", maxDependencies))
	}
	for _, d := range req.Dependencies {
		if d.JobID == "" {
			return apperrors.Validation("dependencies", "dependency job_id is required")
		}
		if !d.Kind.Valid() {
			return apperrors.Validation("dependencies", fmt.Sprintf("unknown dependency kind %q", d.Kind))
		}
	}
	return nil
}

// assignRunDir gives a job its exclusive run directory and output paths.
func (e *Engine) assignRunDir(j *job.Job) {
	j.RunDir = filepath.Join(e.workRoot, j.ID)
	j.StdoutPath = filepath.Join(j.RunDir, "stdout.log")
	j.StderrPath = filepath.Join(j.RunDir, "stderr.log")
}

// ensureRunDir creates the run directory; launch repeats the attempt, so a
// failure here only costs the caller early visibility of the directory.
func (e *Engine) ensureRunDir(j *job.Job) {
	if err := os.MkdirAll(j.RunDir, 0o755); err != nil {
		slog.Warn("Failed to create run directory", "jobId", j.ID, "runDir", j.RunDir, "error", err)
	}
}

// launch writes the batch script and hands the job to the backend,
// recording the backend id and submission time on success.
func (e *Engine) launch(ctx context.Context, j *job.Job) error {
	if err := os.MkdirAll(j.RunDir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	script := e.backend.GenerateScript(j)
	if err := os.WriteFile(j.ScriptPath(), []byte(script), 0o755); err != nil {
		return fmt.Errorf("failed to write batch script: %w", err)
	}

	backendID, err := e.backend.Submit(ctx, j.ScriptPath())
	if err != nil {
		return err
	}

	now := e.clock.Now().UTC()
	queued := job.StateQueued
	if err := e.store.Update(ctx, j.ID, job.Updates{State: &queued, BackendID: &backendID, SubmittedAt: &now}); err != nil {
		return err
	}
	j.State = queued
	j.BackendID = &backendID
	j.SubmittedAt = &now
	return nil
}

// dispatch submits an eligible job. A submission failure is not a dispatch
// error: it is recorded on the job as a scheduler failure, which makes it
// retry-eligible like any other failure. Only store errors propagate.
func (e *Engine) dispatch(ctx context.Context, j *job.Job, res *TrackResult) error {
	logger := slog.With("jobId", j.ID, "backend", e.backend.Name())

	if err := e.launch(ctx, j); err != nil {
		if errors.Is(err, apperrors.ErrStore) {
			return err
		}
		logger.Error("Job submission failed", "error", err)

		now := e.clock.Now().UTC()
		failed := job.StateFailed
		kind := job.FailureScheduler
		reason := err.Error()
		if uerr := e.store.Update(ctx, j.ID, job.Updates{
			State:         &failed,
			FailureKind:   &kind,
			FailureReason: &reason,
			CompletedAt:   &now,
		}); uerr != nil {
			return uerr
		}
		j.State = failed
		j.FailureKind = kind
		j.FailureReason = reason
		j.CompletedAt = &now

		e.notifier.JobFailed(j)
		return e.afterTerminal(ctx, j, res)
	}

	logger.Info("Job submitted", "backendId", *j.BackendID)
	if e.metrics != nil {
		e.metrics.RecordJobSubmitted(ctx, e.backend.Name())
	}
	e.notifier.JobSubmitted(j)
	return nil
}

// poll refreshes a submitted job from the backend and persists any
// transition. An unknown report leaves the stored state untouched.
func (e *Engine) poll(ctx context.Context, j *job.Job, res *TrackResult) error {
	if j.BackendID == nil {
		return apperrors.Internal("engine.poll", fmt.Errorf("job %s is %s with no backend id", j.ID, j.State))
	}

	reported, err := e.backend.Status(ctx, *j.BackendID)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordBackendPoll(ctx, e.backend.Name(), string(reported))
	}

	switch reported {
	case job.StateRunning:
		if j.State == job.StateRunning {
			return nil
		}
		now := e.clock.Now().UTC()
		running := job.StateRunning
		if err := e.store.Update(ctx, j.ID, job.Updates{State: &running, StartedAt: &now}); err != nil {
			return err
		}
		j.State = running
		j.StartedAt = &now
		slog.Info("Job started", "jobId", j.ID)
		e.notifier.JobStarted(j)
	case job.StateCompleted, job.StateFailed:
		return e.finalize(ctx, j, reported, res)
	}
	return nil
}

// finalize persists the failure detector's verdict together with the
// terminal transition, then spawns a retry or resolves dependents.
func (e *Engine) finalize(ctx context.Context, j *job.Job, reported job.State, res *TrackResult) error {
	v := e.detector.Detect(j, reported)

	now := e.clock.Now().UTC()
	state := job.StateCompleted
	if v.Failed {
		state = job.StateFailed
	}
	u := job.Updates{State: &state, CompletedAt: &now, ExitCode: v.ExitCode, ErrorLines: v.Lines}
	if v.Failed {
		u.FailureKind = &v.Kind
		u.FailureReason = &v.Reason
	}
	if err := e.store.Update(ctx, j.ID, u); err != nil {
		return err
	}
	j.State = state
	j.CompletedAt = &now
	j.ExitCode = v.ExitCode
	j.FailureKind = v.Kind
	j.FailureReason = v.Reason
	j.ErrorLines = datatypes.JSONSlice[string](v.Lines)

	if v.Failed {
		slog.Warn("Job failed", "jobId", j.ID, "kind", v.Kind, "reason", v.Reason)
		e.notifier.JobFailed(j)
	} else {
		slog.Info("Job completed", "jobId", j.ID)
		e.notifier.JobCompleted(j)
	}
	e.recordFinished(ctx, j, state, now)

	return e.afterTerminal(ctx, j, res)
}

// afterTerminal applies the follow-up work a terminal state owes: a failed
// job with budget left gets a retry spawn, and otherwise the job's final
// outcome triggers dependent resolution for it and its retry ancestors.
// The work is idempotent, so re-tracking a terminal job repairs a pass
// interrupted between the terminal write and this step.
func (e *Engine) afterTerminal(ctx context.Context, j *job.Job, res *TrackResult) error {
	if j.State == job.StateFailed && !j.RetriesExhausted() {
		existing, err := e.store.List(ctx, store.Filter{ParentID: &j.ID, Limit: 1})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil // retry already underway
		}
		_, err = e.spawnRetry(ctx, j, false, res)
		return err
	}

	for cur := j; ; {
		if err := e.resolveDependents(ctx, cur.ID, res); err != nil {
			return err
		}
		if cur.ParentID == nil {
			return nil
		}
		parent, err := e.store.Get(ctx, *cur.ParentID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil
			}
			return err
		}
		cur = parent
	}
}

// spawnRetry creates and dispatches a fresh attempt of a failed job. The
// spawn is a new record with its own run directory, linked to the attempt
// it retries; the parent's failure record stays intact for the audit
// trail. A manual spawn may exceed the parent's budget, so its budget is
// lifted to keep retry_count <= max_retries.
func (e *Engine) spawnRetry(ctx context.Context, parent *job.Job, manual bool, res *TrackResult) (*job.Job, error) {
	spawn := &job.Job{
		ID:            job.NewID(),
		Name:          parent.Name,
		Command:       parent.Command,
		Workdir:       parent.Workdir,
		Resources:     parent.Resources,
		Env:           parent.Env,
		ExpectedFiles: parent.ExpectedFiles,
		State:         job.StatePending,
		Backend:       e.backend.Name(),
		RetryCount:    parent.RetryCount + 1,
		MaxRetries:    parent.MaxRetries,
		ParentID:      &parent.ID,
		CreatedAt:     e.clock.Now().UTC(),
	}
	if spawn.MaxRetries < spawn.RetryCount {
		spawn.MaxRetries = spawn.RetryCount
	}
	e.assignRunDir(spawn)
	if spawn.Workdir == parent.RunDir {
		spawn.Workdir = spawn.RunDir
	}

	if err := e.store.Create(ctx, spawn, nil); err != nil {
		return nil, err
	}
	e.ensureRunDir(spawn)
	res.Spawned = append(res.Spawned, spawn.ID)

	slog.Info("Retrying job",
		"jobId", parent.ID, "spawnId", spawn.ID,
		"attempt", spawn.RetryCount, "maxRetries", spawn.MaxRetries, "manual", manual)
	if e.metrics != nil {
		e.metrics.RecordJobRetried(ctx, e.backend.Name())
	}
	e.notifier.JobRetried(parent, spawn)

	// A spawn carries no edges of its own: the attempt it replaces already
	// had its dependencies satisfied.
	if err := e.dispatch(ctx, spawn, res); err != nil {
		return nil, err
	}
	return spawn, nil
}

// recordFinished emits the finished-job metrics for jobs that reached the
// backend; a job that failed before submission has no execution to time.
func (e *Engine) recordFinished(ctx context.Context, j *job.Job, state job.State, now time.Time) {
	if e.metrics == nil || j.SubmittedAt == nil {
		return
	}
	start := *j.SubmittedAt
	if j.StartedAt != nil {
		start = *j.StartedAt
	}
	e.metrics.RecordJobFinished(ctx, e.backend.Name(), string(state), now.Sub(start).Seconds())
}

package engine

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"drover/internal/dispatcher"
	"drover/internal/job"
	"drover/pkg/cloudevent"
)

// Event types for job lifecycle webhooks
const (
	EventTypeSubmitted = "drover.job.submitted"
	EventTypeStarted   = "drover.job.started"
	EventTypeCompleted = "drover.job.completed"
	EventTypeFailed    = "drover.job.failed"
	EventTypeRetried   = "drover.job.retried"
	EventTypeCancelled = "drover.job.cancelled"
)

const eventSource = "drover"

// Notifier turns job lifecycle transitions into CloudEvents and hands them
// to the async dispatcher. Delivery is best-effort and never blocks or
// fails orchestration; a nil Notifier is a no-op, so callers do not guard.
type Notifier struct {
	dispatcher dispatcher.Dispatcher
	url        string
	secret     string
}

// NewNotifier creates a notifier delivering to the given endpoint. secret,
// when non-empty, enables HMAC signing of each delivery.
func NewNotifier(d dispatcher.Dispatcher, url, secret string) *Notifier {
	return &Notifier{dispatcher: d, url: url, secret: secret}
}

// JobSubmitted reports a job accepted by the backend.
func (n *Notifier) JobSubmitted(j *job.Job) {
	n.notify(EventTypeSubmitted, j, nil)
}

// JobStarted reports a job observed running for the first time.
func (n *Notifier) JobStarted(j *job.Job) {
	n.notify(EventTypeStarted, j, nil)
}

// JobCompleted reports a clean terminal state.
func (n *Notifier) JobCompleted(j *job.Job) {
	extra := map[string]any{}
	if j.ExitCode != nil {
		extra["exit_code"] = *j.ExitCode
	}
	n.notify(EventTypeCompleted, j, extra)
}

// JobFailed reports a failed terminal state with its classification.
func (n *Notifier) JobFailed(j *job.Job) {
	extra := map[string]any{
		"failure_kind":   string(j.FailureKind),
		"failure_reason": j.FailureReason,
	}
	if j.ExitCode != nil {
		extra["exit_code"] = *j.ExitCode
	}
	n.notify(EventTypeFailed, j, extra)
}

// JobRetried reports a retry spawn; the event subject is the new attempt.
func (n *Notifier) JobRetried(parent, spawn *job.Job) {
	n.notify(EventTypeRetried, spawn, map[string]any{
		"parent_id":   parent.ID,
		"attempt":     spawn.RetryCount,
		"max_retries": spawn.MaxRetries,
	})
}

// JobCancelled reports an administrative cancellation.
func (n *Notifier) JobCancelled(j *job.Job) {
	n.notify(EventTypeCancelled, j, nil)
}

func (n *Notifier) notify(eventType string, j *job.Job, extra map[string]any) {
	if n == nil || n.dispatcher == nil || n.url == "" {
		return
	}

	data := map[string]any{
		"job_id":  j.ID,
		"name":    j.Name,
		"state":   string(j.State),
		"backend": j.Backend,
	}
	if j.BackendID != nil {
		data["backend_id"] = *j.BackendID
	}
	for k, v := range extra {
		data[k] = v
	}

	eventID := fmt.Sprintf("%s-%s", j.ID, uuid.NewString()[:8])
	ev := cloudevent.New(eventType, eventSource, j.ID, eventID, data)
	err := n.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     ev,
		Destination: n.url,
		SigningKey:  n.secret,
	})
	if err != nil {
		slog.Warn("Lifecycle event dropped", "jobId", j.ID, "type", eventType, "error", err)
	}
}

package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"drover/internal/dispatcher"
	"drover/internal/job"
)

// captureDispatcher records events instead of delivering them.
type captureDispatcher struct {
	mu     sync.Mutex
	events []*dispatcher.Event
}

func (c *captureDispatcher) Dispatch(e *dispatcher.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureDispatcher) Stats() dispatcher.Stats { return dispatcher.Stats{} }

func (c *captureDispatcher) Close(ctx context.Context) error { return nil }

func (c *captureDispatcher) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Payload.Type
	}
	return out
}

func (c *captureDispatcher) at(i int) *dispatcher.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func withNotifier(sink *captureDispatcher) func(*Config) {
	return func(c *Config) {
		c.Notifier = NewNotifier(sink, "http://hooks.test/drover", "hook-secret")
	}
}

func TestLifecycleEvents(t *testing.T) {
	t.Parallel()
	sink := &captureDispatcher{}
	eng, fb, _ := testEngine(t, withNotifier(sink))

	a := mustSubmit(t, eng, &SubmitRequest{ID: "a", Command: "work"})
	fb.report(backendID(t, a), job.StateRunning, job.StateCompleted)
	mustTrack(t, eng, "a")
	mustTrack(t, eng, "a")

	want := []string{EventTypeSubmitted, EventTypeStarted, EventTypeCompleted}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}

	ev := sink.at(0)
	if ev.Destination != "http://hooks.test/drover" || ev.SigningKey != "hook-secret" {
		t.Errorf("delivery target = %s signed=%q", ev.Destination, ev.SigningKey)
	}
	if ev.Payload.Subject != "a" || ev.Payload.Source != "drover" {
		t.Errorf("payload subject=%s source=%s", ev.Payload.Subject, ev.Payload.Source)
	}
	if !strings.HasPrefix(ev.Payload.ID, "a-") {
		t.Errorf("event id = %s, want job-id prefix", ev.Payload.ID)
	}
	if ev.Payload.Data["job_id"] != "a" || ev.Payload.Data["backend_id"] != "fake-1" {
		t.Errorf("payload data = %v", ev.Payload.Data)
	}

	final := sink.at(2)
	if final.Payload.Data["state"] != "completed" {
		t.Errorf("completed event state = %v", final.Payload.Data["state"])
	}
}

func TestRetryEvents(t *testing.T) {
	t.Parallel()
	sink := &captureDispatcher{}
	eng, fb, _ := testEngine(t, withNotifier(sink))

	a := mustSubmit(t, eng, &SubmitRequest{ID: "a", Command: "flaky", MaxRetries: intPtr(1)})
	fb.report(backendID(t, a), job.StateFailed)
	res := mustTrack(t, eng, "a")

	want := []string{EventTypeSubmitted, EventTypeFailed, EventTypeRetried, EventTypeSubmitted}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}

	failed := sink.at(1)
	if failed.Payload.Data["failure_kind"] != "scheduler" {
		t.Errorf("failure_kind = %v", failed.Payload.Data["failure_kind"])
	}

	retried := sink.at(2)
	if retried.Payload.Subject != res.Spawned[0] {
		t.Errorf("retried subject = %s, want spawn %s", retried.Payload.Subject, res.Spawned[0])
	}
	if retried.Payload.Data["parent_id"] != "a" || retried.Payload.Data["attempt"] != 1 {
		t.Errorf("retried data = %v", retried.Payload.Data)
	}
}

func TestCancelEvent(t *testing.T) {
	t.Parallel()
	sink := &captureDispatcher{}
	eng, _, _ := testEngine(t, withNotifier(sink))

	mustSubmit(t, eng, &SubmitRequest{ID: "a", Command: "sleep 600"})
	if _, err := eng.Cancel(context.Background(), "a"); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}

	got := sink.types()
	if len(got) != 2 || got[1] != EventTypeCancelled {
		t.Fatalf("event types = %v, want submitted then cancelled", got)
	}
}

func TestNotifierDisabledWithoutURL(t *testing.T) {
	t.Parallel()
	sink := &captureDispatcher{}
	eng, _, _ := testEngine(t, func(c *Config) {
		c.Notifier = NewNotifier(sink, "", "")
	})

	mustSubmit(t, eng, &SubmitRequest{ID: "a", Command: "true"})
	mustTrack(t, eng, "a")

	if got := sink.types(); len(got) != 0 {
		t.Errorf("events = %v, want none without a webhook URL", got)
	}
}

// Package dispatcher delivers lifecycle webhooks asynchronously, with
// buffering, retry, and per-destination circuit breaking.
package dispatcher

import (
	"context"
	"errors"

	"drover/pkg/cloudevent"
)

// ErrBufferFull reports that an event was dropped because the queue had
// no room.
var ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

// Dispatcher queues events for delivery off the caller's path.
type Dispatcher interface {
	// Dispatch enqueues an event without blocking. Returns
	// ErrBufferFull when the event cannot be queued.
	Dispatch(event *Event) error

	// Stats returns delivery counters.
	Stats() Stats

	// Close drains the queue, bounded by the context deadline.
	Close(ctx context.Context) error
}

// Event is one webhook to deliver.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // callback URL
	SigningKey  string // HMAC key, empty disables signing
	Signature   string // pre-computed signature, overrides SigningKey
	Requeues    int    // times requeued behind an open circuit
}

// Stats are cumulative delivery counters.
type Stats struct {
	QueueDepth    int
	Queued        int64
	Delivered     int64
	Failed        int64 // failed after retries
	Dropped       int64 // full buffer or requeue budget spent
	Requeued      int64
	RetriesTotal  int64
	BreakersTotal int
	BreakersOpen  int
}

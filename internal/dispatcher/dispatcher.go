// Package dispatcher delivers webhook events asynchronously with buffering,
// retry and a per-host circuit breaker.
package dispatcher

import (
	"context"
	"errors"
	"upgrader/pkg/cloudevent"
)

// ErrBufferFull is returned when the dispatcher's buffer is full and the event is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher handles async delivery of events.
type Dispatcher interface {
	// Dispatch queues an event for async delivery. Non-blocking.
	Dispatch(event *Event) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close stops accepting events and attempts to deliver queued ones until
	// the context is done.
	Close(ctx context.Context) error
}

// Event is a CloudEvent addressed to one webhook endpoint.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // webhook URL
	SigningKey  string // HMAC key, empty = unsigned
	requeues    int
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int
	Queued        int64
	Delivered     int64
	Failed        int64 // failed after retries
	Dropped       int64 // dropped due to full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64
	BreakersTotal int
	BreakersOpen  int
}

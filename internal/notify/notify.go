// Package notify surfaces upgrade results to operators.
package notify

import (
	"context"
	"errors"
	"time"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notification summarises one upgrade run.
type Notification struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	RunID    string    `json:"runId,omitempty"`
	Version  string    `json:"version,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink records notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

type multi []Sink

// Multi fans a notification out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(context.Context, Notification) error { return nil }

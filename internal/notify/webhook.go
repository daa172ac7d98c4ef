package notify

import (
	"context"
	"errors"
	"fmt"
	"upgrader/internal/dispatcher"
	"upgrader/pkg/cloudevent"
)

// CloudEvent types emitted for upgrade results.
const (
	EventSucceeded = "upgrader.upgrade.succeeded"
	EventFailed    = "upgrader.upgrade.failed"
)

// Webhook publishes notifications as CloudEvents to every configured URL
// through the async dispatcher.
type Webhook struct {
	dispatcher dispatcher.Dispatcher
	urls       []string
	signingKey string
	source     string
}

// NewWebhook creates a webhook sink. source identifies this deployment in
// the CloudEvent "source" attribute.
func NewWebhook(d dispatcher.Dispatcher, urls []string, signingKey, source string) *Webhook {
	return &Webhook{
		dispatcher: d,
		urls:       urls,
		signingKey: signingKey,
		source:     source,
	}
}

// Notify dispatches one CloudEvent per configured URL. Delivery is
// asynchronous; only queueing failures are returned.
func (w *Webhook) Notify(_ context.Context, n Notification) error {
	eventType := EventSucceeded
	if n.Severity == SeverityError {
		eventType = EventFailed
	}

	data := map[string]any{
		"severity": string(n.Severity),
		"message":  n.Message,
		"version":  n.Version,
		"runId":    n.RunID,
	}

	var errs []error
	for _, url := range w.urls {
		// Each destination gets its own event so retries and requeues stay independent.
		event := cloudevent.New(eventType, w.source, n.RunID, data)
		event.Time = n.Time.UTC()
		if err := w.dispatcher.Dispatch(&dispatcher.Event{
			Payload:     event,
			Destination: url,
			SigningKey:  w.signingKey,
		}); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

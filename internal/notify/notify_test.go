package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"upgrader/internal/dispatcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlash_DrainClears(t *testing.T) {
	t.Parallel()
	f := NewFlash(10)
	ctx := context.Background()

	require.NoError(t, f.Notify(ctx, Notification{Severity: SeverityError, Message: "first"}))
	require.NoError(t, f.Notify(ctx, Notification{Severity: SeverityInfo, Message: "second"}))
	assert.Equal(t, 2, f.Len())

	got := f.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
	assert.Empty(t, f.Drain())
	assert.NotNil(t, f.Drain())
}

func TestFlash_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	f := NewFlash(2)
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, f.Notify(context.Background(), Notification{Message: msg}))
	}

	got := f.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, "c", got[1].Message)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*dispatcher.Event
	err    error
}

func (r *recordingDispatcher) Dispatch(e *dispatcher.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingDispatcher) Stats() dispatcher.Stats         { return dispatcher.Stats{} }
func (r *recordingDispatcher) Close(ctx context.Context) error { return nil }

func TestWebhook_Notify(t *testing.T) {
	t.Parallel()
	d := &recordingDispatcher{}
	w := NewWebhook(d, []string{"https://hooks.example.com/a", "https://hooks.example.com/b"}, "key", "/upgrader/app-1")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := w.Notify(context.Background(), Notification{
		Severity: SeverityError,
		Message:  "Update failed while executing: git fetch --tags origin",
		RunID:    "01J0RUN",
		Version:  "v1.9.0",
		Time:     at,
	})

	require.NoError(t, err)
	require.Len(t, d.events, 2)
	assert.NotEqual(t, d.events[0].Payload.ID, d.events[1].Payload.ID)

	e := d.events[0]
	assert.Equal(t, "https://hooks.example.com/a", e.Destination)
	assert.Equal(t, "key", e.SigningKey)
	assert.Equal(t, EventFailed, e.Payload.Type)
	assert.Equal(t, "/upgrader/app-1", e.Payload.Source)
	assert.Equal(t, "01J0RUN", e.Payload.Subject)
	assert.Equal(t, at, e.Payload.Time)
	assert.Equal(t, "v1.9.0", e.Payload.Data["version"])
}

func TestWebhook_SuccessEventType(t *testing.T) {
	t.Parallel()
	d := &recordingDispatcher{}
	w := NewWebhook(d, []string{"https://hooks.example.com"}, "", "/upgrader")

	require.NoError(t, w.Notify(context.Background(), Notification{Severity: SeverityInfo, Message: "ok"}))

	assert.Equal(t, EventSucceeded, d.events[0].Payload.Type)
}

func TestWebhook_DispatchError(t *testing.T) {
	t.Parallel()
	d := &recordingDispatcher{err: dispatcher.ErrBufferFull}
	w := NewWebhook(d, []string{"https://hooks.example.com"}, "", "/upgrader")

	err := w.Notify(context.Background(), Notification{Severity: SeverityInfo})

	assert.ErrorIs(t, err, dispatcher.ErrBufferFull)
}

type failingSink struct{}

func (failingSink) Notify(context.Context, Notification) error { return errors.New("sink down") }

func TestMulti(t *testing.T) {
	t.Parallel()
	a, b := NewFlash(5), NewFlash(5)

	err := Multi(a, failingSink{}, b, Discard).Notify(context.Background(), Notification{Message: "hello"})

	assert.EqualError(t, err, "sink down")
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}

package notify

import (
	"context"
	"sync"
)

// Flash holds notifications until the operator UI collects them. When full,
// the oldest pending notification is discarded.
type Flash struct {
	mu       sync.Mutex
	pending  []Notification
	capacity int
}

// NewFlash creates a queue holding at most capacity notifications (default 50).
func NewFlash(capacity int) *Flash {
	if capacity <= 0 {
		capacity = 50
	}
	return &Flash{capacity: capacity}
}

// Notify queues n, evicting the oldest entry when the queue is full.
func (f *Flash) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == f.capacity {
		copy(f.pending, f.pending[1:])
		f.pending = f.pending[:len(f.pending)-1]
	}
	f.pending = append(f.pending, n)
	return nil
}

// Drain returns pending notifications, oldest first, and clears the queue.
func (f *Flash) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.pending
	f.pending = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Len returns the number of pending notifications.
func (f *Flash) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

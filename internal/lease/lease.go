// Package lease provides non-blocking mutual exclusion for upgrade runs.
//
// A lease is held for the whole duration of a run and released on every
// exit path. Acquisition never waits: a held lease is reported immediately
// with ErrHeld so callers can reject concurrent requests.
package lease

import (
	"context"
	"errors"
	"fmt"
)

// ErrHeld is returned by TryAcquire when another holder owns the lease.
var ErrHeld = errors.New("lease is held by another holder")

// Lease hands out exclusive, named leases.
type Lease interface {
	TryAcquire(ctx context.Context, name string) (Handle, error)
}

// Handle represents an acquired lease. Release is idempotent.
type Handle interface {
	Release(ctx context.Context) error
}

// Expiring is implemented by handles that can lose ownership before Release,
// such as TTL leases whose key expired. The Lost channel is closed once the
// lease is gone.
type Expiring interface {
	Lost() <-chan struct{}
}

// Lost returns the loss signal of h. Handles that cannot expire return a nil
// channel, which never becomes ready.
func Lost(h Handle) <-chan struct{} {
	if e, ok := h.(Expiring); ok {
		return e.Lost()
	}
	return nil
}

// Backend is a Lease with lifecycle and health hooks.
type Backend interface {
	Lease
	Ping(ctx context.Context) error
	Close() error
}

// Guard acquires name, runs fn, and releases the lease afterwards even if fn panics.
func Guard(ctx context.Context, l Lease, name string, fn func(ctx context.Context) error) (err error) {
	h, err := l.TryAcquire(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := h.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
			err = fmt.Errorf("release lease %q: %w", name, relErr)
		}
	}()
	return fn(ctx)
}

// Package testutil provides polling helpers and a scripted command runner
// for tests of code that upgrades in the background.
package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

type pollConfig struct {
	timeout  time.Duration
	interval time.Duration
}

// PollOption adjusts how long and how often a helper polls.
type PollOption func(*pollConfig)

// WithTimeout bounds the total wait (default: 10s).
func WithTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// WithInterval sets the delay between attempts (default: 20ms).
func WithInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.interval = d
	}
}

func newPollConfig(opts []PollOption) pollConfig {
	c := pollConfig{
		timeout:  10 * time.Second,
		interval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Poll calls fetch until it reports done or the timeout passes, and returns
// the last value fetched. The final attempt happens at or after the deadline,
// so a condition that becomes true just in time is still observed.
func Poll[T any](tb testing.TB, fetch func() (T, bool), opts ...PollOption) (T, bool) {
	tb.Helper()
	c := newPollConfig(opts)

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		v, done := fetch()
		if done {
			return v, true
		}
		select {
		case <-deadline.C:
			v, done = fetch()
			return v, done
		case <-ticker.C:
		}
	}
}

// MustPoll is Poll that fails the test on timeout, reporting the last value.
func MustPoll[T any](tb testing.TB, fetch func() (T, bool), opts ...PollOption) T {
	tb.Helper()
	v, ok := Poll(tb, fetch, opts...)
	if !ok {
		tb.Fatalf("timed out polling; last value: %+v", v)
	}
	return v
}

// WaitFor polls until condition holds. It reports false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...PollOption) bool {
	tb.Helper()
	_, ok := Poll(tb, func() (struct{}, bool) {
		return struct{}{}, condition()
	}, opts...)
	return ok
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...PollOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// WaitForCount polls until counter reaches target.
func WaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...PollOption) bool {
	tb.Helper()
	_, ok := Poll(tb, func() (int64, bool) {
		n := counter.Load()
		return n, n >= target
	}, opts...)
	return ok
}

// MustWaitForCount is WaitForCount that fails the test on timeout.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...PollOption) {
	tb.Helper()
	if !WaitForCount(tb, counter, target, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}

package vcs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"upgrader/internal/runner"
	"upgrader/internal/testutil"

	"github.com/stretchr/testify/assert"
)

func countingSource(calls *atomic.Int64, release <-chan struct{}) *Git {
	fake := testutil.NewFakeRunner().OnFunc("git tag", func(context.Context, runner.Command) runner.Result {
		calls.Add(1)
		if release != nil {
			<-release
		}
		return runner.Result{OK: true, Output: "v1.0.0\nv1.1.0"}
	})
	return NewGit(fake, "/srv/app")
}

func TestCached_ServesWithinTTL(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	c := NewCached(countingSource(&calls, nil), time.Minute)

	first := c.ListVersions(context.Background(), 5)
	second := c.ListVersions(context.Background(), 5)

	assert.Equal(t, []string{"v1.1.0", "v1.0.0"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCached_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	c := NewCached(countingSource(&calls, nil), time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.ListVersions(context.Background(), 5)
	now = now.Add(2 * time.Minute)
	c.ListVersions(context.Background(), 5)

	assert.Equal(t, int64(2), calls.Load())
}

func TestCached_Invalidate(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	c := NewCached(countingSource(&calls, nil), time.Hour)

	c.ListVersions(context.Background(), 5)
	c.Invalidate()
	c.ListVersions(context.Background(), 5)

	assert.Equal(t, int64(2), calls.Load())
}

func TestCached_ReturnsCopies(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	c := NewCached(countingSource(&calls, nil), time.Hour)

	got := c.ListVersions(context.Background(), 5)
	got[0] = "mutated"

	assert.Equal(t, "v1.1.0", c.ListVersions(context.Background(), 5)[0])
}

func TestCached_DeduplicatesConcurrentMisses(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	release := make(chan struct{})
	c := NewCached(countingSource(&calls, release), time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ListVersions(context.Background(), 5)
		}()
	}

	testutil.MustWaitForCount(t, &calls, 1, testutil.WithTimeout(time.Second), testutil.WithInterval(5*time.Millisecond))
	// Give the remaining goroutines time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

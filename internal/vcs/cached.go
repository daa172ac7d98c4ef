package vcs

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cached memoises ListVersions of the wrapped Source for a TTL. Concurrent
// misses for the same limit share a single git invocation.
type Cached struct {
	Source

	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[int]cacheEntry
}

type cacheEntry struct {
	versions  []string
	fetchedAt time.Time
}

// NewCached wraps src. A non-positive ttl disables caching but keeps deduplication.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{
		Source:  src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int]cacheEntry),
	}
}

func (c *Cached) ListVersions(ctx context.Context, limit int) []string {
	if limit <= 0 {
		limit = DefaultVersionLimit
	}

	c.mu.Lock()
	entry, ok := c.entries[limit]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return clone(entry.versions)
	}

	v, _, _ := c.group.Do(strconv.Itoa(limit), func() (any, error) {
		versions := c.Source.ListVersions(ctx, limit)
		// Empty results usually mean git failed; don't pin them for a whole TTL.
		if len(versions) > 0 {
			c.mu.Lock()
			c.entries[limit] = cacheEntry{versions: versions, fetchedAt: c.now()}
			c.mu.Unlock()
		}
		return versions, nil
	})
	return clone(v.([]string))
}

// Invalidate drops all cached listings.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int]cacheEntry)
}

func clone(s []string) []string {
	return append([]string{}, s...)
}

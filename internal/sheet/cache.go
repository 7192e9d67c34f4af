package sheet

import (
	"sync"
	"time"
)

// cached is a read-through cache with TTL expiry and explicit
// invalidation. A zero TTL disables caching. Concurrent writers to the
// spreadsheet are not coordinated; last write wins, matching the
// upstream workflow.
type cached[T any] struct {
	ttl time.Duration

	mu        sync.Mutex
	val       T
	fetchedAt time.Time
}

func (c *cached[T]) get(fetch func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl > 0 && !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		return c.val, nil
	}
	val, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	c.val = val
	c.fetchedAt = time.Now()
	return val, nil
}

func (c *cached[T]) invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

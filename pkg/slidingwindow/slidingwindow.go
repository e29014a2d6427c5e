// Package slidingwindow implements a rolling-window event counter used for
// local rate limiting.
//
// The counter keeps the timestamps of recent events and prunes anything
// older than the window on each access, so the count always reflects the
// trailing window ending now. Callers supply the current time explicitly,
// which keeps the counter deterministic under test.
//
// Thread Safety: All methods are safe for concurrent access.
package slidingwindow

import (
	"sync"
	"time"
)

// Counter counts events within a trailing window against a limit.
type Counter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	events []time.Time
}

// New creates a counter allowing limit events per window. A limit <= 0
// means unlimited: Allow always succeeds and Count still tracks.
func New(limit int, window time.Duration) *Counter {
	if window <= 0 {
		window = time.Minute
	}
	return &Counter{limit: limit, window: window}
}

// Allow records an event if the limit has not been reached. Returns false,
// without recording, when the window is full.
func (c *Counter) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)
	if c.limit > 0 && len(c.events) >= c.limit {
		return false
	}
	c.events = append(c.events, now)
	return true
}

// Record unconditionally records an event.
func (c *Counter) Record(now time.Time) {
	c.mu.Lock()
	c.events = append(c.events, now)
	c.pruneLocked(now)
	c.mu.Unlock()
}

// Count returns the number of events in the trailing window.
func (c *Counter) Count(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	return len(c.events)
}

// AtLimit reports whether the window is saturated.
func (c *Counter) AtLimit(now time.Time) bool {
	if c.limit <= 0 {
		return false
	}
	return c.Count(now) >= c.limit
}

// Limit returns the configured limit.
func (c *Counter) Limit() int { return c.limit }

func (c *Counter) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.window)
	dst := c.events[:0]
	for _, ts := range c.events {
		if ts.After(cutoff) {
			dst = append(dst, ts)
		}
	}
	c.events = dst
}

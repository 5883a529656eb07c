package common

import (
	"sync"
	"time"
)

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// DummyClock is a manually advanced clock for tests. The zero value starts
// at the Unix epoch.
type DummyClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewDummyClock returns a clock frozen at the given instant.
func NewDummyClock(start time.Time) *DummyClock {
	return &DummyClock{now: start.UTC()}
}

func (c *DummyClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = time.Unix(0, 0).UTC()
	}
	return c.now
}

// Advance moves the clock forward by d.
func (c *DummyClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = time.Unix(0, 0).UTC()
	}
	c.now = c.now.Add(d)
}

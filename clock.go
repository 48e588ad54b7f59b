package sensorcache

import (
	"sync"
	"time"
)

// Clock stamps records. Now never returns a time before one it returned earlier,
// even when the wall clock steps backwards.
type Clock interface {
	Now() time.Time
}

type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonicClock returns a Clock over now, or over time.Now if now is nil.
func NewMonotonicClock(now func() time.Time) Clock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Round(0)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// defaultClock is shared by every cache in the process.
var defaultClock = NewMonotonicClock(nil)

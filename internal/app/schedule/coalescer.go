// Package schedule provides the coalescing scheduler used for
// frame-paced work such as progress persistence.
package schedule

import (
	"sync"
	"time"
)

// DefaultFrameInterval approximates one rendering frame.
const DefaultFrameInterval = 16 * time.Millisecond

// Coalescer runs at most one pending task, executed on the next frame
// tick. Scheduling a task while one is pending replaces it, so a burst
// of requests collapses into a single execution.
type Coalescer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	pending  func()
	stopped  bool
}

// NewCoalescer creates a coalescer with the given frame interval.
// A non-positive interval falls back to DefaultFrameInterval.
func NewCoalescer(interval time.Duration) *Coalescer {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Coalescer{interval: interval}
}

// Schedule queues fn for the next frame, replacing any pending task.
func (c *Coalescer) Schedule(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.pending = fn
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.fire)
	} else {
		c.timer.Reset(c.interval)
	}
}

// Flush runs the pending task immediately, if any. Used before pause
// or shutdown so the final write is not lost to a cancelled frame.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	fn := c.pending
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel discards the pending task without running it. Used when the
// caller is about to perform the work itself.
func (c *Coalescer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Stop discards any pending task and rejects further scheduling.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	fn := c.pending
	c.pending = nil
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

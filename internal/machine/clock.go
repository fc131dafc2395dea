package machine

import (
	"sync/atomic"
	"time"
)

// Clock is the wall-clock timer behind Machine.Run. It emits ticks and counts
// them atomically; a tick the reader is not ready for is counted as missed
// instead of stalling the timer.
type Clock struct {
	ch      chan struct{}
	count   atomic.Int64
	missed  atomic.Int64
	stop    chan struct{}
	stopped atomic.Bool
}

// NewClock creates a clock but does not start it.
func NewClock(buffer int) *Clock {
	return &Clock{
		ch:   make(chan struct{}, buffer),
		stop: make(chan struct{}),
	}
}

// C returns the tick channel.
func (c *Clock) C() <-chan struct{} { return c.ch }

// Start begins emitting ticks at the given interval.
func (c *Clock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				select {
				case c.ch <- struct{}{}:
				default:
					c.missed.Add(1)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop signals the clock to stop emitting ticks. It is safe to call twice.
func (c *Clock) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stop)
	}
}

// Count returns the number of ticks emitted so far.
func (c *Clock) Count() int64 { return c.count.Load() }

// Missed returns the number of ticks dropped because nobody was reading.
func (c *Clock) Missed() int64 { return c.missed.Load() }

package testutil

import (
	"sync/atomic"
	"time"
)

// Epoch is where a new Clock starts unless told otherwise.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a manual time source. Its Now method fits anywhere a
// func() time.Time is injected, such as sink.SQLite.Now.
type Clock struct {
	nanos atomic.Int64
}

// NewClock returns a Clock at start, or at Epoch when start is omitted.
func NewClock(start ...time.Time) *Clock {
	c := &Clock{}
	if len(start) > 0 {
		c.Set(start[0])
	} else {
		c.Set(Epoch)
	}
	return c
}

// Now returns the current reading in UTC.
func (c *Clock) Now() time.Time { return time.Unix(0, c.nanos.Load()).UTC() }

// Advance moves the clock by d, which may be negative.
func (c *Clock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

// Set jumps to t.
func (c *Clock) Set(t time.Time) { c.nanos.Store(t.UnixNano()) }

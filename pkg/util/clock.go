package util

import (
	"sync"
	"time"
)

// Clock is injected everywhere time is read so replays are deterministic.
// MonoNanos is for ordering and latency; NowMillis is wall time for display
// and expiry. The two are never compared with each other.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
	MonoNanos() int64
	NowMillis() int64
}

var processStart = time.Now()

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// MonoNanos reads the monotonic component through time.Since.
func (RealClock) MonoNanos() int64 { return int64(time.Since(processStart)) }
func (RealClock) NowMillis() int64 { return time.Now().UnixMilli() }

// ManualClock only moves when Advance is called. Used by tests and replay.
type ManualClock struct {
	mu   sync.Mutex
	mono int64
	wall time.Time
	step int64
}

// NewManualClock starts at wall time start. Each MonoNanos read advances the
// monotonic counter by step nanoseconds (0 means frozen).
func NewManualClock(start time.Time, step time.Duration) *ManualClock {
	return &ManualClock{wall: start, step: int64(step)}
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Advance(d)
	return ch
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

func (c *ManualClock) MonoNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mono += c.step
	return c.mono
}

func (c *ManualClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall.UnixMilli()
}

// Advance moves both clocks forward by d and returns the new wall time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mono += int64(d)
	c.wall = c.wall.Add(d)
	return c.wall
}

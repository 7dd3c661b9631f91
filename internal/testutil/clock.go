package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time a DeterministicClock reports before its first tick.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe logical clock for tests. It hands
// out monotonically increasing sequence numbers and a matching fake wall
// time, so traces and timestamps are identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	seq  int64
	step time.Duration
}

// NewDeterministicClock creates a clock at seq 0 whose wall time advances
// one second per tick.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{step: time.Second}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now ticks the clock and returns Epoch plus one step per tick. Its
// signature fits engine.WithClock and service.WithClock.
func (c *DeterministicClock) Now() time.Time {
	n := c.Next()
	return Epoch.Add(time.Duration(n) * c.step)
}

// Reset resets the clock to 0.
//
// After Reset(), the next call to Next() returns 1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

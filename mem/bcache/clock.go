package bcache

import "sync/atomic"

// A Clock stamps buffers when they are acquired.
type Clock interface {
	Now() uint64
}

// LogicalClock advances on every reading, so no two acquisitions share a
// stamp.
type LogicalClock struct {
	t atomic.Uint64
}

// Now returns the next stamp.
func (c *LogicalClock) Now() uint64 {
	return c.t.Add(1)
}

// TickClock only advances when Tick is called, like the timer interrupt
// counter. Buffers acquired within one tick share a stamp and the eviction
// scan order breaks the tie.
type TickClock struct {
	t atomic.Uint64
}

// Tick advances the clock.
func (c *TickClock) Tick() {
	c.t.Add(1)
}

// Now returns the current tick.
func (c *TickClock) Now() uint64 {
	return c.t.Load()
}

package hooking

import "sync"

// A Counter is a hook that counts how many times each position fired.
type Counter struct {
	mu     sync.Mutex
	counts map[string]uint64
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]uint64)}
}

// Func counts the event.
func (c *Counter) Func(ctx HookCtx) {
	c.mu.Lock()
	c.counts[ctx.Pos.Name]++
	c.mu.Unlock()
}

// Count returns how many times pos fired.
func (c *Counter) Count(pos *HookPos) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[pos.Name]
}

// Snapshot returns a copy of all counts keyed by position name.
func (c *Counter) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		s[k] = v
	}

	return s
}

// Package cpu models the harts of the simulated machine.
//
// Kernel code runs on behalf of a Core. The core that is executing a piece of
// kernel code travels in a context.Context, together with the pid of the
// process the code runs for. A Core may only be trusted as "the current CPU"
// between PushOff and PopOff, the same way a real kernel must mask timer
// interrupts before reading its hart id.
package cpu

import (
	"context"
	"log"
	"sync/atomic"
)

// A Core is one simulated hart.
type Core struct {
	id     int
	noff   atomic.Int32
	intena atomic.Bool
	intrOn atomic.Bool
}

// NewCores creates n cores with ids 0 to n-1. Interrupts start enabled.
func NewCores(n int) []*Core {
	if n <= 0 {
		log.Panicf("cpu: invalid number of cores %d", n)
	}

	cores := make([]*Core, n)
	for i := range cores {
		cores[i] = &Core{id: i}
		cores[i].intrOn.Store(true)
	}

	return cores
}

// ID returns the hart id.
func (c *Core) ID() int {
	return c.id
}

// IntrOn reports whether the core currently accepts timer interrupts.
func (c *Core) IntrOn() bool {
	return c.intrOn.Load()
}

// PushOff masks interrupts. PushOff and PopOff nest; it takes as many PopOff
// calls to unmask as there were PushOff calls.
func (c *Core) PushOff() {
	old := c.intrOn.Swap(false)
	if c.noff.Add(1) == 1 {
		c.intena.Store(old)
	}
}

// PopOff undoes one PushOff.
func (c *Core) PopOff() {
	if c.IntrOn() {
		log.Panic("pop_off - interruptible")
	}

	n := c.noff.Add(-1)
	if n < 0 {
		log.Panic("pop_off")
	}

	if n == 0 && c.intena.Load() {
		c.intrOn.Store(true)
	}
}

// Depth returns the current PushOff nesting level.
func (c *Core) Depth() int {
	return int(c.noff.Load())
}

type coreKey struct{}

type pidKey struct{}

// WithCore returns a context in which c is the running core.
func WithCore(ctx context.Context, c *Core) context.Context {
	return context.WithValue(ctx, coreKey{}, c)
}

// FromContext returns the core bound to ctx. It panics if there is none.
func FromContext(ctx context.Context) *Core {
	c, ok := ctx.Value(coreKey{}).(*Core)
	if !ok || c == nil {
		log.Panic("mycpu: no core bound to context")
	}

	return c
}

// WithPID returns a context that runs on behalf of process pid.
func WithPID(ctx context.Context, pid int) context.Context {
	return context.WithValue(ctx, pidKey{}, pid)
}

// PID returns the pid bound to ctx, or 0 for kernel threads.
func PID(ctx context.Context) int {
	pid, _ := ctx.Value(pidKey{}).(int)
	return pid
}

// Package lock provides the two kinds of kernel locks: spin-mutexes that mask
// interrupts on the holding core, and sleeplocks that deschedule waiters.
package lock

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/kcore/sim/cpu"
)

// A Spinlock is a mutual-exclusion lock held with interrupts masked. Code
// holding a Spinlock must not block.
type Spinlock struct {
	name   string
	mu     sync.Mutex
	holder atomic.Pointer[cpu.Core]
}

// NewSpinlock creates a named Spinlock.
func NewSpinlock(name string) *Spinlock {
	l := &Spinlock{}
	l.Init(name)

	return l
}

// Init names a Spinlock that is embedded by value.
func (l *Spinlock) Init(name string) {
	l.name = name
}

// Name returns the name of the lock.
func (l *Spinlock) Name() string {
	return l.name
}

// Acquire masks interrupts on the running core and takes the lock.
func (l *Spinlock) Acquire(ctx context.Context) {
	c := cpu.FromContext(ctx)
	c.PushOff()

	if l.holder.Load() == c {
		log.Panicf("acquire: %s", l.name)
	}

	l.mu.Lock()
	l.holder.Store(c)
}

// Release gives up the lock and undoes the interrupt masking of Acquire.
func (l *Spinlock) Release(ctx context.Context) {
	c := cpu.FromContext(ctx)
	if l.holder.Load() != c {
		log.Panicf("release: %s", l.name)
	}

	l.holder.Store(nil)
	l.mu.Unlock()
	c.PopOff()
}

// Holding reports whether the running core holds the lock.
func (l *Spinlock) Holding(ctx context.Context) bool {
	return l.holder.Load() == cpu.FromContext(ctx)
}

package lock

import (
	"context"
	"log"
	"sync"

	"github.com/sarchlab/kcore/sim/cpu"
)

// A Sleeplock is a long-term lock. A thread that waits for a Sleeplock is
// descheduled instead of spinning, so it may be held across disk I/O.
type Sleeplock struct {
	name   string
	mu     sync.Mutex
	cond   *sync.Cond
	locked bool
	pid    int
}

// NewSleeplock creates a named Sleeplock.
func NewSleeplock(name string) *Sleeplock {
	l := &Sleeplock{}
	l.Init(name)

	return l
}

// Init prepares a Sleeplock that is embedded by value.
func (l *Sleeplock) Init(name string) {
	l.name = name
	l.cond = sync.NewCond(&l.mu)
}

// Acquire waits until the lock is free and takes it for the calling process.
// The calling core must not hold a Spinlock, since Acquire may sleep.
func (l *Sleeplock) Acquire(ctx context.Context) {
	if cpu.FromContext(ctx).Depth() != 0 {
		log.Panicf("sleep: %s held with interrupts off", l.name)
	}

	l.mu.Lock()
	for l.locked {
		l.cond.Wait()
	}

	l.locked = true
	l.pid = cpu.PID(ctx)
	l.mu.Unlock()
}

// Release gives up the lock and wakes up the waiters.
func (l *Sleeplock) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked || l.pid != cpu.PID(ctx) {
		log.Panicf("releasesleep: %s", l.name)
	}

	l.locked = false
	l.pid = 0
	l.cond.Broadcast()
}

// Holding reports whether the calling process holds the lock.
func (l *Sleeplock) Holding(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.locked && l.pid == cpu.PID(ctx)
}

// Package kalloc implements the physical page allocator.
//
// Each CPU owns a freelist guarded by its own spinlock. A CPU whose freelist
// is empty steals a batch of frames from its peers. Stealing is serialized by
// a single steal lock, which is always taken before any freelist lock, so two
// CPUs can never wait for each other's freelists.
//
// Every frame carries a reference count so that frames can be shared between
// page tables. A frame is free exactly when its count is zero.
package kalloc

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/sim/cpu"
	"github.com/sarchlab/kcore/sim/hooking"
	"github.com/sarchlab/kcore/sim/lock"
)

// Junk patterns written into frames to catch dangling references.
const (
	AllocJunk byte = 0x05
	FreeJunk  byte = 0x01
)

// Hook positions published by the allocator. The Item of the hook context is
// the frame address; for HookPosSteal it is the number of frames stolen.
var (
	HookPosAlloc = &hooking.HookPos{Name: "Alloc"}
	HookPosFree  = &hooking.HookPos{Name: "Free"}
	HookPosSteal = &hooking.HookPos{Name: "Steal"}
)

// freelist is an intrusive list of free frames. The first word of every free
// frame holds the address of the next one.
type freelist struct {
	lock lock.Spinlock
	head phys.Addr
	n    atomic.Int64
}

type refEntry struct {
	mu    sync.Mutex
	count uint32
}

// An Allocator hands out physical frames.
type Allocator struct {
	hooking.HookableBase

	name         string
	mem          *phys.Memory
	kmem         []freelist
	steal        lock.Spinlock
	refs         []refEntry
	numStealPage int
}

// Name returns the name of the allocator.
func (a *Allocator) Name() string {
	return a.name
}

// NumCPU returns the number of per-CPU freelists.
func (a *Allocator) NumCPU() int {
	return len(a.kmem)
}

// Alloc allocates one frame for the running CPU. The frame is filled with
// AllocJunk and has a reference count of exactly one. It returns false when
// no CPU has a free frame.
func (a *Allocator) Alloc(ctx context.Context) (phys.Addr, bool) {
	c := cpu.FromContext(ctx)

	c.PushOff()
	id := c.ID()
	local := &a.kmem[id]

	local.lock.Acquire(ctx)

	stolen := 0

	pa := a.pop(local)
	if pa == 0 {
		// Give up the local lock before taking the steal lock. Holding it
		// would let CPU A wait for B's freelist while B waits for the steal
		// lock that A holds.
		local.lock.Release(ctx)

		a.steal.Acquire(ctx)
		local.lock.Acquire(ctx)

		stolen = a.stealInto(ctx, id)

		a.steal.Release(ctx)

		pa = a.pop(local)
	}

	local.lock.Release(ctx)
	c.PopOff()

	if stolen > 0 {
		a.InvokeHook(hooking.HookCtx{
			Ctx:    ctx,
			Domain: a,
			Pos:    HookPosSteal,
			Item:   stolen,
		})
	}

	if pa == 0 {
		return 0, false
	}

	a.mem.Fill(pa, AllocJunk)
	a.claim(pa)

	a.InvokeHook(hooking.HookCtx{
		Ctx:    ctx,
		Domain: a,
		Pos:    HookPosAlloc,
		Item:   pa,
	})

	return pa, true
}

// stealInto moves up to numStealPage frames from the other CPUs onto CPU
// id's freelist. The caller holds the steal lock and CPU id's lock.
func (a *Allocator) stealInto(ctx context.Context, id int) int {
	local := &a.kmem[id]
	want := a.numStealPage

	for victim := range a.kmem {
		if want == 0 {
			break
		}

		if victim == id {
			continue
		}

		remote := &a.kmem[victim]
		remote.lock.Acquire(ctx)

		for want > 0 {
			pa := a.pop(remote)
			if pa == 0 {
				break
			}

			a.push(local, pa)
			want--
		}

		remote.lock.Release(ctx)
	}

	return a.numStealPage - want
}

// Free drops one reference to the frame at pa. When the last reference goes
// away, the frame is filled with FreeJunk and put on the running CPU's
// freelist.
func (a *Allocator) Free(ctx context.Context, pa phys.Addr) {
	if !phys.Aligned(uint64(pa)) ||
		pa < a.mem.KernelEnd() ||
		pa >= a.mem.PhysTop() {
		log.Panicf("kfree: 0x%x", uint64(pa))
	}

	if a.release(pa) > 0 {
		return
	}

	a.mem.Fill(pa, FreeJunk)

	c := cpu.FromContext(ctx)
	c.PushOff()

	fl := &a.kmem[c.ID()]
	fl.lock.Acquire(ctx)
	a.push(fl, pa)
	fl.lock.Release(ctx)

	c.PopOff()

	a.InvokeHook(hooking.HookCtx{
		Ctx:    ctx,
		Domain: a,
		Pos:    HookPosFree,
		Item:   pa,
	})
}

// RefInc adds a reference to an allocated frame.
func (a *Allocator) RefInc(_ context.Context, pa phys.Addr) {
	if !a.mem.Contains(pa) || !phys.Aligned(uint64(pa)) {
		log.Panicf("kpage_ref_inc: 0x%x", uint64(pa))
	}

	e := &a.refs[a.index(pa)]

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count == 0 {
		log.Panicf("kpage_ref_inc: free frame 0x%x", uint64(pa))
	}

	e.count++
}

// RefCount returns the number of references to the frame at pa.
func (a *Allocator) RefCount(pa phys.Addr) int {
	e := &a.refs[a.index(pa)]

	e.mu.Lock()
	defer e.mu.Unlock()

	return int(e.count)
}

// FreeFrames returns the length of CPU id's freelist.
func (a *Allocator) FreeFrames(id int) int {
	return int(a.kmem[id].n.Load())
}

// FreeMem returns the number of free bytes over all CPUs.
func (a *Allocator) FreeMem() uint64 {
	total := uint64(0)
	for i := range a.kmem {
		total += uint64(a.kmem[i].n.Load())
	}

	return total * phys.PageSize
}

// Stats is a snapshot of the allocator's freelists.
type Stats struct {
	FreePerCPU []int
	FreeBytes  uint64
}

// Stats returns a snapshot of the freelist lengths. The snapshot is not
// atomic across CPUs.
func (a *Allocator) Stats() Stats {
	s := Stats{FreePerCPU: make([]int, len(a.kmem))}
	for i := range a.kmem {
		s.FreePerCPU[i] = a.FreeFrames(i)
	}

	s.FreeBytes = a.FreeMem()

	return s
}

func (a *Allocator) index(pa phys.Addr) int {
	return int((pa - phys.KernBase) / phys.PageSize)
}

// claim gives a frame just taken off a freelist its first reference.
func (a *Allocator) claim(pa phys.Addr) {
	e := &a.refs[a.index(pa)]

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count != 0 {
		log.Panicf("kalloc: frame 0x%x on freelist with %d references",
			uint64(pa), e.count)
	}

	e.count = 1
}

// release drops one reference and returns the remaining count.
func (a *Allocator) release(pa phys.Addr) uint32 {
	e := &a.refs[a.index(pa)]

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count == 0 {
		log.Panicf("kfree: refcount 0x%x", uint64(pa))
	}

	e.count--

	return e.count
}

func (a *Allocator) push(fl *freelist, pa phys.Addr) {
	a.mem.Store64(pa, uint64(fl.head))
	fl.head = pa
	fl.n.Add(1)
}

func (a *Allocator) pop(fl *freelist) phys.Addr {
	pa := fl.head
	if pa == 0 {
		return 0
	}

	fl.head = phys.Addr(a.mem.Load64(pa))
	fl.n.Add(-1)

	return pa
}

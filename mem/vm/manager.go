// Package vm manages Sv39 page tables: the walk, mapping primitives, user
// address spaces, the per-process kernel shadow tables and the copy
// primitives across the user/kernel boundary.
package vm

import (
	"context"
	"errors"
	"log"

	"github.com/sarchlab/kcore/mem/phys"
)

// Errors returned by the recoverable VM operations.
var (
	ErrOutOfMemory = errors.New("vm: out of memory")
	ErrBadAddress  = errors.New("vm: bad address")
	ErrPageFault   = errors.New("vm: page fault")
)

// A FrameAllocator provides the physical frames that back page tables and
// user memory.
type FrameAllocator interface {
	// Alloc returns a frame with a single reference, or false when memory is
	// exhausted.
	Alloc(ctx context.Context) (phys.Addr, bool)

	// Free drops a reference to a frame.
	Free(ctx context.Context, pa phys.Addr)

	// RefInc adds a reference to an allocated frame.
	RefInc(ctx context.Context, pa phys.Addr)

	// RefCount returns the number of references to a frame.
	RefCount(pa phys.Addr) int
}

// A Manager owns the kernel page table and performs every page-table
// operation of the kernel.
type Manager struct {
	name   string
	mem    *phys.Memory
	alloc  FrameAllocator
	kernel PageTable

	trampoline phys.Addr
}

// A Builder can build VM managers.
type Builder struct {
	memory    *phys.Memory
	allocator FrameAllocator
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithMemory sets the RAM that holds page tables.
func (b Builder) WithMemory(m *phys.Memory) Builder {
	b.memory = m
	return b
}

// WithAllocator sets where frames come from.
func (b Builder) WithAllocator(a FrameAllocator) Builder {
	b.allocator = a
	return b
}

// Build creates the manager. The kernel page table is created by InitKernel.
func (b Builder) Build(name string) *Manager {
	if b.memory == nil || b.allocator == nil {
		log.Panic("vm: memory and allocator must be set")
	}

	return &Manager{
		name:       name,
		mem:        b.memory,
		alloc:      b.allocator,
		trampoline: b.memory.Layout().KernelText - phys.PageSize,
	}
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// Memory returns the RAM the manager works on.
func (m *Manager) Memory() *phys.Memory {
	return m.mem
}

func (m *Manager) entry(table phys.Addr, index int) PTERef {
	return PTERef{mem: m.mem, addr: table + phys.Addr(index*8)}
}

// newTable allocates a zeroed page-table page.
func (m *Manager) newTable(ctx context.Context) (phys.Addr, bool) {
	pa, ok := m.alloc.Alloc(ctx)
	if !ok {
		return 0, false
	}

	m.mem.Fill(pa, 0)

	return pa, true
}

// AllocPage returns a zeroed frame for user memory the caller maps itself.
func (m *Manager) AllocPage(ctx context.Context) (phys.Addr, bool) {
	return m.newTable(ctx)
}

// FreePage drops the reference taken by AllocPage.
func (m *Manager) FreePage(ctx context.Context, pa phys.Addr) {
	m.alloc.Free(ctx, pa)
}

package kalloc

import (
	"context"
	"log"

	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/sim/cpu"
)

// A Builder can build page allocators.
type Builder struct {
	memory       *phys.Memory
	numCPU       int
	numStealPage int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numCPU:       8,
		numStealPage: 8,
	}
}

// WithMemory sets the RAM the allocator hands out.
func (b Builder) WithMemory(m *phys.Memory) Builder {
	b.memory = m
	return b
}

// WithNumCPU sets the number of per-CPU freelists.
func (b Builder) WithNumCPU(n int) Builder {
	b.numCPU = n
	return b
}

// WithNumStealPage sets how many frames a CPU takes from its peers when its
// own freelist runs dry.
func (b Builder) WithNumStealPage(n int) Builder {
	b.numStealPage = n
	return b
}

// Build creates the allocator and frees every frame between the end of the
// kernel image and PhysTop onto CPU 0's freelist.
func (b Builder) Build(name string) *Allocator {
	if b.memory == nil {
		log.Panic("kalloc: memory is not set")
	}

	if b.numCPU <= 0 || b.numStealPage <= 0 {
		log.Panicf("kalloc: invalid configuration %d cpus, %d steal pages",
			b.numCPU, b.numStealPage)
	}

	a := &Allocator{
		name:         name,
		mem:          b.memory,
		kmem:         make([]freelist, b.numCPU),
		numStealPage: b.numStealPage,
	}

	a.steal.Init(name + ".steal")
	for i := range a.kmem {
		a.kmem[i].lock.Init(name + ".kmem")
	}

	numIndex := (b.memory.PhysTop() - phys.KernBase) / phys.PageSize
	a.refs = make([]refEntry, numIndex)

	a.init()

	return a
}

func (a *Allocator) init() {
	boot := cpu.NewCores(1)[0]
	ctx := cpu.WithCore(context.Background(), boot)

	start := phys.Addr(phys.RoundUp(uint64(a.mem.KernelEnd())))
	for pa := start; pa+phys.PageSize <= a.mem.PhysTop(); pa += phys.PageSize {
		a.refs[a.index(pa)].count = 1
		a.Free(ctx, pa)
	}
}

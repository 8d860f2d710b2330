// Package kernel boots the memory, buffer cache, file and process subsystems
// into one machine and offers the system calls that reach them.
package kernel

import (
	"context"
	"io"
	"log"

	"github.com/sarchlab/kcore/fs"
	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/mem/kalloc"
	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/mem/vm"
	"github.com/sarchlab/kcore/monitoring"
	"github.com/sarchlab/kcore/proc"
	"github.com/sarchlab/kcore/sim/cpu"
	"github.com/sarchlab/kcore/sim/hooking"
)

// A Kernel is a booted machine.
type Kernel struct {
	name  string
	cfg   Config
	cores []*cpu.Core

	mem    *phys.Memory
	kalloc *kalloc.Allocator
	vm     *vm.Manager

	disk     bcache.Disk
	ownsDisk bool
	cache    *bcache.Cache
	fs       *fs.FS

	procs   *proc.Table
	counter *hooking.Counter
}

// Name returns the name of the kernel.
func (k *Kernel) Name() string {
	return k.name
}

// Config returns the configuration the kernel booted with.
func (k *Kernel) Config() Config {
	return k.cfg
}

// NumCPU returns the number of cores that run kernel code.
func (k *Kernel) NumCPU() int {
	return k.cfg.NumCPU
}

// Context returns the execution context of core c running on behalf of pid.
// pid 0 is a kernel thread. A live process is bound to the context as well.
func (k *Kernel) Context(c, pid int) context.Context {
	if c < 0 || c >= k.cfg.NumCPU {
		log.Panicf("kernel: no cpu %d", c)
	}

	ctx := background(k.cores[c])

	if pid == 0 {
		return ctx
	}

	if p, err := k.procs.Lookup(pid); err == nil {
		return p.Context(ctx)
	}

	return cpu.WithPID(ctx, pid)
}

// ServiceContext returns a context on a core reserved for inspection, such as
// monitor requests. It must not be used to allocate frames.
func (k *Kernel) ServiceContext() context.Context {
	return background(k.cores[k.cfg.NumCPU])
}

// Memory returns the physical memory.
func (k *Kernel) Memory() *phys.Memory {
	return k.mem
}

// Allocator returns the page allocator.
func (k *Kernel) Allocator() *kalloc.Allocator {
	return k.kalloc
}

// VM returns the page table manager.
func (k *Kernel) VM() *vm.Manager {
	return k.vm
}

// Disk returns the block device.
func (k *Kernel) Disk() bcache.Disk {
	return k.disk
}

// Cache returns the buffer cache.
func (k *Kernel) Cache() *bcache.Cache {
	return k.cache
}

// FS returns the file system on RootDev.
func (k *Kernel) FS() *fs.FS {
	return k.fs
}

// Procs returns the process table.
func (k *Kernel) Procs() *proc.Table {
	return k.procs
}

// Counter returns how often each allocator and buffer cache event fired.
func (k *Kernel) Counter() *hooking.Counter {
	return k.counter
}

// Spawn creates a process with sz bytes of zeroed user memory.
func (k *Kernel) Spawn(ctx context.Context, sz uint64) (*proc.Proc, error) {
	p, err := k.procs.Alloc(ctx)
	if err != nil {
		return nil, err
	}

	if sz == 0 {
		return p, nil
	}

	if _, err := p.Grow(p.Context(ctx), int64(sz)); err != nil {
		_ = k.procs.Exit(ctx, p)
		return nil, err
	}

	return p, nil
}

// Register exposes the allocator and the buffer cache to a monitor.
func (k *Kernel) Register(m *monitoring.Monitor) {
	m.RegisterComponent(k)
	m.RegisterAllocator(k.kalloc)
	m.RegisterCache(k.ServiceContext(), k.cache)
	m.RegisterComponent(k.vm)
}

// Shutdown terminates the remaining processes and closes the disk if the
// kernel opened it.
func (k *Kernel) Shutdown(ctx context.Context) error {
	for _, pid := range k.procs.PIDs() {
		p, err := k.procs.Lookup(pid)
		if err != nil {
			continue
		}

		if err := k.procs.Exit(p.Context(ctx), p); err != nil {
			return err
		}
	}

	if c, ok := k.disk.(io.Closer); ok && k.ownsDisk {
		return c.Close()
	}

	return nil
}

package kernel

import (
	"context"
	"log"

	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/fs"
	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/mem/kalloc"
	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/mem/vm"
	"github.com/sarchlab/kcore/proc"
	"github.com/sarchlab/kcore/sim/cpu"
	"github.com/sarchlab/kcore/sim/hooking"
	"github.com/sarchlab/kcore/sim/id"
	"github.com/sarchlab/kcore/tracing"
)

// RootDev is the device that holds the file system.
const RootDev = 1

// A Builder can boot kernels.
type Builder struct {
	cfg    Config
	disk   bcache.Disk
	clock  bcache.Clock
	tracer tracing.Tracer
	ids    id.Generator
}

// MakeBuilder creates a builder with DefaultConfig.
func MakeBuilder() Builder {
	return Builder{cfg: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b Builder) WithConfig(cfg Config) Builder {
	b.cfg = cfg
	return b
}

// WithNumCPU sets the number of cores.
func (b Builder) WithNumCPU(n int) Builder {
	b.cfg.NumCPU = n
	return b
}

// WithNumFrames sets the number of allocatable frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.cfg.NumFrames = n
	return b
}

// WithNumBuf sets the number of buffers of the buffer cache.
func (b Builder) WithNumBuf(n int) Builder {
	b.cfg.NumBuf = n
	return b
}

// WithNumBucket sets the number of buffer cache buckets.
func (b Builder) WithNumBucket(n int) Builder {
	b.cfg.NumBucket = n
	return b
}

// WithCopyOnWrite makes fork share pages copy-on-write.
func (b Builder) WithCopyOnWrite(cow bool) Builder {
	b.cfg.CopyOnWrite = cow
	return b
}

// WithDisk sets the block device. The caller keeps ownership of it. Without
// one, the kernel opens the disk named by the configuration.
func (b Builder) WithDisk(d bcache.Disk) Builder {
	b.disk = d
	return b
}

// WithClock sets the clock of the buffer cache.
func (b Builder) WithClock(c bcache.Clock) Builder {
	b.clock = c
	return b
}

// WithTracer records every allocator and buffer cache event with the tracer.
func (b Builder) WithTracer(t tracing.Tracer) Builder {
	b.tracer = t
	return b
}

// WithIDGenerator sets how trace tasks are named. Sequential by default.
func (b Builder) WithIDGenerator(g id.Generator) Builder {
	b.ids = g
	return b
}

// Build boots a kernel: RAM and the page allocator, the kernel page table,
// the disk and the buffer cache, the file system and the process table.
func (b Builder) Build(name string) *Kernel {
	if err := b.cfg.Validate(); err != nil {
		log.Panic(err)
	}

	k := &Kernel{
		name:     name,
		cfg:      b.cfg,
		cores:    cpu.NewCores(b.cfg.NumCPU + 1),
		counter:  hooking.NewCounter(),
		disk:     b.disk,
		ownsDisk: b.disk == nil,
	}

	k.mem = phys.NewMemory(phys.LayoutWithFrames(b.cfg.NumFrames))
	k.kalloc = kalloc.MakeBuilder().
		WithMemory(k.mem).
		WithNumCPU(b.cfg.NumCPU).
		WithNumStealPage(b.cfg.NumStealPage).
		Build(name + ".Kalloc")

	k.vm = vm.MakeBuilder().
		WithMemory(k.mem).
		WithAllocator(k.kalloc).
		Build(name + ".VM")
	k.vm.InitKernel(k.Context(0, 0))

	if k.disk == nil {
		d, err := OpenDisk(b.cfg)
		if err != nil {
			log.Panic(err)
		}

		k.disk = d
	}

	k.cache = bcache.MakeBuilder().
		WithNumBuf(b.cfg.NumBuf).
		WithNumBucket(b.cfg.NumBucket).
		WithBlockSize(b.cfg.BlockSize).
		WithDisk(k.disk).
		WithClock(b.clock).
		Build(name + ".BCache")

	k.fs = fs.New(k.cache, RootDev, 1, b.cfg.DiskBlocks-1)

	k.procs = proc.MakeTableBuilder().
		WithVM(k.vm).
		WithNumVMA(b.cfg.NumVMA).
		WithNumFile(b.cfg.NumFile).
		WithCopyOnWrite(b.cfg.CopyOnWrite).
		Build()

	ids := b.ids
	if ids == nil {
		ids = id.NewSequential()
	}

	for _, domain := range []tracing.NamedHookable{k.kalloc, k.cache} {
		domain.AcceptHook(k.counter)

		if b.tracer != nil {
			tracing.CollectTrace(domain, b.tracer, ids)
		}
	}

	return k
}

// OpenDisk opens the block device named by the configuration.
func OpenDisk(cfg Config) (bcache.Disk, error) {
	switch cfg.Disk {
	case DiskSQLite:
		d, err := disk.OpenSQLite(cfg.DiskPath, cfg.BlockSize)
		if err != nil {
			return nil, err
		}

		return d, nil
	default:
		return disk.NewMemory(cfg.BlockSize, uint64(cfg.DiskBlocks)), nil
	}
}

func background(c *cpu.Core) context.Context {
	return cpu.WithCore(context.Background(), c)
}

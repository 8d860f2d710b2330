package kernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/fs"
	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/mem/kalloc"
	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/mem/vm/vma"
	"github.com/sarchlab/kcore/sim/cpu"
)

// ErrUnexpected is returned when a scenario does not end as it should.
var ErrUnexpected = errors.New("kernel: unexpected outcome")

// ErrNoScenario is returned for an unknown scenario number.
var ErrNoScenario = errors.New("kernel: no such scenario")

// A Scenario is a scripted end-to-end run of the kernel with a known
// outcome.
type Scenario struct {
	Number int
	Title  string

	run func(b Builder) (string, error)
}

// Run executes the scenario on kernels made by b and describes the outcome.
func (s Scenario) Run(b Builder) (string, error) {
	return s.run(b)
}

// Scenarios lists the end-to-end scenarios in order.
func Scenarios() []Scenario {
	return []Scenario{
		{1, "allocation on an empty CPU steals from CPU 0", stealScenario},
		{2, "a miss recycles the least recently used buffer", lruScenario},
		{3, "private mapping writes stay in memory", func(b Builder) (string, error) {
			return mmapScenario(b, vma.MapPrivate, "hello")
		}},
		{4, "shared mapping writes reach the file", func(b Builder) (string, error) {
			return mmapScenario(b, vma.MapShared, "world")
		}},
		{5, "concurrent reads of one block share one disk read", concurrentReadScenario},
		{6, "fork copies user memory", forkScenario},
	}
}

// RunScenario runs scenario n.
func RunScenario(b Builder, n int) (string, error) {
	for _, s := range Scenarios() {
		if s.Number == n {
			return s.Run(b)
		}
	}

	return "", fmt.Errorf("%w: %d", ErrNoScenario, n)
}

func unexpected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnexpected, fmt.Sprintf(format, args...))
}

func stealScenario(_ Builder) (string, error) {
	mem := phys.NewMemory(phys.LayoutWithFrames(16))
	a := kalloc.MakeBuilder().
		WithMemory(mem).
		WithNumCPU(4).
		WithNumStealPage(8).
		Build("Scenario1.Kalloc")

	ctx := background(cpu.NewCores(4)[3])
	seen := make(map[phys.Addr]bool)

	for i := 0; i < 8; i++ {
		pa, ok := a.Alloc(ctx)
		if !ok || pa == 0 || seen[pa] {
			return "", unexpected("allocation %d returned %s, ok %t", i, pa, ok)
		}

		seen[pa] = true
	}

	if a.FreeFrames(0) != 8 || a.FreeFrames(3) != 0 {
		return "", unexpected("cpu0 holds %d frames, cpu3 holds %d",
			a.FreeFrames(0), a.FreeFrames(3))
	}

	return fmt.Sprintf("cpu3 got 8 distinct frames; cpu0 holds %d, cpu3 holds %d",
		a.FreeFrames(0), a.FreeFrames(3)), nil
}

func (b Builder) scenarioDisk() bcache.Disk {
	if b.disk != nil {
		return b.disk
	}

	return disk.NewMemory(b.cfg.BlockSize, uint64(b.cfg.DiskBlocks))
}

func lruScenario(b Builder) (string, error) {
	c := bcache.MakeBuilder().
		WithNumBuf(3).
		WithNumBucket(2).
		WithBlockSize(b.cfg.BlockSize).
		WithDisk(b.scenarioDisk()).
		Build("Scenario2.BCache")

	ctx := background(cpu.NewCores(1)[0])

	first := -1

	for blockno := uint32(0); blockno < 3; blockno++ {
		buf := c.Read(ctx, 1, blockno)
		if blockno == 0 {
			first = buf.Index()
		}

		c.Release(ctx, buf)
	}

	buf := c.Read(ctx, 1, 4)
	defer c.Release(ctx, buf)

	if buf.Index() != first {
		return "", unexpected("(1,4) got buffer %d, (1,0) was in buffer %d",
			buf.Index(), first)
	}

	return fmt.Sprintf("(1,4) recycled buffer %d that held (1,0)", first), nil
}

// countingDisk counts reads and makes each transfer slow enough for
// concurrent requests to overlap.
type countingDisk struct {
	bcache.Disk

	delay time.Duration
	reads atomic.Int64
}

func (d *countingDisk) RW(ctx context.Context, b *bcache.Buf, write bool) error {
	if !write {
		d.reads.Add(1)
	}

	time.Sleep(d.delay)

	return d.Disk.RW(ctx, b, write)
}

func concurrentReadScenario(b Builder) (string, error) {
	d := &countingDisk{Disk: b.scenarioDisk(), delay: 10 * time.Millisecond}
	c := bcache.MakeBuilder().
		WithNumBuf(b.cfg.NumBuf).
		WithNumBucket(b.cfg.NumBucket).
		WithBlockSize(b.cfg.BlockSize).
		WithDisk(d).
		Build("Scenario5.BCache")

	cores := cpu.NewCores(2)
	got := make([]*bcache.Buf, 2)

	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			ctx := cpu.WithPID(background(cores[i]), i+1)
			got[i] = c.Read(ctx, 1, 7)
			c.Release(ctx, got[i])
		}(i)
	}

	wg.Wait()

	ctx := background(cores[0])

	switch {
	case d.reads.Load() != 1:
		return "", unexpected("%d disk reads", d.reads.Load())
	case got[0] != got[1]:
		return "", unexpected("different buffers %s and %s", got[0], got[1])
	case c.RefCount(ctx, got[0]) != 0:
		return "", unexpected("refcnt %d", c.RefCount(ctx, got[0]))
	}

	return fmt.Sprintf("one disk read; both cpus got %s; refcnt 0", got[0]), nil
}

func mmapScenario(b Builder, flags int, want string) (string, error) {
	k := b.Build("Scenario")
	ctx := k.Context(0, 0)

	defer func() { _ = k.Shutdown(ctx) }()

	if _, err := k.FS().Create(ctx, "hello", []byte("hello"), 0); err != nil {
		return "", err
	}

	p, err := k.Spawn(ctx, phys.PageSize)
	if err != nil {
		return "", err
	}

	pctx := p.Context(ctx)

	if err := p.CopyOut(pctx, 0, []byte("hello\x00")); err != nil {
		return "", err
	}

	mode := fs.ORdOnly
	if flags == vma.MapShared {
		mode = fs.ORdWr
	}

	fd := k.SysOpen(ctx, p, 0, mode)
	if fd == SysFail {
		return "", unexpected("open failed")
	}

	va := k.SysMmap(ctx, p, 0, 8192, vma.ProtRead|vma.ProtWrite, flags, int(fd), 0)
	if va == SysFail {
		return "", unexpected("mmap failed")
	}

	data, err := p.Load(pctx, va, 5)
	if err != nil {
		return "", err
	}

	if string(data) != "hello" {
		return "", unexpected("mapping reads %q", data)
	}

	if err := p.Store(pctx, va, []byte("world")); err != nil {
		return "", err
	}

	if k.SysMunmap(ctx, p, va, 8192) == SysFail {
		return "", unexpected("munmap failed")
	}

	f, err := k.FS().Open("hello", fs.ORdOnly)
	if err != nil {
		return "", err
	}
	defer f.Close(ctx)

	data = make([]byte, 5)
	if _, err := f.ReadAt(ctx, data, 0); err != nil {
		return "", err
	}

	if string(data) != want {
		return "", unexpected("file holds %q after munmap, want %q", data, want)
	}

	return fmt.Sprintf("mapped at 0x%x; file holds %q after munmap", va, data), nil
}

func forkScenario(b Builder) (string, error) {
	k := b.Build("Scenario")
	ctx := k.Context(0, 0)

	defer func() { _ = k.Shutdown(ctx) }()

	parent, err := k.Spawn(ctx, 2*phys.PageSize)
	if err != nil {
		return "", err
	}

	pages := [][]byte{
		bytes.Repeat([]byte{'A'}, phys.PageSize),
		bytes.Repeat([]byte{'B'}, phys.PageSize),
	}

	for i, page := range pages {
		if err := parent.Store(parent.Context(ctx), uint64(i*phys.PageSize), page); err != nil {
			return "", err
		}
	}

	pid := k.SysFork(ctx, parent)
	if pid == SysFail {
		return "", unexpected("fork failed")
	}

	child, err := k.procs.Lookup(int(pid))
	if err != nil {
		return "", err
	}

	for i, page := range pages {
		data, err := child.Load(child.Context(ctx), uint64(i*phys.PageSize), phys.PageSize)
		if err != nil {
			return "", err
		}

		if !bytes.Equal(data, page) {
			return "", unexpected("child page %d differs", i)
		}
	}

	if err := child.Store(child.Context(ctx), 0, []byte("CCC")); err != nil {
		return "", err
	}

	data, err := parent.Load(parent.Context(ctx), 0, phys.PageSize)
	if err != nil {
		return "", err
	}

	if !bytes.Equal(data, pages[0]) {
		return "", unexpected("child write leaked into the parent")
	}

	return fmt.Sprintf("child %d sees both pages; its write to page 0 stays private (cow %t)",
		child.PID(), k.cfg.CopyOnWrite), nil
}

package proc

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/sarchlab/kcore/mem/vm"
	"github.com/sarchlab/kcore/mem/vm/vma"
)

// A Table allocates process ids and keeps the live processes.
type Table struct {
	vm     *vm.Manager
	nvma   int
	nofile int
	cow    bool

	mu      sync.Mutex
	nextPID int
	procs   map[int]*Proc
}

// A TableBuilder can build process tables.
type TableBuilder struct {
	vm     *vm.Manager
	nvma   int
	nofile int
	cow    bool
}

// MakeTableBuilder creates a builder with vma.NVMA mappings and NOFILE open
// files per process.
func MakeTableBuilder() TableBuilder {
	return TableBuilder{
		nvma:   vma.NVMA,
		nofile: NOFILE,
	}
}

// WithVM sets the page-table manager.
func (b TableBuilder) WithVM(m *vm.Manager) TableBuilder {
	b.vm = m
	return b
}

// WithNumVMA sets the number of mapping slots per process.
func (b TableBuilder) WithNumVMA(n int) TableBuilder {
	b.nvma = n
	return b
}

// WithNumFile sets the number of descriptors per process.
func (b TableBuilder) WithNumFile(n int) TableBuilder {
	b.nofile = n
	return b
}

// WithCopyOnWrite makes fork share user pages copy-on-write instead of
// copying them.
func (b TableBuilder) WithCopyOnWrite(cow bool) TableBuilder {
	b.cow = cow
	return b
}

// Build creates the table.
func (b TableBuilder) Build() *Table {
	if b.vm == nil {
		log.Panic("proc: vm must be set")
	}

	return &Table{
		vm:      b.vm,
		nvma:    b.nvma,
		nofile:  b.nofile,
		cow:     b.cow,
		nextPID: 1,
		procs:   make(map[int]*Proc),
	}
}

// Alloc creates a process with empty user memory.
func (t *Table) Alloc(ctx context.Context) (*Proc, error) {
	pt, err := t.vm.CreateUser(ctx)
	if err != nil {
		return nil, ErrNoMemory
	}

	kpt, err := t.vm.InitProcKernel(ctx)
	if err != nil {
		t.vm.FreeUser(ctx, pt, 0)
		return nil, ErrNoMemory
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := &Proc{
		pid:   t.nextPID,
		table: t,
		pt:    pt,
		kpt:   kpt,
		files: make([]vma.File, t.nofile),
		maps:  vma.NewTable(t.vm, t.nvma),
	}

	t.nextPID++
	t.procs[p.pid] = p

	return p, nil
}

// Fork creates a child holding a copy of the memory, the mappings and the
// open files of parent.
func (t *Table) Fork(ctx context.Context, parent *Proc) (*Proc, error) {
	child, err := t.Alloc(ctx)
	if err != nil {
		return nil, err
	}

	parent.mu.Lock()
	sz := parent.sz

	if t.cow {
		err = t.vm.ShareUser(ctx, parent.pt, child.pt, sz)
		if err == nil {
			t.remirrorAll(ctx, parent, sz)
		}
	} else {
		err = t.vm.CopyUser(ctx, parent.pt, child.pt, sz)
	}

	files := make([]vma.File, len(parent.files))
	copy(files, parent.files)
	parent.mu.Unlock()

	if err != nil {
		t.free(ctx, child)
		return nil, ErrNoMemory
	}

	if err := t.vm.CopyToKernel(ctx, child.pt, child.kpt, 0, sz); err != nil {
		t.vm.FreeUser(ctx, child.pt, sz)
		t.vm.FreeKernel(ctx, child.kpt)
		t.forget(child)

		return nil, ErrNoMemory
	}

	child.sz = sz
	child.parent = parent

	for fd, f := range files {
		if f != nil && fd < len(child.files) {
			child.files[fd] = f.Dup()
		}
	}

	parent.maps.Fork(ctx, child.maps)

	return child, nil
}

// remirrorAll refreshes the kernel mirror of the parent after sharing
// cleared its write permissions. The caller holds parent.mu.
func (t *Table) remirrorAll(ctx context.Context, parent *Proc, sz uint64) {
	t.vm.ShrinkKernel(ctx, parent.kpt, sz, 0)

	if err := t.vm.CopyToKernel(ctx, parent.pt, parent.kpt, 0, sz); err != nil {
		parent.Kill()
	}
}

// free releases a process that never ran.
func (t *Table) free(ctx context.Context, p *Proc) {
	t.vm.FreeUser(ctx, p.pt, p.sz)
	t.vm.FreeKernel(ctx, p.kpt)
	t.forget(p)
}

func (t *Table) forget(p *Proc) {
	t.mu.Lock()
	delete(t.procs, p.pid)
	t.mu.Unlock()
}

// Exit tears down a process: its mappings go first, then its files, its
// user memory and its kernel table. The process is gone even when a mapping
// could not be written back; that failure is returned.
func (t *Table) Exit(ctx context.Context, p *Proc) error {
	err := p.maps.UnmapAll(ctx, p.pt)

	p.mu.Lock()
	files := p.files
	p.files = make([]vma.File, len(files))
	p.mu.Unlock()

	for _, f := range files {
		if f != nil {
			f.Close(ctx)
		}
	}

	p.mu.Lock()
	t.vm.FreeUser(ctx, p.pt, p.sz)
	t.vm.FreeKernel(ctx, p.kpt)
	p.pt, p.kpt, p.sz = 0, 0, 0
	p.state = Zombie
	p.mu.Unlock()

	t.forget(p)

	return err
}

// Lookup returns a live process.
func (t *Table) Lookup(pid int) (*Proc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return nil, ErrNoProcess
	}

	return p, nil
}

// Count returns the number of live processes.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.procs)
}

// PIDs returns the ids of the live processes in ascending order.
func (t *Table) PIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	pids := make([]int, 0, len(t.procs))
	for pid := range t.procs {
		pids = append(pids, pid)
	}

	sort.Ints(pids)

	return pids
}

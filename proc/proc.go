// Package proc keeps the process records the memory subsystems serve: the
// two page tables of a process, its size, its mappings and its open files.
// Scheduling and traps live elsewhere; Load and Store stand in for user
// instructions touching memory.
package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/mem/vm"
	"github.com/sarchlab/kcore/mem/vm/vma"
	"github.com/sarchlab/kcore/sim/cpu"
)

// NOFILE is the default number of open files per process.
const NOFILE = 16

// Errors returned by process operations.
var (
	ErrSegFault  = errors.New("proc: segmentation fault")
	ErrNoMemory  = errors.New("proc: out of memory")
	ErrBadFD     = errors.New("proc: bad file descriptor")
	ErrNoFD      = errors.New("proc: too many open files")
	ErrNoProcess = errors.New("proc: no such process")
)

// State is the life-cycle state of a process.
type State int

// Process states.
const (
	Used State = iota
	Zombie
)

// A Proc is one process.
type Proc struct {
	pid    int
	table  *Table
	parent *Proc

	mu     sync.Mutex
	state  State
	pt     vm.PageTable
	kpt    vm.PageTable
	sz     uint64
	files  []vma.File
	maps   *vma.Table
	killed atomic.Bool
}

// PID returns the process id.
func (p *Proc) PID() int {
	return p.pid
}

// Parent returns the process that forked p, or nil.
func (p *Proc) Parent() *Proc {
	return p.parent
}

// State returns the life-cycle state.
func (p *Proc) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// PageTable returns the user page table.
func (p *Proc) PageTable() vm.PageTable {
	return p.pt
}

// KernelTable returns the private kernel page table.
func (p *Proc) KernelTable() vm.PageTable {
	return p.kpt
}

// Size returns the size of the user memory in bytes.
func (p *Proc) Size() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sz
}

// Mappings returns the file mappings of the process.
func (p *Proc) Mappings() *vma.Table {
	return p.maps
}

// Kill marks the process as killed.
func (p *Proc) Kill() {
	p.killed.Store(true)
}

// Killed tells if the process has been killed.
func (p *Proc) Killed() bool {
	return p.killed.Load()
}

// Context binds the process to the execution context of a CPU.
func (p *Proc) Context(ctx context.Context) context.Context {
	return cpu.WithPID(withProc(ctx, p), p.pid)
}

// Grow changes the size of the user memory by n bytes, like sbrk. New
// memory is zeroed and mirrored into the kernel table. It returns the old
// size.
func (p *Proc) Grow(ctx context.Context, n int64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.table.vm
	oldsz := p.sz

	if n >= 0 {
		newsz := oldsz + uint64(n)
		if newsz < oldsz || newsz >= uint64(phys.PLIC) {
			return oldsz, ErrNoMemory
		}

		sz, err := m.GrowUser(ctx, p.pt, oldsz, newsz)
		if err != nil {
			return oldsz, fmt.Errorf("%w: %w", ErrNoMemory, err)
		}

		if err := m.CopyToKernel(ctx, p.pt, p.kpt, oldsz, sz); err != nil {
			m.ShrinkUser(ctx, p.pt, sz, oldsz)
			return oldsz, fmt.Errorf("%w: %w", ErrNoMemory, err)
		}

		p.sz = sz

		return oldsz, nil
	}

	shrink := uint64(-n)
	if shrink > oldsz {
		return oldsz, ErrNoMemory
	}

	newsz := oldsz - shrink
	m.ShrinkKernel(ctx, p.kpt, oldsz, newsz)
	p.sz = m.ShrinkUser(ctx, p.pt, oldsz, newsz)

	return oldsz, nil
}

// AddFile installs f in the lowest free descriptor. The process takes over
// the caller's reference.
func (p *Proc) AddFile(f vma.File) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for fd, cur := range p.files {
		if cur == nil {
			p.files[fd] = f
			return fd, nil
		}
	}

	return -1, ErrNoFD
}

// File returns the open file behind fd.
func (p *Proc) File(fd int) (vma.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fd < 0 || fd >= len(p.files) || p.files[fd] == nil {
		return nil, ErrBadFD
	}

	return p.files[fd], nil
}

// CloseFile closes a descriptor.
func (p *Proc) CloseFile(ctx context.Context, fd int) error {
	p.mu.Lock()

	if fd < 0 || fd >= len(p.files) || p.files[fd] == nil {
		p.mu.Unlock()
		return ErrBadFD
	}

	f := p.files[fd]
	p.files[fd] = nil
	p.mu.Unlock()

	f.Close(ctx)

	return nil
}

// Load reads n bytes of user memory at va the way a user load would,
// faulting in mapped pages on the way.
func (p *Proc) Load(ctx context.Context, va uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)

	for len(out) < n {
		pa, err := p.translate(ctx, va, vm.AccessRead)
		if err != nil {
			return nil, err
		}

		chunk := min(n-len(out), int(phys.PageSize-va%phys.PageSize))

		data, err := p.table.vm.Memory().Read(pa, chunk)
		if err != nil {
			return nil, err
		}

		out = append(out, data...)
		va += uint64(chunk)
	}

	return out, nil
}

// Store writes data to user memory at va the way a user store would.
func (p *Proc) Store(ctx context.Context, va uint64, data []byte) error {
	for len(data) > 0 {
		pa, err := p.translate(ctx, va, vm.AccessWrite)
		if err != nil {
			return err
		}

		chunk := min(len(data), int(phys.PageSize-va%phys.PageSize))

		if err := p.table.vm.Memory().Write(pa, data[:chunk]); err != nil {
			return err
		}

		data = data[chunk:]
		va += uint64(chunk)
	}

	return nil
}

// translate resolves a user access, handling the page fault it raises if
// the page is copy-on-write or belongs to a mapping.
func (p *Proc) translate(ctx context.Context, va uint64, access vm.Access) (phys.Addr, error) {
	m := p.table.vm

	pa, err := m.Translate(ctx, p.pt, va, access)
	if err == nil {
		return pa, nil
	}

	if !errors.Is(err, vm.ErrPageFault) {
		return 0, err
	}

	if err := p.handleFault(ctx, va, access); err != nil {
		return 0, fmt.Errorf("%w: %s at 0x%x: %w", ErrSegFault, access, va, err)
	}

	return m.Translate(ctx, p.pt, va, access)
}

func (p *Proc) handleFault(ctx context.Context, va uint64, access vm.Access) error {
	m := p.table.vm

	if access == vm.AccessWrite {
		resolved, err := m.ResolveCOW(ctx, p.pt, va)
		if err != nil {
			return err
		}

		if resolved {
			p.remirror(ctx, va)
			return nil
		}
	}

	return p.maps.HandleFault(ctx, p.pt, va, access)
}

// remirror points the kernel mirror of the page at va to the frame the
// user table now maps.
func (p *Proc) remirror(ctx context.Context, va uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg := phys.RoundDown(va)
	if pg >= p.sz {
		return
	}

	m := p.table.vm
	m.ShrinkKernel(ctx, p.kpt, pg+phys.PageSize, pg)

	if err := m.CopyToKernel(ctx, p.pt, p.kpt, pg, pg+phys.PageSize); err != nil {
		p.Kill()
	}
}

// CopyOut copies src to user memory at va on behalf of the kernel.
func (p *Proc) CopyOut(ctx context.Context, va uint64, src []byte) error {
	m := p.table.vm

	if err := m.CopyOut(ctx, p.pt, va, src); err != nil {
		return err
	}

	if p.table.cow {
		for pg := phys.RoundDown(va); pg < va+uint64(len(src)); pg += phys.PageSize {
			p.remirror(ctx, pg)
		}
	}

	return nil
}

// CopyIn fills dst from user memory at va through the kernel mirror.
func (p *Proc) CopyIn(ctx context.Context, dst []byte, va uint64) error {
	return p.table.vm.CopyInShadow(ctx, p.kpt, dst, va, p.Size())
}

// CopyInStr copies a NUL-terminated string from user memory at va.
func (p *Proc) CopyInStr(ctx context.Context, va, maxLen uint64) (string, error) {
	return p.table.vm.CopyInStrShadow(ctx, p.kpt, va, maxLen, p.Size())
}

type procKey struct{}

func withProc(ctx context.Context, p *Proc) context.Context {
	return context.WithValue(ctx, procKey{}, p)
}

// FromContext returns the process bound to ctx, or nil.
func FromContext(ctx context.Context) *Proc {
	p, _ := ctx.Value(procKey{}).(*Proc)
	return p
}

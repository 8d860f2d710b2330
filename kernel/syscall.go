package kernel

import (
	"context"
	"encoding/binary"

	"github.com/sarchlab/kcore/proc"
)

// SysFail is what a system call returns on any error, -1 seen as unsigned.
const SysFail = ^uint64(0)

// MaxPath is the longest path a system call accepts, terminator included.
const MaxPath = 128

// SysMmap maps length bytes of the open file fd, from offset, into the
// process. The address hint is ignored. It returns the start of the region.
func (k *Kernel) SysMmap(
	ctx context.Context,
	p *proc.Proc,
	_, length uint64,
	prot, flags, fd int,
	offset uint64,
) uint64 {
	f, err := p.File(fd)
	if err != nil {
		return SysFail
	}

	va, err := p.Mappings().Map(p.Context(ctx), length, prot, flags, f, offset)
	if err != nil {
		return SysFail
	}

	return va
}

// SysMunmap removes length bytes at addr from the mappings of the process.
func (k *Kernel) SysMunmap(ctx context.Context, p *proc.Proc, addr, length uint64) uint64 {
	err := p.Mappings().Unmap(p.Context(ctx), p.PageTable(), addr, length)
	if err != nil {
		return SysFail
	}

	return 0
}

// SysSbrk grows or shrinks the process memory by n bytes and returns the old
// size.
func (k *Kernel) SysSbrk(ctx context.Context, p *proc.Proc, n int64) uint64 {
	old, err := p.Grow(p.Context(ctx), n)
	if err != nil {
		return SysFail
	}

	return old
}

// SysFork creates a child of the process and returns its pid.
func (k *Kernel) SysFork(ctx context.Context, p *proc.Proc) uint64 {
	child, err := k.procs.Fork(p.Context(ctx), p)
	if err != nil {
		return SysFail
	}

	return uint64(child.PID())
}

// SysExit tears the process down.
func (k *Kernel) SysExit(ctx context.Context, p *proc.Proc) uint64 {
	if err := k.procs.Exit(p.Context(ctx), p); err != nil {
		return SysFail
	}

	return 0
}

// SysInfo copies the free memory in bytes and the number of processes, two
// little-endian 64-bit words, to addr in the process.
func (k *Kernel) SysInfo(ctx context.Context, p *proc.Proc, addr uint64) uint64 {
	info := make([]byte, 16)
	binary.LittleEndian.PutUint64(info[0:], k.kalloc.FreeMem())
	binary.LittleEndian.PutUint64(info[8:], uint64(k.procs.Count()))

	if err := p.CopyOut(p.Context(ctx), addr, info); err != nil {
		return SysFail
	}

	return 0
}

// SysOpen opens the file whose name is the string at path in the process and
// returns the new descriptor.
func (k *Kernel) SysOpen(ctx context.Context, p *proc.Proc, path uint64, mode int) uint64 {
	name, err := p.CopyInStr(p.Context(ctx), path, MaxPath)
	if err != nil {
		return SysFail
	}

	f, err := k.fs.Open(name, mode)
	if err != nil {
		return SysFail
	}

	fd, err := p.AddFile(f)
	if err != nil {
		f.Close(ctx)
		return SysFail
	}

	return uint64(fd)
}

// SysClose closes a descriptor.
func (k *Kernel) SysClose(ctx context.Context, p *proc.Proc, fd int) uint64 {
	if err := p.CloseFile(p.Context(ctx), fd); err != nil {
		return SysFail
	}

	return 0
}

// SysRead reads up to n bytes at offset off of fd into the process at addr.
// It returns the number of bytes read.
func (k *Kernel) SysRead(
	ctx context.Context,
	p *proc.Proc,
	fd int,
	addr, n, off uint64,
) uint64 {
	f, err := p.File(fd)
	if err != nil || !f.Readable() {
		return SysFail
	}

	buf := make([]byte, n)

	got, err := f.ReadAt(p.Context(ctx), buf, off)
	if err != nil {
		return SysFail
	}

	if err := p.CopyOut(p.Context(ctx), addr, buf[:got]); err != nil {
		return SysFail
	}

	return uint64(got)
}

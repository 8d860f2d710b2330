// Package vma implements file-backed memory mappings: the per-process table
// of virtual memory areas, mmap and munmap, and the page-fault handler that
// fills mapped pages on first touch.
package vma

import (
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/mem/vm"
)

// Protection bits of a mapping.
const (
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
	ProtExec  = 1 << 2
)

// Mapping flags.
const (
	MapShared  = 0x01
	MapPrivate = 0x02
)

// NVMA is the default number of mapping slots of a process.
const NVMA = 16

// End is the ceiling below which mappings are placed.
const End = phys.Trapframe

// Errors returned by the mapping operations.
var (
	ErrInvalid    = errors.New("vma: invalid argument")
	ErrNoSlot     = errors.New("vma: no free slot")
	ErrNotMapped  = errors.New("vma: address not mapped")
	ErrProtection = errors.New("vma: protection violation")
)

// A File is an open file that can back a mapping.
type File interface {
	Readable() bool
	Writable() bool

	// Dup adds a reference to the open file.
	Dup() File

	// Close drops a reference to the open file.
	Close(ctx context.Context)

	// ReadAt reads from the file at off. Reading past the end of the file
	// returns fewer bytes.
	ReadAt(ctx context.Context, p []byte, off uint64) (int, error)

	// WriteAt writes to the file at off. A file that cannot hold all of p
	// writes what fits and returns the short count without an error.
	WriteAt(ctx context.Context, p []byte, off uint64) (int, error)
}

// A VMA describes one mapped region of a process.
type VMA struct {
	Start  uint64
	Length uint64
	Prot   int
	Flags  int
	Offset uint64
	File   File
}

// End returns the first address after the region.
func (v VMA) End() uint64 {
	return v.Start + v.Length
}

// Contains tells if va falls in the region.
func (v VMA) Contains(va uint64) bool {
	return va >= v.Start && va < v.End()
}

// Shared tells if stores to the region reach the file.
func (v VMA) Shared() bool {
	return v.Flags&MapShared != 0
}

// fileOffset returns the file position backing va.
func (v VMA) fileOffset(va uint64) uint64 {
	return v.Offset + (va - v.Start)
}

// perm converts the protection of the region into leaf permissions.
func (v VMA) perm() vm.PTE {
	var perm vm.PTE

	if v.Prot&ProtRead != 0 {
		perm |= vm.PteR
	}

	if v.Prot&ProtWrite != 0 {
		perm |= vm.PteW
	}

	if v.Prot&ProtExec != 0 {
		perm |= vm.PteX
	}

	return perm | vm.PteU | vm.PteMmap
}

func (v VMA) allows(access vm.Access) bool {
	switch access {
	case vm.AccessWrite:
		return v.Prot&ProtWrite != 0
	case vm.AccessExec:
		return v.Prot&ProtExec != 0
	default:
		return v.Prot&ProtRead != 0
	}
}

func (v VMA) String() string {
	return fmt.Sprintf("[0x%x, 0x%x) prot %d flags %d off %d",
		v.Start, v.End(), v.Prot, v.Flags, v.Offset)
}

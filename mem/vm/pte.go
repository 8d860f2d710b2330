package vm

import (
	"github.com/sarchlab/kcore/mem/phys"
)

// A PTE is a Sv39 page-table entry: a physical page number in bits 10-53 and
// permission and status flags in the low ten bits.
type PTE uint64

// PTE flag bits.
const (
	PteV PTE = 1 << 0
	PteR PTE = 1 << 1
	PteW PTE = 1 << 2
	PteX PTE = 1 << 3
	PteU PTE = 1 << 4
	PteG PTE = 1 << 5
	PteA PTE = 1 << 6
	PteD PTE = 1 << 7

	// The two bits reserved for software. PteCOW marks a page shared
	// copy-on-write; PteMmap marks a page that backs a file mapping.
	PteCOW  PTE = 1 << 8
	PteMmap PTE = 1 << 9
)

const flagMask PTE = 0x3FF

// EntriesPerTable is the number of PTEs in one page-table page.
const EntriesPerTable = 512

// PA2PTE builds the physical-page-number part of a PTE.
func PA2PTE(pa phys.Addr) PTE {
	return PTE((uint64(pa) >> phys.PageShift) << 10)
}

// PA returns the physical address the entry points to.
func (p PTE) PA() phys.Addr {
	return phys.Addr((uint64(p) >> 10) << phys.PageShift)
}

// Flags returns the low ten bits.
func (p PTE) Flags() PTE {
	return p & flagMask
}

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool {
	return p&PteV != 0
}

// Leaf reports whether a valid entry maps a page rather than pointing to the
// next level of the tree.
func (p PTE) Leaf() bool {
	return p&(PteR|PteW|PteX) != 0
}

// PX extracts the 9-bit index of va for the given level.
func PX(level int, va uint64) int {
	shift := phys.PageShift + 9*level
	return int((va >> shift) & 0x1FF)
}

// A PageTable is identified by the physical address of its root page.
type PageTable phys.Addr

// A PTERef is a reference to one PTE in simulated memory.
type PTERef struct {
	mem  *phys.Memory
	addr phys.Addr
}

// Load reads the PTE.
func (e PTERef) Load() PTE {
	return PTE(e.mem.Load64(e.addr))
}

// Store overwrites the PTE.
func (e PTERef) Store(p PTE) {
	e.mem.Store64(e.addr, uint64(p))
}

// Addr returns the physical address of the PTE itself.
func (e PTERef) Addr() phys.Addr {
	return e.addr
}

// Package phys describes the physical memory of the simulated machine: the
// address layout, page arithmetic, and direct-mapped access to frames.
package phys

import "strconv"

// Addr is a physical address.
type Addr uint64

func (a Addr) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// Page geometry.
const (
	PageSize  = 4096
	PageShift = 12
)

// Physical layout of the board. The kernel image starts at KernBase; RAM runs
// up to the layout's PhysTop.
const (
	UART0   Addr = 0x10000000
	VIRTIO0 Addr = 0x10001000
	CLINT   Addr = 0x02000000
	PLIC    Addr = 0x0c000000

	KernBase Addr = 0x80000000
)

// MaxVA is one beyond the highest virtual address allowed by Sv39. It is one
// bit less than the maximum to avoid sign-extending addresses with the high
// bit set.
const MaxVA uint64 = 1 << (9 + 9 + 9 + 12 - 1)

// Fixed virtual addresses at the top of every address space.
const (
	Trampoline uint64 = MaxVA - PageSize
	Trapframe  uint64 = Trampoline - PageSize
)

// RoundUp rounds a up to a page boundary.
func RoundUp(a uint64) uint64 {
	return (a + PageSize - 1) &^ (PageSize - 1)
}

// RoundDown rounds a down to a page boundary.
func RoundDown(a uint64) uint64 {
	return a &^ (PageSize - 1)
}

// Aligned reports whether a is page aligned.
func Aligned(a uint64) bool {
	return a%PageSize == 0
}

// A Layout places the kernel image and the end of RAM.
type Layout struct {
	// KernelText is the first address after the kernel's code.
	KernelText Addr
	// KernelEnd is the first address after the kernel image.
	KernelEnd Addr
	// PhysTop is the first address after RAM.
	PhysTop Addr
}

// LayoutWithFrames returns a layout whose allocatable RAM, between the
// kernel image and PhysTop, holds exactly numFrames frames.
func LayoutWithFrames(numFrames int) Layout {
	text := KernBase + 8*PageSize
	end := KernBase + 32*PageSize

	return Layout{
		KernelText: text,
		KernelEnd:  end,
		PhysTop:    end + Addr(numFrames)*PageSize,
	}
}

// DefaultLayout is a 128 MiB machine.
func DefaultLayout() Layout {
	l := LayoutWithFrames(0)
	l.PhysTop = KernBase + 128*1024*1024

	return l
}

// NumFrames returns how many frames lie between KernelEnd and PhysTop.
func (l Layout) NumFrames() int {
	return int((l.PhysTop - Addr(RoundUp(uint64(l.KernelEnd)))) / PageSize)
}

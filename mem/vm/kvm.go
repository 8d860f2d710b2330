package vm

import (
	"context"
	"log"

	"github.com/sarchlab/kcore/mem/phys"
)

type kernelMapping struct {
	va   uint64
	pa   phys.Addr
	size uint64
	perm PTE
}

// kernelMappings lists the direct-mapped regions every kernel page table
// carries. The CLINT is only needed by the boot table, which programs the
// timer.
func (m *Manager) kernelMappings(withCLINT bool) []kernelMapping {
	layout := m.mem.Layout()

	mappings := []kernelMapping{
		{uint64(phys.UART0), phys.UART0, phys.PageSize, PteR | PteW},
		{uint64(phys.VIRTIO0), phys.VIRTIO0, phys.PageSize, PteR | PteW},
	}

	if withCLINT {
		mappings = append(mappings,
			kernelMapping{uint64(phys.CLINT), phys.CLINT, 0x10000, PteR | PteW})
	}

	return append(mappings,
		kernelMapping{uint64(phys.PLIC), phys.PLIC, 0x400000, PteR | PteW},
		kernelMapping{
			uint64(phys.KernBase), phys.KernBase,
			uint64(layout.KernelText - phys.KernBase), PteR | PteX,
		},
		kernelMapping{
			uint64(layout.KernelText), layout.KernelText,
			uint64(layout.PhysTop - layout.KernelText), PteR | PteW,
		},
		kernelMapping{phys.Trampoline, m.trampoline, phys.PageSize, PteR | PteX},
	)
}

// InitKernel creates the boot kernel page table: devices, kernel text,
// kernel data and RAM, all direct mapped, plus the trampoline page at the
// top of the address space.
func (m *Manager) InitKernel(ctx context.Context) {
	root, ok := m.newTable(ctx)
	if !ok {
		log.Panic("kvminit")
	}

	m.kernel = PageTable(root)

	for _, km := range m.kernelMappings(true) {
		if err := m.MapPages(ctx, m.kernel, km.va, km.size, km.pa, km.perm); err != nil {
			log.Panicf("kvmmap: 0x%x", km.va)
		}
	}
}

// KernelTable returns the boot kernel page table.
func (m *Manager) KernelTable() PageTable {
	return m.kernel
}

// InitProcKernel creates the private kernel page table of a process. It
// carries the same mappings as the boot table except the CLINT. User pages
// are added later with CopyToKernel.
func (m *Manager) InitProcKernel(ctx context.Context) (PageTable, error) {
	root, ok := m.newTable(ctx)
	if !ok {
		return 0, ErrOutOfMemory
	}

	pt := PageTable(root)
	for _, km := range m.kernelMappings(false) {
		if err := m.MapPages(ctx, pt, km.va, km.size, km.pa, km.perm); err != nil {
			m.FreeKernel(ctx, pt)
			return 0, err
		}
	}

	return pt, nil
}

// CopyToKernel mirrors the user pages [va, vaEnd) of upt into the process
// kernel table kpt with the U bit cleared. No frame is copied. On failure
// the mirrors added by this call are removed again.
func (m *Manager) CopyToKernel(
	ctx context.Context,
	upt, kpt PageTable,
	va, vaEnd uint64,
) error {
	va = phys.RoundUp(va)
	vaEnd = phys.RoundUp(vaEnd)

	for i := va; i < vaEnd; i += phys.PageSize {
		e, ok := m.Walk(ctx, upt, i, false)
		if !ok {
			log.Panicf("kvmcopy: pte should exist 0x%x", i)
		}

		pte := e.Load()
		if !pte.Valid() {
			log.Panicf("kvmcopy: page not present 0x%x", i)
		}

		flags := pte.Flags() &^ (PteU | PteV)

		err := m.MapPages(ctx, kpt, i, phys.PageSize, pte.PA(), flags)
		if err != nil {
			m.ShrinkKernel(ctx, kpt, i, va)
			return err
		}
	}

	return nil
}

// ShrinkKernel removes the user mirrors between newsz and oldsz from a
// process kernel table without touching the frames.
func (m *Manager) ShrinkKernel(
	ctx context.Context,
	kpt PageTable,
	oldsz, newsz uint64,
) uint64 {
	return m.shrink(ctx, kpt, oldsz, newsz, false)
}

// FreeKernel releases the page-table pages of a process kernel table. Leaf
// mappings are left alone: every frame they point to belongs to someone
// else.
func (m *Manager) FreeKernel(ctx context.Context, kpt PageTable) {
	m.freeTables(ctx, phys.Addr(kpt))
}

func (m *Manager) freeTables(ctx context.Context, table phys.Addr) {
	for i := 0; i < EntriesPerTable; i++ {
		pte := m.entry(table, i).Load()
		if pte.Valid() && !pte.Leaf() {
			m.freeTables(ctx, pte.PA())
		}
	}

	m.alloc.Free(ctx, table)
}

// KernelPA translates a kernel virtual address through kpt. The address
// must be mapped.
func (m *Manager) KernelPA(ctx context.Context, kpt PageTable, va uint64) phys.Addr {
	e, ok := m.Walk(ctx, kpt, va, false)
	if !ok {
		log.Panicf("kvmpa: 0x%x", va)
	}

	pte := e.Load()
	if !pte.Valid() {
		log.Panicf("kvmpa: 0x%x", va)
	}

	return pte.PA() + phys.Addr(va%phys.PageSize)
}

package vm

import (
	"context"
	"log"

	"github.com/sarchlab/kcore/mem/phys"
)

// Walk returns the leaf entry for va in pt. If alloc is set, missing
// page-table pages are created on the way down. It returns false when the
// entry does not exist and may not, or could not, be allocated.
//
// Sv39 splits a virtual address into three 9-bit indices and a 12-bit page
// offset; bits 39 and above must be zero.
func (m *Manager) Walk(
	ctx context.Context,
	pt PageTable,
	va uint64,
	alloc bool,
) (PTERef, bool) {
	if va >= phys.MaxVA {
		log.Panicf("walk: 0x%x", va)
	}

	table := phys.Addr(pt)
	for level := 2; level > 0; level-- {
		e := m.entry(table, PX(level, va))

		pte := e.Load()
		if pte.Valid() {
			table = pte.PA()
			continue
		}

		if !alloc {
			return PTERef{}, false
		}

		child, ok := m.newTable(ctx)
		if !ok {
			return PTERef{}, false
		}

		e.Store(PA2PTE(child) | PteV)
		table = child
	}

	return m.entry(table, PX(0, va)), true
}

// WalkAddr translates a user virtual address. It returns 0 if va is not
// mapped or not accessible from user mode.
func (m *Manager) WalkAddr(ctx context.Context, pt PageTable, va uint64) phys.Addr {
	if va >= phys.MaxVA {
		return 0
	}

	e, ok := m.Walk(ctx, pt, va, false)
	if !ok {
		return 0
	}

	pte := e.Load()
	if !pte.Valid() || pte&PteU == 0 {
		return 0
	}

	return pte.PA()
}

// MapPages installs leaf entries for [va, va+size) pointing to the physical
// range starting at pa. va and size need not be page aligned. Mapping over a
// live entry panics.
func (m *Manager) MapPages(
	ctx context.Context,
	pt PageTable,
	va, size uint64,
	pa phys.Addr,
	perm PTE,
) error {
	if size == 0 {
		log.Panic("mappages: size")
	}

	a := phys.RoundDown(va)
	last := phys.RoundDown(va + size - 1)

	for {
		e, ok := m.Walk(ctx, pt, a, true)
		if !ok {
			return ErrOutOfMemory
		}

		if e.Load().Valid() {
			log.Panicf("remap: 0x%x", a)
		}

		e.Store(PA2PTE(pa) | perm | PteV)

		if a == last {
			break
		}

		a += phys.PageSize
		pa += phys.PageSize
	}

	return nil
}

// Unmap removes npages of mappings starting at the page-aligned va. The
// mappings must exist. If doFree is set, the backing frames lose a
// reference.
func (m *Manager) Unmap(
	ctx context.Context,
	pt PageTable,
	va, npages uint64,
	doFree bool,
) {
	if !phys.Aligned(va) {
		log.Panicf("uvmunmap: not aligned 0x%x", va)
	}

	for a := va; a < va+npages*phys.PageSize; a += phys.PageSize {
		e, ok := m.Walk(ctx, pt, a, false)
		if !ok {
			log.Panicf("uvmunmap: walk 0x%x", a)
		}

		pte := e.Load()
		if !pte.Valid() {
			log.Panicf("uvmunmap: not mapped 0x%x", a)
		}

		if pte.Flags() == PteV {
			log.Panicf("uvmunmap: not a leaf 0x%x", a)
		}

		if doFree {
			m.alloc.Free(ctx, pte.PA())
		}

		e.Store(0)
	}
}

// Lookup returns the leaf PTE for va without any permission check. The bool
// is false when no valid leaf exists.
func (m *Manager) Lookup(ctx context.Context, pt PageTable, va uint64) (PTE, bool) {
	if va >= phys.MaxVA {
		return 0, false
	}

	e, ok := m.Walk(ctx, pt, va, false)
	if !ok {
		return 0, false
	}

	pte := e.Load()
	if !pte.Valid() {
		return 0, false
	}

	return pte, true
}

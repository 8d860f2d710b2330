package vm

import (
	"context"
	"log"

	"github.com/sarchlab/kcore/mem/phys"
)

// UserPerm is the permission of ordinary user memory.
const UserPerm = PteR | PteW | PteX | PteU

// CreateUser allocates an empty user page table.
func (m *Manager) CreateUser(ctx context.Context) (PageTable, error) {
	root, ok := m.newTable(ctx)
	if !ok {
		return 0, ErrOutOfMemory
	}

	return PageTable(root), nil
}

// InitUser loads the image of the first process at address 0. The image
// must fit in one page.
func (m *Manager) InitUser(ctx context.Context, pt PageTable, src []byte) error {
	if len(src) >= phys.PageSize {
		log.Panic("inituvm: more than a page")
	}

	pa, ok := m.alloc.Alloc(ctx)
	if !ok {
		return ErrOutOfMemory
	}

	m.mem.Fill(pa, 0)

	if err := m.MapPages(ctx, pt, 0, phys.PageSize, pa, UserPerm); err != nil {
		m.alloc.Free(ctx, pa)
		return err
	}

	copy(m.mem.Page(pa), src)

	return nil
}

// GrowUser allocates zeroed user pages to grow a process from oldsz to
// newsz. Neither size needs to be page aligned. On failure every page added
// by this call is released again.
func (m *Manager) GrowUser(
	ctx context.Context,
	pt PageTable,
	oldsz, newsz uint64,
) (uint64, error) {
	if newsz < oldsz {
		return oldsz, nil
	}

	oldsz = phys.RoundUp(oldsz)
	for a := oldsz; a < newsz; a += phys.PageSize {
		pa, ok := m.alloc.Alloc(ctx)
		if !ok {
			m.ShrinkUser(ctx, pt, a, oldsz)
			return 0, ErrOutOfMemory
		}

		m.mem.Fill(pa, 0)

		err := m.MapPages(ctx, pt, a, phys.PageSize, pa, UserPerm)
		if err != nil {
			m.alloc.Free(ctx, pa)
			m.ShrinkUser(ctx, pt, a, oldsz)

			return 0, err
		}
	}

	return newsz, nil
}

// ShrinkUser releases user pages to bring a process from oldsz down to
// newsz and returns the new size. oldsz may be larger than the actual size.
func (m *Manager) ShrinkUser(
	ctx context.Context,
	pt PageTable,
	oldsz, newsz uint64,
) uint64 {
	return m.shrink(ctx, pt, oldsz, newsz, true)
}

func (m *Manager) shrink(
	ctx context.Context,
	pt PageTable,
	oldsz, newsz uint64,
	doFree bool,
) uint64 {
	if newsz >= oldsz {
		return oldsz
	}

	if phys.RoundUp(newsz) < phys.RoundUp(oldsz) {
		npages := (phys.RoundUp(oldsz) - phys.RoundUp(newsz)) / phys.PageSize
		m.Unmap(ctx, pt, phys.RoundUp(newsz), npages, doFree)
	}

	return newsz
}

// CopyUser copies the memory [0, sz) of old into new, allocating fresh
// frames and keeping the flags of every page. On failure the pages already
// copied are released.
func (m *Manager) CopyUser(ctx context.Context, old, new PageTable, sz uint64) error {
	var i uint64
	for i = 0; i < sz; i += phys.PageSize {
		e, ok := m.Walk(ctx, old, i, false)
		if !ok {
			log.Panicf("uvmcopy: pte should exist 0x%x", i)
		}

		pte := e.Load()
		if !pte.Valid() {
			log.Panicf("uvmcopy: page not present 0x%x", i)
		}

		pa, ok := m.alloc.Alloc(ctx)
		if !ok {
			m.Unmap(ctx, new, 0, i/phys.PageSize, true)
			return ErrOutOfMemory
		}

		m.mem.Copy(pa, pte.PA())

		err := m.MapPages(ctx, new, i, phys.PageSize, pa, pte.Flags()&^PteV)
		if err != nil {
			m.alloc.Free(ctx, pa)
			m.Unmap(ctx, new, 0, i/phys.PageSize, true)

			return err
		}
	}

	return nil
}

// FreeUser releases the user memory [0, sz) and then the page-table pages.
func (m *Manager) FreeUser(ctx context.Context, pt PageTable, sz uint64) {
	if sz > 0 {
		m.Unmap(ctx, pt, 0, phys.RoundUp(sz)/phys.PageSize, true)
	}

	m.freeWalk(ctx, phys.Addr(pt))
}

// freeWalk releases a page-table tree whose leaves are already unmapped.
func (m *Manager) freeWalk(ctx context.Context, table phys.Addr) {
	for i := 0; i < EntriesPerTable; i++ {
		e := m.entry(table, i)
		pte := e.Load()

		switch {
		case pte.Valid() && !pte.Leaf():
			m.freeWalk(ctx, pte.PA())
			e.Store(0)
		case pte.Valid():
			log.Panicf("freewalk: leaf 0x%x", uint64(e.Addr()))
		}
	}

	m.alloc.Free(ctx, table)
}

// ClearUser revokes user access to the page at va. exec uses it for the
// guard page below the user stack.
func (m *Manager) ClearUser(ctx context.Context, pt PageTable, va uint64) {
	e, ok := m.Walk(ctx, pt, va, false)
	if !ok {
		log.Panicf("uvmclear: 0x%x", va)
	}

	e.Store(e.Load() &^ PteU)
}

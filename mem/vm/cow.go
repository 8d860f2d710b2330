package vm

import (
	"context"
	"log"

	"github.com/sarchlab/kcore/mem/phys"
)

// ShareUser is the copy-on-write flavor of CopyUser. The child maps the
// frames of the parent instead of copies; writable pages lose PteW in both
// tables and gain PteCOW, and every shared frame gains a reference.
func (m *Manager) ShareUser(ctx context.Context, old, new PageTable, sz uint64) error {
	for i := uint64(0); i < sz; i += phys.PageSize {
		e, ok := m.Walk(ctx, old, i, false)
		if !ok {
			log.Panicf("uvmshare: pte should exist 0x%x", i)
		}

		pte := e.Load()
		if !pte.Valid() {
			log.Panicf("uvmshare: page not present 0x%x", i)
		}

		if pte&PteW != 0 {
			pte = pte&^PteW | PteCOW
			e.Store(pte)
		}

		err := m.MapPages(ctx, new, i, phys.PageSize, pte.PA(), pte.Flags()&^PteV)
		if err != nil {
			m.Unmap(ctx, new, 0, i/phys.PageSize, true)
			return err
		}

		m.alloc.RefInc(ctx, pte.PA())
	}

	return nil
}

// ResolveCOW gives pt a private writable copy of the copy-on-write page at
// va. A frame nobody else references is made writable in place. It returns
// false if the page is not copy-on-write.
func (m *Manager) ResolveCOW(ctx context.Context, pt PageTable, va uint64) (bool, error) {
	if va >= phys.MaxVA {
		return false, nil
	}

	e, ok := m.Walk(ctx, pt, va, false)
	if !ok {
		return false, nil
	}

	pte := e.Load()
	if !pte.Valid() || pte&PteCOW == 0 || pte&PteU == 0 {
		return false, nil
	}

	old := pte.PA()
	flags := pte.Flags()&^PteCOW | PteW

	if m.alloc.RefCount(old) == 1 {
		e.Store(PA2PTE(old) | flags)
		return true, nil
	}

	pa, ok := m.alloc.Alloc(ctx)
	if !ok {
		return true, ErrOutOfMemory
	}

	m.mem.Copy(pa, old)
	e.Store(PA2PTE(pa) | flags)

	m.alloc.Free(ctx, old)

	return true, nil
}

package vma

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/mem/vm"
)

type slot struct {
	valid bool
	VMA
}

// A Table holds the mappings of one process. Every operation is serialized
// by the table's own lock, so concurrent mmap calls of a process never pick
// overlapping ranges.
type Table struct {
	mu    sync.Mutex
	vm    *vm.Manager
	slots []slot
}

// NewTable creates a table with n slots working on the page tables of m.
func NewTable(m *vm.Manager, n int) *Table {
	if n <= 0 {
		n = NVMA
	}

	return &Table{
		vm:    m,
		slots: make([]slot, n),
	}
}

// Map creates a mapping of length bytes of f starting at offset. No page is
// filled until it is touched. It returns the start of the region.
func (t *Table) Map(
	ctx context.Context,
	length uint64,
	prot, flags int,
	f File,
	offset uint64,
) (uint64, error) {
	if f == nil || length == 0 || length > End {
		return 0, ErrInvalid
	}

	if flags&(MapShared|MapPrivate) == 0 ||
		flags&(MapShared|MapPrivate) == MapShared|MapPrivate {
		return 0, ErrInvalid
	}

	if prot&ProtRead != 0 && !f.Readable() {
		return 0, ErrProtection
	}

	if prot&ProtWrite != 0 && flags&MapPrivate == 0 && !f.Writable() {
		return 0, ErrProtection
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	free := -1
	low := End

	for i := range t.slots {
		s := &t.slots[i]
		if !s.valid {
			if free < 0 {
				free = i
			}

			continue
		}

		if s.Start < low {
			low = s.Start
		}
	}

	if free < 0 {
		return 0, ErrNoSlot
	}

	if low < length {
		return 0, ErrInvalid
	}

	start := phys.RoundDown(low - length)
	t.slots[free] = slot{
		valid: true,
		VMA: VMA{
			Start:  start,
			Length: length,
			Prot:   prot,
			Flags:  flags,
			Offset: offset,
			File:   f.Dup(),
		},
	}

	return start, nil
}

// find returns the first slot containing va. The caller holds t.mu.
func (t *Table) find(va uint64) *slot {
	for i := range t.slots {
		s := &t.slots[i]
		if s.valid && s.Contains(va) {
			return s
		}
	}

	return nil
}

// Find returns the mapping containing va.
func (t *Table) Find(va uint64) (VMA, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.find(va)
	if s == nil {
		return VMA{}, false
	}

	return s.VMA, true
}

// Len returns the number of live mappings.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0

	for i := range t.slots {
		if t.slots[i].valid {
			n++
		}
	}

	return n
}

// Unmap removes [va, va+length) from the mapping containing va. Only a
// prefix, a suffix or the whole region may go; punching a hole panics.
// Removing the whole region drops its file reference.
func (t *Table) Unmap(ctx context.Context, pt vm.PageTable, va, length uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.find(va)
	if s == nil {
		return ErrNotMapped
	}

	end := va + length

	switch {
	case va > s.Start && end < s.End():
		log.Panicf("munmap: hole [0x%x, 0x%x) in %s", va, end, s.VMA)
	case va > s.Start:
		begin := phys.RoundUp(va)
		last := phys.RoundUp(s.End())

		if err := t.unmapPages(ctx, pt, &s.VMA, begin, last, false); err != nil {
			return err
		}

		s.Length = va - s.Start
	case end < s.End():
		begin := phys.RoundDown(s.Start)
		last := phys.RoundDown(end)

		if err := t.unmapPages(ctx, pt, &s.VMA, begin, last, false); err != nil {
			return err
		}

		s.Start += last - begin
		s.Offset += last - begin
		s.Length -= last - begin
	default:
		if err := t.release(ctx, pt, s, false); err != nil {
			return err
		}
	}

	return nil
}

// release unmaps a whole region and frees its slot. With force set the
// region goes even when its pages could not be written back.
func (t *Table) release(ctx context.Context, pt vm.PageTable, s *slot, force bool) error {
	begin := phys.RoundDown(s.Start)
	last := phys.RoundUp(s.End())

	err := t.unmapPages(ctx, pt, &s.VMA, begin, last, force)
	if err != nil && !force {
		return err
	}

	s.File.Close(ctx)
	*s = slot{}

	return err
}

// unmapPages removes the faulted pages of [begin, last). Dirty pages of
// shared writable regions are written back first; if a write fails nothing
// is unmapped unless force is set.
func (t *Table) unmapPages(
	ctx context.Context,
	pt vm.PageTable,
	v *VMA,
	begin, last uint64,
	force bool,
) error {
	var errs []error

	if v.Shared() && v.Prot&ProtWrite != 0 {
		for a := begin; a < last; a += phys.PageSize {
			pte, ok := t.vm.Lookup(ctx, pt, a)
			if !ok || pte&vm.PteD == 0 {
				continue
			}

			if err := t.writeBack(ctx, v, a, pte.PA()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 && !force {
		return errors.Join(errs...)
	}

	for a := begin; a < last; a += phys.PageSize {
		if _, ok := t.vm.Lookup(ctx, pt, a); ok {
			t.vm.Unmap(ctx, pt, a, 1, true)
		}
	}

	return errors.Join(errs...)
}

// writeBack stores the part of the page at va that lies inside v. A file
// may take fewer bytes than offered; the rest is dropped.
func (t *Table) writeBack(ctx context.Context, v *VMA, va uint64, pa phys.Addr) error {
	lo := va
	if lo < v.Start {
		lo = v.Start
	}

	hi := va + phys.PageSize
	if v.End() < hi {
		hi = v.End()
	}

	if lo >= hi {
		return nil
	}

	page := t.vm.Memory().Page(pa)
	_, err := v.File.WriteAt(ctx, page[lo-va:hi-va], v.fileOffset(lo))

	return err
}

// HandleFault fills the page containing va if it belongs to a mapping that
// permits the access. The page is read from the file into a fresh frame.
func (t *Table) HandleFault(
	ctx context.Context,
	pt vm.PageTable,
	va uint64,
	access vm.Access,
) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.find(va)
	if s == nil {
		return ErrNotMapped
	}

	if !s.allows(access) {
		return ErrProtection
	}

	pgva := phys.RoundDown(va)
	if _, ok := t.vm.Lookup(ctx, pt, pgva); ok {
		return ErrProtection
	}

	pa, ok := t.vm.AllocPage(ctx)
	if !ok {
		return vm.ErrOutOfMemory
	}

	lo := pgva
	if lo < s.Start {
		lo = s.Start
	}

	page := t.vm.Memory().Page(pa)
	if _, err := s.File.ReadAt(ctx, page[lo-pgva:], s.fileOffset(lo)); err != nil {
		t.vm.FreePage(ctx, pa)
		return err
	}

	if err := t.vm.MapPages(ctx, pt, pgva, phys.PageSize, pa, s.perm()); err != nil {
		t.vm.FreePage(ctx, pa)
		return err
	}

	return nil
}

// Fork copies the mappings into the empty table of a child. The child
// shares the open files but none of the pages; they are faulted in again
// when the child touches them.
func (t *Table) Fork(ctx context.Context, child *Table) {
	t.mu.Lock()
	defer t.mu.Unlock()

	child.mu.Lock()
	defer child.mu.Unlock()

	for i := range t.slots {
		if i >= len(child.slots) {
			break
		}

		s := t.slots[i]
		if !s.valid {
			continue
		}

		s.File = s.File.Dup()
		child.slots[i] = s
	}
}

// UnmapAll removes every mapping, writing back shared dirty pages. Every
// region goes even if a write back fails; the failures are returned joined.
func (t *Table) UnmapAll(ctx context.Context, pt vm.PageTable) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error

	for i := range t.slots {
		s := &t.slots[i]
		if !s.valid {
			continue
		}

		if err := t.release(ctx, pt, s, true); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

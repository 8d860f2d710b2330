package vm

import (
	"context"

	"github.com/sarchlab/kcore/mem/phys"
)

// CopyOut copies src to the user virtual address dstva of pt, one page at a
// time. Copy-on-write pages are made private first. It fails with
// ErrBadAddress if any page is not user mapped.
func (m *Manager) CopyOut(ctx context.Context, pt PageTable, dstva uint64, src []byte) error {
	for len(src) > 0 {
		va0 := phys.RoundDown(dstva)

		pa0 := m.WalkAddr(ctx, pt, va0)
		if pa0 == 0 {
			return ErrBadAddress
		}

		if pte, _ := m.Lookup(ctx, pt, va0); pte&PteCOW != 0 {
			if _, err := m.ResolveCOW(ctx, pt, va0); err != nil {
				return err
			}

			pa0 = m.WalkAddr(ctx, pt, va0)
		}

		off := dstva - va0
		n := copy(m.mem.Page(pa0)[off:], src)

		src = src[n:]
		dstva = va0 + phys.PageSize
	}

	return nil
}

// CopyIn fills dst from the user virtual address srcva of pt.
func (m *Manager) CopyIn(ctx context.Context, pt PageTable, dst []byte, srcva uint64) error {
	for len(dst) > 0 {
		va0 := phys.RoundDown(srcva)

		pa0 := m.WalkAddr(ctx, pt, va0)
		if pa0 == 0 {
			return ErrBadAddress
		}

		off := srcva - va0
		n := copy(dst, m.mem.Page(pa0)[off:])

		dst = dst[n:]
		srcva = va0 + phys.PageSize
	}

	return nil
}

// CopyInStr copies a NUL-terminated string from the user virtual address
// srcva of pt. It reads at most maxLen bytes, NUL included, and fails if no NUL
// shows up within them.
func (m *Manager) CopyInStr(
	ctx context.Context,
	pt PageTable,
	srcva, maxLen uint64,
) (string, error) {
	buf := make([]byte, 0, 64)

	for maxLen > 0 {
		va0 := phys.RoundDown(srcva)

		pa0 := m.WalkAddr(ctx, pt, va0)
		if pa0 == 0 {
			return "", ErrBadAddress
		}

		page := m.mem.Page(pa0)
		for off := srcva - va0; off < phys.PageSize && maxLen > 0; off++ {
			if page[off] == 0 {
				return string(buf), nil
			}

			buf = append(buf, page[off])
			maxLen--
		}

		srcva = va0 + phys.PageSize
	}

	return "", ErrBadAddress
}

// kernelAddr translates va through a process kernel table, where user pages
// are mirrored without the U bit. It returns 0 if va is not mapped.
func (m *Manager) kernelAddr(ctx context.Context, kpt PageTable, va uint64) phys.Addr {
	pte, ok := m.Lookup(ctx, kpt, va)
	if !ok || !pte.Leaf() {
		return 0
	}

	return pte.PA()
}

// CopyInShadow fills dst from the user virtual address srcva by
// dereferencing it through the process kernel table kpt, the way the kernel
// does once that table is installed. sz is the size of the process; the
// whole range must lie below it.
func (m *Manager) CopyInShadow(
	ctx context.Context,
	kpt PageTable,
	dst []byte,
	srcva, sz uint64,
) error {
	n := uint64(len(dst))
	if srcva >= sz || srcva+n > sz || srcva+n < srcva {
		return ErrBadAddress
	}

	for len(dst) > 0 {
		va0 := phys.RoundDown(srcva)

		pa0 := m.kernelAddr(ctx, kpt, va0)
		if pa0 == 0 {
			return ErrBadAddress
		}

		c := copy(dst, m.mem.Page(pa0)[srcva-va0:])

		dst = dst[c:]
		srcva = va0 + phys.PageSize
	}

	return nil
}

// CopyInStrShadow is the CopyInStr counterpart of CopyInShadow.
func (m *Manager) CopyInStrShadow(
	ctx context.Context,
	kpt PageTable,
	srcva, maxLen, sz uint64,
) (string, error) {
	buf := make([]byte, 0, 64)

	for srcva < sz && maxLen > 0 {
		va0 := phys.RoundDown(srcva)

		pa0 := m.kernelAddr(ctx, kpt, va0)
		if pa0 == 0 {
			return "", ErrBadAddress
		}

		b := m.mem.Page(pa0)[srcva-va0]
		if b == 0 {
			return string(buf), nil
		}

		buf = append(buf, b)
		srcva++
		maxLen--
	}

	return "", ErrBadAddress
}

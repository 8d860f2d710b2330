package vm

import (
	"context"
	"fmt"

	"github.com/sarchlab/kcore/mem/phys"
)

// Access is the kind of a user memory access.
type Access int

// Kinds of user accesses.
const (
	AccessRead Access = iota
	AccessWrite
	AccessExec
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExec:
		return "exec"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

func (a Access) perm() PTE {
	switch a {
	case AccessWrite:
		return PteW
	case AccessExec:
		return PteX
	default:
		return PteR
	}
}

// Translate resolves a user access the way the MMU does: the leaf must be
// valid, user accessible and carry the permission of the access. The
// accessed bit is set, and the dirty bit on writes. A failed translation
// returns an error wrapping ErrPageFault.
func (m *Manager) Translate(
	ctx context.Context,
	pt PageTable,
	va uint64,
	access Access,
) (phys.Addr, error) {
	if va >= phys.MaxVA {
		return 0, fmt.Errorf("%w: %s at 0x%x", ErrPageFault, access, va)
	}

	e, ok := m.Walk(ctx, pt, va, false)
	if !ok {
		return 0, fmt.Errorf("%w: %s at 0x%x", ErrPageFault, access, va)
	}

	pte := e.Load()
	need := PteV | PteU | access.perm()
	if pte&need != need {
		return 0, fmt.Errorf("%w: %s at 0x%x", ErrPageFault, access, va)
	}

	set := PteA
	if access == AccessWrite {
		set |= PteD
	}

	if pte&set != set {
		e.Store(pte | set)
	}

	return pte.PA() + phys.Addr(va%phys.PageSize), nil
}

package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/kcore/mem/phys"
)

// Print dumps the valid entries of pt, one line per entry, indented by
// depth.
func (m *Manager) Print(w io.Writer, pt PageTable) {
	fmt.Fprintf(w, "page table 0x%x\n", uint64(pt))
	m.printTable(w, phys.Addr(pt), 1)
}

func (m *Manager) printTable(w io.Writer, table phys.Addr, depth int) {
	for i := 0; i < EntriesPerTable; i++ {
		pte := m.entry(table, i).Load()
		if !pte.Valid() {
			continue
		}

		fmt.Fprintf(w, "%s%d: pte 0x%x pa 0x%x\n",
			strings.Repeat("..", depth), i, uint64(pte), uint64(pte.PA()))

		if !pte.Leaf() {
			m.printTable(w, pte.PA(), depth+1)
		}
	}
}

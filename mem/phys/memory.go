package phys

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/sarchlab/kcore/mem/storage"
)

// Memory is the RAM of the machine, from KernBase to PhysTop. The kernel
// reaches it through a direct map: a physical address is also the kernel
// virtual address of the same byte.
type Memory struct {
	layout  Layout
	storage *storage.Storage
}

// NewMemory creates RAM for the given layout.
func NewMemory(layout Layout) *Memory {
	if layout.KernelText < KernBase ||
		layout.KernelEnd < layout.KernelText ||
		layout.PhysTop < layout.KernelEnd {
		log.Panicf("phys: invalid layout %+v", layout)
	}

	return &Memory{
		layout:  layout,
		storage: storage.New(uint64(layout.PhysTop-KernBase), PageSize),
	}
}

// Layout returns the memory layout.
func (m *Memory) Layout() Layout {
	return m.layout
}

// KernelEnd returns the first address after the kernel image.
func (m *Memory) KernelEnd() Addr {
	return m.layout.KernelEnd
}

// PhysTop returns the first address after RAM.
func (m *Memory) PhysTop() Addr {
	return m.layout.PhysTop
}

// Contains reports whether pa lies in RAM.
func (m *Memory) Contains(pa Addr) bool {
	return pa >= KernBase && pa < m.layout.PhysTop
}

// Page returns the frame that holds pa. The slice aliases RAM.
func (m *Memory) Page(pa Addr) []byte {
	if !m.Contains(pa) {
		log.Panicf("phys: 0x%x outside RAM", uint64(pa))
	}

	unit, err := m.storage.Unit(uint64(pa - KernBase))
	if err != nil {
		log.Panic(err)
	}

	return unit
}

// Fill sets every byte of the frame at pa to b.
func (m *Memory) Fill(pa Addr, b byte) {
	page := m.Page(pa)
	for i := range page {
		page[i] = b
	}
}

// Copy copies the frame at src into the frame at dst.
func (m *Memory) Copy(dst, src Addr) {
	copy(m.Page(dst), m.Page(src))
}

// Read returns a copy of n bytes at pa.
func (m *Memory) Read(pa Addr, n int) ([]byte, error) {
	if !m.Contains(pa) {
		return nil, fmt.Errorf("phys: read at 0x%x outside RAM", uint64(pa))
	}

	return m.storage.Read(uint64(pa-KernBase), uint64(n))
}

// Write stores data at pa.
func (m *Memory) Write(pa Addr, data []byte) error {
	if !m.Contains(pa) {
		return fmt.Errorf("phys: write at 0x%x outside RAM", uint64(pa))
	}

	return m.storage.Write(uint64(pa-KernBase), data)
}

// Load64 reads the little-endian word at pa, which must be 8-byte aligned.
func (m *Memory) Load64(pa Addr) uint64 {
	off := uint64(pa) % PageSize
	return binary.LittleEndian.Uint64(m.Page(pa)[off : off+8])
}

// Store64 writes the little-endian word v at pa, which must be 8-byte
// aligned.
func (m *Memory) Store64(pa Addr, v uint64) {
	off := uint64(pa) % PageSize
	binary.LittleEndian.PutUint64(m.Page(pa)[off:off+8], v)
}

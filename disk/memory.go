// Package disk provides the block devices behind the buffer cache.
package disk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/mem/storage"
)

// Memory is a set of RAM disks, one per device number, each holding
// numBlocks blocks. Blocks never written read as zeros.
type Memory struct {
	blockSize int
	numBlocks uint64

	mu      sync.Mutex
	devices map[uint32]*storage.Storage

	reads, writes atomic.Uint64
}

// NewMemory creates RAM disks of numBlocks blocks of blockSize bytes.
func NewMemory(blockSize int, numBlocks uint64) *Memory {
	return &Memory{
		blockSize: blockSize,
		numBlocks: numBlocks,
		devices:   make(map[uint32]*storage.Storage),
	}
}

func (m *Memory) device(dev uint32) *storage.Storage {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.devices[dev]
	if !ok {
		bs := uint64(m.blockSize)
		s = storage.New(m.numBlocks*bs, bs)
		m.devices[dev] = s
	}

	return s
}

// RW moves one block between the buffer and the device.
func (m *Memory) RW(_ context.Context, b *bcache.Buf, write bool) error {
	if len(b.Data) != m.blockSize {
		return fmt.Errorf("disk: buffer of %d bytes, block size is %d",
			len(b.Data), m.blockSize)
	}

	s := m.device(b.Dev)
	addr := uint64(b.Blockno) * uint64(m.blockSize)

	if write {
		m.writes.Add(1)
		return s.Write(addr, b.Data)
	}

	m.reads.Add(1)

	data, err := s.Read(addr, uint64(m.blockSize))
	if err != nil {
		return err
	}

	copy(b.Data, data)

	return nil
}

// Reads returns the number of block reads served.
func (m *Memory) Reads() uint64 {
	return m.reads.Load()
}

// Writes returns the number of block writes served.
func (m *Memory) Writes() uint64 {
	return m.writes.Load()
}

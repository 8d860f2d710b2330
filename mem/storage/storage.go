// Package storage provides a sparse, unit-paged byte store.
package storage

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned when an access falls outside of the capacity.
var ErrOutOfRange = errors.New("storage: address beyond capacity")

// A Storage keeps the bytes of physical memory or of a disk.
//
// The storage manages its space in units. A unit is not materialized until it
// is first touched, so a large but mostly idle memory costs little. Storage
// only protects its own index; callers coordinate access to the bytes of a
// unit with their own locks.
type Storage struct {
	unitSize uint64
	capacity uint64

	mu   sync.RWMutex
	data map[uint64][]byte
}

// New creates a storage with the given capacity and unit size in bytes.
func New(capacity, unitSize uint64) *Storage {
	if unitSize == 0 || capacity%unitSize != 0 {
		panic(fmt.Sprintf(
			"storage: capacity %d is not a multiple of unit size %d",
			capacity, unitSize))
	}

	return &Storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of addressable bytes.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// UnitSize returns the size of a unit.
func (s *Storage) UnitSize() uint64 {
	return s.unitSize
}

// Unit returns the unit that holds addr. The returned slice aliases the
// storage; writes through it are visible to every later reader.
func (s *Storage) Unit(addr uint64) ([]byte, error) {
	if addr >= s.capacity {
		return nil, fmt.Errorf("%w: 0x%x", ErrOutOfRange, addr)
	}

	base, _ := s.parseAddress(addr)

	s.mu.RLock()
	unit, ok := s.data[base]
	s.mu.RUnlock()

	if ok {
		return unit, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unit, ok = s.data[base]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[base] = unit
	}

	return unit, nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read copies length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	if address+length > s.capacity {
		return nil, fmt.Errorf("%w: 0x%x+%d", ErrOutOfRange, address, length)
	}

	res := make([]byte, length)
	done := uint64(0)

	for done < length {
		curr := address + done

		unit, err := s.Unit(curr)
		if err != nil {
			return nil, err
		}

		_, offset := s.parseAddress(curr)
		n := copy(res[done:], unit[offset:])
		done += uint64(n)
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if address+length > s.capacity {
		return fmt.Errorf("%w: 0x%x+%d", ErrOutOfRange, address, length)
	}

	done := uint64(0)
	for done < length {
		curr := address + done

		unit, err := s.Unit(curr)
		if err != nil {
			return err
		}

		_, offset := s.parseAddress(curr)
		n := copy(unit[offset:], data[done:])
		done += uint64(n)
	}

	return nil
}

// NumUnits returns the number of units that have been materialized.
func (s *Storage) NumUnits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

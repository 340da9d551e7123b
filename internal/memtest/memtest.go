// Package memtest provides an in-process linear memory and bump allocator
// for unit tests that do not need a real engine.
package memtest

import (
	"encoding/binary"
	"fmt"
)

// Memory is a bounds-checked byte slice implementing wasmmedia.Memory.
type Memory struct {
	Data []byte
}

// NewMemory creates a zeroed memory of size bytes.
func NewMemory(size int) *Memory {
	return &Memory{Data: make([]byte, size)}
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.Data)) {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return m.Data[offset:end], nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.Data)) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(m.Data[offset:], data)
	return nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	b, err := m.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Memory) Size() uint32 {
	return uint32(len(m.Data))
}

// Allocator is a bump allocator over a Memory. Freed regions are not reused,
// so a use-after-free shows up as stale but intact bytes.
type Allocator struct {
	Mem     *Memory
	Next    uint32
	Frees   []uint32
	Mallocs int
	Err     error
}

// NewAllocator starts allocating at 1024 so no valid pointer is zero.
func NewAllocator(mem *Memory) *Allocator {
	return &Allocator{Mem: mem, Next: 1024}
}

// Malloc returns 0 when the request does not fit, like the engine's malloc.
func (a *Allocator) Malloc(size uint32) (uint32, error) {
	if a.Err != nil {
		return 0, a.Err
	}
	aligned := (size + 7) &^ 7
	if uint64(a.Next)+uint64(aligned) > uint64(len(a.Mem.Data)) {
		return 0, nil
	}
	ptr := a.Next
	a.Next += aligned
	a.Mallocs++
	return ptr, nil
}

func (a *Allocator) Free(ptr uint32) error {
	a.Frees = append(a.Frees, ptr)
	return nil
}

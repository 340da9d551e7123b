package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	wasmmedia "github.com/wippyai/wasm-media"
)

// WazeroMemory wraps wazero memory to implement wasmmedia.Memory
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU16(offset uint32) (uint16, error) {
	val, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d, length=2", offset)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d, length=4", offset)
	}
	return val, nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// wazeroAllocator calls the engine's exported malloc and free.
type wazeroAllocator struct {
	mallocFn   api.Function
	freeFn     api.Function
	currentCtx context.Context
	stackBuf   [1]uint64
	onTrap     func()
}

func (a *wazeroAllocator) setContext(ctx context.Context) {
	a.currentCtx = ctx
}

func (a *wazeroAllocator) ctx() context.Context {
	if a.currentCtx == nil {
		return context.Background()
	}
	return a.currentCtx
}

func (a *wazeroAllocator) Malloc(size uint32) (uint32, error) {
	if a.mallocFn == nil {
		return 0, fmt.Errorf("no allocator available")
	}
	a.stackBuf[0] = api.EncodeU32(size)
	if err := a.mallocFn.CallWithStack(a.ctx(), a.stackBuf[:]); err != nil {
		a.trapped()
		return 0, err
	}
	return api.DecodeU32(a.stackBuf[0]), nil
}

func (a *wazeroAllocator) Free(ptr uint32) error {
	if a.freeFn == nil {
		return fmt.Errorf("no free function available")
	}
	a.stackBuf[0] = api.EncodeU32(ptr)
	if err := a.freeFn.CallWithStack(a.ctx(), a.stackBuf[:]); err != nil {
		a.trapped()
		return err
	}
	return nil
}

func (a *wazeroAllocator) trapped() {
	if a.onTrap != nil {
		a.onTrap()
	}
}

// Compile-time check that WazeroMemory implements wasmmedia.Memory and MemorySizer
var _ wasmmedia.Memory = (*WazeroMemory)(nil)
var _ wasmmedia.MemorySizer = (*WazeroMemory)(nil)

// Compile-time check that wazeroAllocator implements wasmmedia.Allocator
var _ wasmmedia.Allocator = (*wazeroAllocator)(nil)

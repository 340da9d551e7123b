package arena

import (
	wasmmedia "github.com/wippyai/wasm-media"
	"github.com/wippyai/wasm-media/errors"
)

// Allocation is a region of engine memory.
type Allocation struct {
	Ptr  uint32
	Size uint32
}

// IsNull reports whether the allocation is the null region (0, 0).
func (a Allocation) IsNull() bool {
	return a.Ptr == 0
}

// Arena tracks live allocations against one engine memory.
// It is not safe for concurrent use.
type Arena struct {
	mem       wasmmedia.Memory
	alloc     wasmmedia.Allocator
	live      map[uint32]uint32
	liveBytes uint64
}

// New creates an arena over mem using alloc for malloc/free.
func New(mem wasmmedia.Memory, alloc wasmmedia.Allocator) *Arena {
	return &Arena{
		mem:   mem,
		alloc: alloc,
		live:  make(map[uint32]uint32),
	}
}

// Memory returns the underlying engine memory.
func (a *Arena) Memory() wasmmedia.Memory {
	return a.mem
}

// Allocate requests size bytes from the engine. A zero size yields the null
// allocation without calling the engine. Failures are never retried.
func (a *Arena) Allocate(size uint32) (Allocation, error) {
	if size == 0 {
		return Allocation{}, nil
	}
	if a.alloc == nil {
		return Allocation{}, errors.NotInitialized(errors.PhaseAlloc, "allocator")
	}

	ptr, err := a.alloc.Malloc(size)
	if err != nil {
		return Allocation{}, errors.New(errors.PhaseAlloc, errors.KindAllocation).
			Detail("malloc(%d) failed", size).
			Value(size).
			Cause(err).
			Build()
	}
	if ptr == 0 {
		return Allocation{}, errors.AllocationFailed(errors.PhaseAlloc, size)
	}

	a.track(ptr, size)
	return Allocation{Ptr: ptr, Size: size}, nil
}

// Adopt starts tracking a region the engine allocated on its own, such as a
// result header or an out-of-place output buffer. It reports false for the
// null pointer and for pointers that are already tracked.
func (a *Arena) Adopt(ptr, size uint32) (Allocation, bool) {
	if ptr == 0 {
		return Allocation{}, false
	}
	if _, ok := a.live[ptr]; ok {
		return Allocation{Ptr: ptr, Size: a.live[ptr]}, false
	}
	a.track(ptr, size)
	return Allocation{Ptr: ptr, Size: size}, true
}

func (a *Arena) track(ptr, size uint32) {
	a.live[ptr] = size
	a.liveBytes += uint64(size)
}

// Write copies data into the allocation. data must fit the allocation.
func (a *Arena) Write(al Allocation, data []byte) error {
	if uint64(len(data)) > uint64(al.Size) {
		return errors.Overflow(errors.PhaseMarshal, uint32(len(data)), al.Size)
	}
	if len(data) == 0 {
		return nil
	}
	if err := a.mem.Write(al.Ptr, data); err != nil {
		return errors.New(errors.PhaseMarshal, errors.KindOutOfBounds).
			Detail("write %d bytes at %d", len(data), al.Ptr).
			Value(al.Ptr).
			Cause(err).
			Build()
	}
	return nil
}

// Read returns a view of n bytes at ptr. The view aliases engine memory.
func (a *Arena) Read(ptr, n uint32) ([]byte, error) {
	data, err := a.mem.Read(ptr, n)
	if err != nil {
		return nil, errors.OutOfBounds(errors.PhaseDecode, ptr, n, a.memSize())
	}
	return data, nil
}

// Copy returns a host-owned copy of n bytes at ptr.
func (a *Arena) Copy(ptr, n uint32) ([]byte, error) {
	view, err := a.Read(ptr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Release returns ptr to the engine's allocator. Releasing the null pointer
// is a no-op; releasing a pointer that is not live is an error and does not
// reach the engine.
func (a *Arena) Release(ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	size, ok := a.live[ptr]
	if !ok {
		return errors.DoubleRelease(ptr)
	}
	delete(a.live, ptr)
	a.liveBytes -= uint64(size)

	if a.alloc == nil {
		return errors.NotInitialized(errors.PhaseAlloc, "allocator")
	}
	if err := a.alloc.Free(ptr); err != nil {
		return errors.New(errors.PhaseAlloc, errors.KindEngineCall).
			Detail("free(%d) failed", ptr).
			Value(ptr).
			Cause(err).
			Build()
	}
	return nil
}

// IsLive reports whether ptr is a tracked allocation.
func (a *Arena) IsLive(ptr uint32) bool {
	_, ok := a.live[ptr]
	return ok
}

// Live returns the number of live allocations.
func (a *Arena) Live() int {
	return len(a.live)
}

// LiveBytes returns the total size of live allocations.
func (a *Arena) LiveBytes() uint64 {
	return a.liveBytes
}

func (a *Arena) memSize() uint32 {
	if s, ok := a.mem.(wasmmedia.MemorySizer); ok {
		return s.Size()
	}
	return 0
}

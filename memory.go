package wasmmedia

// Memory is the engine's linear memory as seen from the host.
// Slices returned by Read are views into engine memory and are only valid
// until the next call into the engine.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates memory through the engine's own allocator.
// Malloc returns 0 when the engine cannot satisfy the request.
type Allocator interface {
	Malloc(size uint32) (uint32, error)
	Free(ptr uint32) error
}

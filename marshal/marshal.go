package marshal

import (
	"github.com/wippyai/wasm-media/arena"
	"github.com/wippyai/wasm-media/errors"
)

// Handle is a marshaled value: a pointer into engine memory and its length.
type Handle struct {
	Ptr uint32
	Len uint32
}

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool {
	return h.Ptr == 0
}

// Null is the handle passed for absent optional arguments.
var Null = Handle{}

// Bytes allocates len(b) bytes and writes b verbatim.
func Bytes(s *arena.Session, b []byte) (Handle, error) {
	return BytesWithCapacity(s, b, 0)
}

// BytesWithCapacity allocates max(len(b), capacity) bytes and writes b at
// the start. The returned length is the allocated size, which is what
// in-place entry points expect as their buffer length.
func BytesWithCapacity(s *arena.Session, b []byte, capacity uint32) (Handle, error) {
	if uint64(len(b)) > uint64(^uint32(0)) {
		return Null, errors.Overflow(errors.PhaseMarshal, ^uint32(0), ^uint32(0))
	}
	size := uint32(len(b))
	if capacity > size {
		size = capacity
	}

	al, err := s.Allocate(size)
	if err != nil {
		return Null, err
	}
	if err := s.Arena().Write(al, b); err != nil {
		return Null, err
	}
	return Handle{Ptr: al.Ptr, Len: al.Size}, nil
}

// CString writes text as UTF-8 followed by one NUL byte. The returned
// length includes the terminator.
func CString(s *arena.Session, text string) (Handle, error) {
	buf := make([]byte, len(text)+1)
	copy(buf, text)
	return Bytes(s, buf)
}

// OptionalString marshals Some values with CString and None as Null.
func OptionalString(s *arena.Session, v String) (Handle, error) {
	if !v.Valid {
		return Null, nil
	}
	return CString(s, v.Value)
}

// OptionMap serializes opts as key:value pairs and marshals the result as a
// C string. An empty map marshals to Null. Invalid keys or values are
// rejected before anything is allocated.
func OptionMap(s *arena.Session, opts Options) (Handle, error) {
	if len(opts) == 0 {
		return Null, nil
	}
	encoded, err := opts.Encode()
	if err != nil {
		return Null, err
	}
	return CString(s, encoded)
}

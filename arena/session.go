package arena

import (
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-media/errors"
)

// Session records the allocations made to service one call so they can be
// released together. It is not safe for concurrent use.
type Session struct {
	arena    *Arena
	allocs   []Allocation
	released bool
}

// NewSession opens a marshaling session on the arena.
func (a *Arena) NewSession() *Session {
	return &Session{
		arena:  a,
		allocs: make([]Allocation, 0, 8),
	}
}

// Arena returns the arena the session allocates from.
func (s *Session) Arena() *Arena {
	return s.arena
}

// Allocate allocates size bytes and records the allocation.
func (s *Session) Allocate(size uint32) (Allocation, error) {
	if s.released {
		return Allocation{}, errors.NotInitialized(errors.PhaseAlloc, "session")
	}
	al, err := s.arena.Allocate(size)
	if err != nil {
		return Allocation{}, err
	}
	if !al.IsNull() {
		s.allocs = append(s.allocs, al)
	}
	return al, nil
}

// Adopt tracks an engine-allocated region and records it for release.
// Regions the arena already tracks are not recorded twice.
func (s *Session) Adopt(ptr, size uint32) Allocation {
	al, adopted := s.arena.Adopt(ptr, size)
	if adopted {
		s.allocs = append(s.allocs, al)
	}
	return al
}

// Count returns the number of allocations recorded and not yet released.
func (s *Session) Count() int {
	return len(s.allocs)
}

// ReleaseAll releases every recorded allocation in the order it was made.
// It keeps going past failures and returns them combined. Calling it again
// is a no-op.
func (s *Session) ReleaseAll() error {
	if s.released {
		return nil
	}
	s.released = true

	var err error
	for _, al := range s.allocs {
		err = multierr.Append(err, s.arena.Release(al.Ptr))
	}
	s.allocs = s.allocs[:0]
	return err
}

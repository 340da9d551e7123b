package arena

import (
	"errors"
	"testing"

	mediaerrors "github.com/wippyai/wasm-media/errors"
	"github.com/wippyai/wasm-media/internal/memtest"
)

func newTestArena(size int) (*Arena, *memtest.Allocator) {
	mem := memtest.NewMemory(size)
	alloc := memtest.NewAllocator(mem)
	return New(mem, alloc), alloc
}

func TestArena_AllocateWriteRead(t *testing.T) {
	a, _ := newTestArena(4096)

	al, err := a.Allocate(5)
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if al.Ptr == 0 || al.Size != 5 {
		t.Fatalf("unexpected allocation: %+v", al)
	}
	if err := a.Write(al, []byte("hello")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	got, err := a.Copy(al.Ptr, al.Size)
	if err != nil {
		t.Fatalf("Copy error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if a.Live() != 1 || a.LiveBytes() != 5 {
		t.Errorf("live = %d/%d bytes, want 1/5", a.Live(), a.LiveBytes())
	}
}

func TestArena_AllocateZero(t *testing.T) {
	a, alloc := newTestArena(4096)

	al, err := a.Allocate(0)
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if !al.IsNull() {
		t.Errorf("expected null allocation, got %+v", al)
	}
	if alloc.Mallocs != 0 {
		t.Errorf("zero-size allocation reached the engine")
	}
}

func TestArena_AllocationFailure(t *testing.T) {
	a, _ := newTestArena(2048)

	_, err := a.Allocate(4096)
	if !errors.Is(err, mediaerrors.ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if a.Live() != 0 {
		t.Errorf("failed allocation should not be tracked")
	}
}

func TestArena_AllocatorError(t *testing.T) {
	a, alloc := newTestArena(4096)
	cause := errors.New("unreachable")
	alloc.Err = cause

	_, err := a.Allocate(16)
	if !errors.Is(err, mediaerrors.ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be preserved")
	}
}

func TestArena_WriteOverflow(t *testing.T) {
	a, _ := newTestArena(4096)

	al, err := a.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	err = a.Write(al, []byte("too long"))
	var merr *mediaerrors.Error
	if !errors.As(err, &merr) || merr.Kind != mediaerrors.KindOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestArena_ReadOutOfBounds(t *testing.T) {
	a, _ := newTestArena(4096)

	_, err := a.Read(4090, 18)
	if !errors.Is(err, mediaerrors.ErrOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}
}

func TestArena_DoubleRelease(t *testing.T) {
	a, alloc := newTestArena(4096)

	al, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if err := a.Release(al.Ptr); err != nil {
		t.Fatalf("first Release error: %v", err)
	}

	err = a.Release(al.Ptr)
	if !errors.Is(err, mediaerrors.ErrDoubleRelease) {
		t.Fatalf("expected double release error, got %v", err)
	}
	if len(alloc.Frees) != 1 {
		t.Errorf("engine free called %d times, want 1", len(alloc.Frees))
	}

	// Subsequent allocations are unaffected.
	next, err := a.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate after double release: %v", err)
	}
	if err := a.Write(next, []byte("intact!!")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	got, _ := a.Copy(next.Ptr, 8)
	if string(got) != "intact!!" {
		t.Errorf("got %q", got)
	}
	if a.Live() != 1 {
		t.Errorf("live = %d, want 1", a.Live())
	}
}

func TestArena_ReleaseNull(t *testing.T) {
	a, alloc := newTestArena(4096)

	if err := a.Release(0); err != nil {
		t.Fatalf("Release(0) error: %v", err)
	}
	if len(alloc.Frees) != 0 {
		t.Error("null release reached the engine")
	}
}

func TestArena_Adopt(t *testing.T) {
	a, _ := newTestArena(4096)

	al, adopted := a.Adopt(2048, 18)
	if !adopted || al.Ptr != 2048 || al.Size != 18 {
		t.Fatalf("unexpected adopt result: %+v %v", al, adopted)
	}
	if _, adopted := a.Adopt(2048, 18); adopted {
		t.Error("adopting a tracked pointer twice should report false")
	}
	if _, adopted := a.Adopt(0, 10); adopted {
		t.Error("adopting null should report false")
	}
	if !a.IsLive(2048) {
		t.Error("adopted pointer should be live")
	}
}

func TestSession_ReleaseAllInOrder(t *testing.T) {
	a, alloc := newTestArena(4096)
	s := a.NewSession()

	var ptrs []uint32
	for _, size := range []uint32{16, 0, 32, 8} {
		al, err := s.Allocate(size)
		if err != nil {
			t.Fatalf("Allocate(%d) error: %v", size, err)
		}
		if !al.IsNull() {
			ptrs = append(ptrs, al.Ptr)
		}
	}
	adopted := s.Adopt(3000, 18)
	ptrs = append(ptrs, adopted.Ptr)

	if s.Count() != 4 {
		t.Fatalf("Count = %d, want 4", s.Count())
	}
	if err := s.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll error: %v", err)
	}

	if len(alloc.Frees) != len(ptrs) {
		t.Fatalf("frees = %v, want %v", alloc.Frees, ptrs)
	}
	for i := range ptrs {
		if alloc.Frees[i] != ptrs[i] {
			t.Errorf("free[%d] = %d, want %d", i, alloc.Frees[i], ptrs[i])
		}
	}
	if a.Live() != 0 {
		t.Errorf("live = %d after ReleaseAll", a.Live())
	}
}

func TestSession_ReleaseAllIdempotent(t *testing.T) {
	a, alloc := newTestArena(4096)
	s := a.NewSession()

	if _, err := s.Allocate(16); err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if err := s.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll error: %v", err)
	}
	if err := s.ReleaseAll(); err != nil {
		t.Fatalf("second ReleaseAll error: %v", err)
	}
	if len(alloc.Frees) != 1 {
		t.Errorf("frees = %d, want 1", len(alloc.Frees))
	}

	if _, err := s.Allocate(8); err == nil {
		t.Error("allocating from a released session should fail")
	}
}

func TestSession_ReleaseAllContinuesPastErrors(t *testing.T) {
	a, alloc := newTestArena(4096)
	s := a.NewSession()

	first, _ := s.Allocate(16)
	second, _ := s.Allocate(16)

	// Released behind the session's back.
	if err := a.Release(first.Ptr); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	err := s.ReleaseAll()
	if !errors.Is(err, mediaerrors.ErrDoubleRelease) {
		t.Fatalf("expected double release in combined error, got %v", err)
	}
	if a.IsLive(second.Ptr) {
		t.Error("second allocation should still be released")
	}
	if len(alloc.Frees) != 2 {
		t.Errorf("frees = %v, want 2 entries", alloc.Frees)
	}
}

func TestSession_ReleaseOnFailurePath(t *testing.T) {
	a, _ := newTestArena(2048)

	run := func() (err error) {
		s := a.NewSession()
		defer func() {
			if rerr := s.ReleaseAll(); rerr != nil && err == nil {
				err = rerr
			}
		}()
		if _, err := s.Allocate(256); err != nil {
			return err
		}
		_, err = s.Allocate(1 << 20)
		return err
	}

	if err := run(); !errors.Is(err, mediaerrors.ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if a.Live() != 0 {
		t.Errorf("live = %d, want 0 after failed call", a.Live())
	}
}

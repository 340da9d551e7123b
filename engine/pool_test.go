package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/enginetest"
	"github.com/wippyai/wasm-media/errors"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	eng, err := rt.Load(ctx, enginetest.MustGenerate(build.AVV3), build.AVV3)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewPool(ctx, eng, size)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { p.Close(ctx) })
	return p
}

func TestNewPool_InvalidSize(t *testing.T) {
	if _, err := NewPool(context.Background(), nil, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := newTestPool(t, 3)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(ctx, func(h *Handle) error {
				return h.Do(ctx, "alloc", func(context.Context) error {
					s := h.Arena().NewSession()
					defer s.ReleaseAll()
					_, err := s.Allocate(128)
					mu.Lock()
					seen[h.ID()] = true
					mu.Unlock()
					return err
				})
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(seen) > 3 {
		t.Errorf("pool used %d handles, want at most 3", len(seen))
	}
}

func TestPool_WaitHonoursContext(t *testing.T) {
	p := newTestPool(t, 1)

	hold := make(chan struct{})
	held := make(chan struct{})
	go p.Do(context.Background(), func(*Handle) error {
		close(held)
		<-hold
		return nil
	})
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(*Handle) error { return nil })
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(hold)
}

func TestPool_ReplacesBrokenHandle(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	var first uint64
	err := p.Do(ctx, func(h *Handle) error {
		first = h.ID()
		_, err := h.Call(ctx, "encode_mux", 0, 0, 8000, 0, 1)
		return err
	})
	if !errors.Is(err, errors.ErrEngineCall) {
		t.Fatalf("expected trap, got %v", err)
	}

	var second uint64
	err = p.Do(ctx, func(h *Handle) error {
		second = h.ID()
		if h.Broken() {
			t.Error("got a broken handle")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("broken handle was reused")
	}
}

func TestPool_Close(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	if err := p.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := p.Do(ctx, func(*Handle) error { return nil }); err == nil {
		t.Fatal("Do after Close should fail")
	}
}

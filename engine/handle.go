package engine

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmmedia "github.com/wippyai/wasm-media"
	"github.com/wippyai/wasm-media/arena"
	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/errors"
)

// Handle is one engine instance owning one linear memory.
//
// A Handle is not safe for concurrent use. Do detects overlapping use and
// fails fast with a KindBusy error rather than blocking. Results read from
// memory are only valid until the next call.
type Handle struct {
	engine *Engine
	module api.Module
	memory *WazeroMemory
	alloc  *wazeroAllocator
	arena  *arena.Arena
	funcs  map[string]api.Function
	id     uint64

	busy   atomic.Bool
	broken atomic.Bool
	closed atomic.Bool
}

func newHandle(e *Engine, mod api.Module, id uint64) (*Handle, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", exportMemory)
	}

	h := &Handle{
		engine: e,
		module: mod,
		memory: &WazeroMemory{mem: mem},
		funcs:  make(map[string]api.Function),
		id:     id,
	}
	h.alloc = &wazeroAllocator{
		mallocFn: mod.ExportedFunction("malloc"),
		freeFn:   mod.ExportedFunction("free"),
		onTrap:   func() { h.broken.Store(true) },
	}
	h.arena = arena.New(h.memory, h.alloc)
	return h, nil
}

// ID returns the handle's sequence number within its engine.
func (h *Handle) ID() uint64 {
	return h.id
}

// Build returns the engine build the handle runs.
func (h *Handle) Build() *build.Build {
	return h.engine.build
}

// Arena returns the handle's arena. Only use it inside Do.
func (h *Handle) Arena() *arena.Arena {
	return h.arena
}

// Memory returns the handle's linear memory.
func (h *Handle) Memory() wasmmedia.Memory {
	return h.memory
}

// MemorySize returns the current size of linear memory in bytes.
func (h *Handle) MemorySize() uint32 {
	return h.memory.Size()
}

// Broken reports whether a call trapped. A broken handle's memory is in
// an unknown state and should be closed.
func (h *Handle) Broken() bool {
	return h.broken.Load()
}

// Global reads an exported global, reporting false if there is none.
func (h *Handle) Global(name string) (uint64, bool) {
	g := h.module.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return g.Get(), true
}

// Do runs fn with exclusive use of the handle. It fails with a KindBusy
// error if another Do is in flight and never waits. ctx is checked before
// fn starts and is used for every engine call fn makes.
func (h *Handle) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if h.closed.Load() {
		return errors.NotInitialized(errors.PhaseRuntime, "handle")
	}
	if !h.busy.CompareAndSwap(false, true) {
		return errors.Busy(op)
	}
	defer h.busy.Store(false)

	if err := ctx.Err(); err != nil {
		return err
	}

	h.alloc.setContext(ctx)
	defer h.alloc.setContext(nil)
	return fn(ctx)
}

// Call invokes an exported function and returns its first result, or 0
// for functions without results. A trap marks the handle broken.
func (h *Handle) Call(ctx context.Context, entry string, args ...uint64) (uint64, error) {
	if h.closed.Load() {
		return 0, errors.NotInitialized(errors.PhaseCall, "handle")
	}

	fn, err := h.function(entry)
	if err != nil {
		return 0, err
	}
	if want := len(fn.Definition().ParamTypes()); want != len(args) {
		return 0, errors.New(errors.PhaseCall, errors.KindSignatureMismatch).
			Path(entry).
			Detail("got %d arguments, want %d", len(args), want).
			Build()
	}

	res, err := fn.Call(ctx, args...)
	if err != nil {
		h.broken.Store(true)
		h.engine.runtime.log.Warn("engine call trapped",
			zap.String("entry", entry),
			zap.Uint64("handle", h.id),
			zap.Error(err))
		return 0, errors.Trap(entry, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (h *Handle) function(entry string) (api.Function, error) {
	if fn, ok := h.funcs[entry]; ok {
		return fn, nil
	}
	fn := h.module.ExportedFunction(entry)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "export", entry)
	}
	h.funcs[entry] = fn
	return fn, nil
}

// Close releases the instance. It is safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.module.Close(ctx)
}

// Package engine hosts WebAssembly media engines on wazero.
//
// It compiles engine binaries, checks them against an engine build's
// declared entry points, and instantiates them with the host modules an
// emscripten reactor build imports: WASI preview1 and a small set of `env`
// functions.
//
// # Architecture
//
// The package provides four main types:
//
//	Runtime - owns the wazero runtime, host modules and compiled-module cache
//	Engine  - a compiled, verified engine binary bound to one build
//	Handle  - one instance with its own linear memory and arena
//	Pool    - a fixed set of handles checked out one call at a time
//
// # Loading Flow
//
//  1. ReadModule or DecodeModule unpacks a plain, zstd, gzip or lz4 binary
//  2. Runtime.Load compiles it once per content digest and verifies exports
//  3. Engine.NewHandle instantiates it and runs _initialize when exported
//  4. Handle.Do gives a caller exclusive use while it marshals and calls
//
// # Memory Budget
//
// Config.InitialMemoryBytes is the engine memory budget. It is rounded up
// to 64 KiB pages and applied as wazero's memory limit, so every growth
// path (memory.grow in the engine or emscripten_resize_heap through the
// host) stops at the budget. An engine that hits it returns 0 from malloc,
// which the arena reports as an allocation failure.
//
// # Cancellation
//
// A native call cannot be interrupted. Contexts are honoured before a call
// starts and while waiting on a pool; a caller that gives up on a running
// call must discard the handle.
package engine

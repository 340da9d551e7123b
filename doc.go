// Package wasmmedia lets a Go host drive a WebAssembly media engine
// (an emscripten build of an ffmpeg-based transcoder) through its linear
// memory.
//
// The engine only understands integer offsets into one linear memory and
// exposes a handful of fixed-signature entry points. This library owns the
// marshaling protocol between the two sides: allocating and releasing
// regions of engine memory, encoding Go values into them, invoking entry
// points with a stable argument order, and decoding the engine's results.
//
// # Architecture Overview
//
//	wasmmedia/         Root package with core Memory and Allocator interfaces
//	├── arena/         Allocation tracking and scoped marshaling sessions
//	├── marshal/       Byte slices, optional strings and option maps into engine memory
//	├── header/        Versioned little-endian result header layouts
//	├── profile/       Output profile codes per engine generation
//	├── build/         Engine build table: signatures, conventions, layouts
//	├── engine/        wazero host: loading, instantiation, handles, pools
//	├── gateway/       probe, transcode, encode+mux and modify operations
//	├── metrics/       Prometheus collectors for gateway calls
//	├── enginetest/    Generated test engines for every build generation
//	└── errors/        Structured error types
//
// # Quick Start
//
//	rt, err := engine.NewRuntime(ctx, &engine.Config{InitialMemoryBytes: 128 << 20})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	eng, err := rt.Load(ctx, wasmBytes, build.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	h, err := eng.NewHandle(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(ctx)
//
//	gw := gateway.New(h)
//	res, err := gw.Transcode(ctx, gateway.TranscodeRequest{
//	    Input:          wav,
//	    SrcContainer:   "wav",
//	    DstContainer:   "ogg",
//	    DstCodec:       marshal.Some("libopus"),
//	})
//
// # Thread Safety
//
// Runtime and Engine are safe for concurrent use. Handle is NOT: every
// pointer is relative to the handle's single linear memory, and a result is
// only valid until the next call. Use one handle per goroutine or an
// engine.Pool.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. The initial memory budget
// caps growth; an engine that runs out reports an allocation failure and the
// caller may retry with a larger budget.
package wasmmedia

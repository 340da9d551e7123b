package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

const (
	wasiModule = "wasi_snapshot_preview1"
	envModule  = "env"
)

// instantiateWASI instantiates WASI preview1 under its standard name.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasiModule)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}

// instantiateEnv instantiates the emscripten runtime imports a standalone
// reactor build still needs. Heap growth goes through memory.Grow so the
// runtime memory limit applies.
func instantiateEnv(ctx context.Context, r wazero.Runtime, log *zap.Logger) (api.Module, error) {
	i32 := api.ValueTypeI32
	builder := r.NewHostModuleBuilder(envModule)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			var size uint32
			if mem := mod.Memory(); mem != nil {
				size = mem.Size()
			}
			log.Debug("engine memory grew",
				zap.String("module", mod.Name()),
				zap.Uint32("bytes", size))
		}), []api.ValueType{i32}, nil).
		Export("emscripten_notify_memory_growth")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			stack[0] = resizeHeap(mod.Memory(), api.DecodeU32(stack[0]))
		}), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("emscripten_resize_heap")

	memcpy := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		dst, src, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
		mem := mod.Memory()
		data, ok := mem.Read(src, n)
		if !ok {
			panic(fmt.Sprintf("memcpy source out of bounds: %d+%d", src, n))
		}
		tmp := make([]byte, n)
		copy(tmp, data)
		if !mem.Write(dst, tmp) {
			panic(fmt.Sprintf("memcpy destination out of bounds: %d+%d", dst, n))
		}
	})
	for _, name := range []string{"emscripten_memcpy_js", "emscripten_memcpy_big"} {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(memcpy, []api.ValueType{i32, i32, i32}, nil).
			Export(name)
	}

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, _ []uint64) {
			panic("engine aborted: " + mod.Name())
		}), nil, nil).
		Export("_abort_js")

	return builder.Instantiate(ctx)
}

// resizeHeap grows mem to at least requested bytes. It returns 1 on
// success and 0 when growth is refused.
func resizeHeap(mem api.Memory, requested uint32) uint64 {
	if mem == nil {
		return 0
	}
	size := mem.Size()
	if requested <= size {
		return 1
	}
	delta := (uint64(requested) - uint64(size) + pageSize - 1) / pageSize
	if _, ok := mem.Grow(uint32(delta)); !ok {
		return 0
	}
	return 1
}

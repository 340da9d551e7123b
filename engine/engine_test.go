package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/enginetest"
	"github.com/wippyai/wasm-media/errors"
)

func newTestRuntime(t *testing.T, cfg *Config) *Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	return rt
}

func newTestHandle(t *testing.T, rt *Runtime, b *build.Build, opts ...enginetest.Option) *Handle {
	t.Helper()
	ctx := context.Background()
	eng, err := rt.Load(ctx, enginetest.MustGenerate(b, opts...), b)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h, err := eng.NewHandle(ctx)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	t.Cleanup(func() { h.Close(ctx) })
	return h
}

func TestLoad_AllBuilds(t *testing.T) {
	rt := newTestRuntime(t, nil)
	for _, id := range build.IDs() {
		b, _ := build.Lookup(id)
		t.Run(id, func(t *testing.T) {
			h := newTestHandle(t, rt, b)
			if h.Build() != b {
				t.Errorf("Build() = %s, want %s", h.Build(), b)
			}
			if v, ok := h.Global(enginetest.GlobalInitialized); !ok || v != 1 {
				t.Errorf("_initialize not run: %d, %v", v, ok)
			}
		})
	}
}

func TestLoad_DefaultBuild(t *testing.T) {
	rt := newTestRuntime(t, nil)
	eng, err := rt.Load(context.Background(), enginetest.MustGenerate(build.Default()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if eng.Build().ID != build.DefaultID {
		t.Errorf("build = %s", eng.Build().ID)
	}
}

func TestLoad_CachesCompilation(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	bin := enginetest.MustGenerate(build.AVV3)

	e1, err := rt.Load(ctx, bin, build.AVV3)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := rt.Load(ctx, bin, build.AVV3)
	if err != nil {
		t.Fatal(err)
	}
	if rt.Cached() != 1 {
		t.Errorf("Cached() = %d, want 1", rt.Cached())
	}
	if e1.Digest() != e2.Digest() {
		t.Error("digests differ for identical binaries")
	}

	if _, err := rt.Load(ctx, enginetest.MustGenerate(build.ModifyV1), build.ModifyV1); err != nil {
		t.Fatal(err)
	}
	if rt.Cached() != 2 {
		t.Errorf("Cached() = %d, want 2", rt.Cached())
	}
}

func TestLoad_MissingExports(t *testing.T) {
	rt := newTestRuntime(t, nil)
	bin := enginetest.MustGenerate(build.AVV3,
		enginetest.WithoutExport("transcode"),
		enginetest.WithoutExport("free"))

	_, err := rt.Load(context.Background(), bin, build.AVV3)
	if err == nil {
		t.Fatal("expected error")
	}
	var me *errors.MissingExportsError
	if !errors.As(err, &me) {
		t.Fatalf("expected MissingExportsError, got %T: %v", err, err)
	}
	if me.Build != "av-v3" || len(me.Problems) != 2 {
		t.Fatalf("unexpected problems: %+v", me)
	}
	if me.Problems[0].Name != "free" || me.Problems[1].Name != "transcode" {
		t.Errorf("problems not sorted: %+v", me.Problems)
	}
	if !errors.Is(err, errors.ErrSignature) {
		t.Error("should match ErrSignature")
	}
}

func TestLoad_SignatureMismatch(t *testing.T) {
	rt := newTestRuntime(t, nil)
	bin := enginetest.MustGenerate(build.AVV3, enginetest.WithSwappedExport("probe", "modify_array"))

	_, err := rt.Load(context.Background(), bin, build.AVV3)
	var me *errors.MissingExportsError
	if !errors.As(err, &me) || len(me.Problems) != 1 {
		t.Fatalf("expected one problem, got %v", err)
	}
	if !strings.Contains(me.Problems[0].Reason, "want (i32,i32,i32,i32) -> (i32)") {
		t.Errorf("reason = %q", me.Problems[0].Reason)
	}
}

func TestLoad_WrongBuild(t *testing.T) {
	rt := newTestRuntime(t, nil)
	// transcode-v1 exports a five argument transcode
	_, err := rt.Load(context.Background(), enginetest.MustGenerate(build.TranscodeV1), build.AVV3)
	if !errors.Is(err, errors.ErrSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestLoad_InvalidBinary(t *testing.T) {
	rt := newTestRuntime(t, nil)
	_, err := rt.Load(context.Background(), []byte("\x00asm\x01\x00\x00\x00garbage"), build.AVV3)
	var me *errors.Error
	if !errors.As(err, &me) || me.Phase != errors.PhaseLoad {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestLoad_AfterClose(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := rt.Load(ctx, enginetest.MustGenerate(build.AVV3), build.AVV3); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestHandle_MemoryBudget(t *testing.T) {
	rt := newTestRuntime(t, &Config{InitialMemoryBytes: 3 * pageSize})
	h := newTestHandle(t, rt, build.AVV3)

	err := h.Do(context.Background(), "alloc", func(ctx context.Context) error {
		a := h.Arena()
		if _, err := a.Allocate(64 << 10); err != nil {
			t.Fatalf("allocation within budget failed: %v", err)
		}
		_, err := a.Allocate(256 << 10)
		return err
	})
	if !errors.Is(err, errors.ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if h.MemorySize() > 3*pageSize {
		t.Errorf("memory grew past budget: %d", h.MemorySize())
	}
	if h.Broken() {
		t.Error("allocation failure should not break the handle")
	}
}

func TestHandle_Busy(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	h := newTestHandle(t, rt, build.AVV3)

	var inner error
	err := h.Do(ctx, "outer", func(ctx context.Context) error {
		inner = h.Do(ctx, "inner", func(context.Context) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(inner, errors.ErrBusy) {
		t.Fatalf("expected busy, got %v", inner)
	}

	if err := h.Do(ctx, "again", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("handle not released after Do: %v", err)
	}
}

func TestHandle_DoCanceled(t *testing.T) {
	rt := newTestRuntime(t, nil)
	h := newTestHandle(t, rt, build.AVV3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := h.Do(ctx, "x", func(context.Context) error {
		called = true
		return nil
	})
	if err != context.Canceled || called {
		t.Fatalf("Do = %v, called = %v", err, called)
	}
}

func TestHandle_Call(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	h := newTestHandle(t, rt, build.AVV3)

	if _, err := h.Call(ctx, "modify_array", 1); !errors.Is(err, errors.New("", errors.KindSignatureMismatch).Build()) {
		t.Errorf("expected arity error, got %v", err)
	}
	if _, err := h.Call(ctx, "nope"); err == nil {
		t.Error("expected not found")
	}

	// a zero-length buffer is rejected by the engine with a sentinel
	ret, err := h.Call(ctx, "modify_array", 0, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if int32(uint32(ret)) != -1 {
		t.Errorf("ret = %d, want -1", int32(uint32(ret)))
	}
}

func TestHandle_Trap(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	h := newTestHandle(t, rt, build.AVV3)

	// channels == 0 traps in the generated engine
	_, err := h.Call(ctx, "encode_mux", 0, 0, 8000, 0, 1)
	if !errors.Is(err, errors.ErrEngineCall) {
		t.Fatalf("expected engine call error, got %v", err)
	}
	if !h.Broken() {
		t.Error("trap should mark the handle broken")
	}
}

func TestHandle_Close(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	h := newTestHandle(t, rt, build.AVV3)

	if err := h.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := h.Call(ctx, "malloc", 8); err == nil {
		t.Error("Call after Close should fail")
	}
	if err := h.Do(ctx, "x", func(context.Context) error { return nil }); err == nil {
		t.Error("Do after Close should fail")
	}
}

func TestNewHandle_WithoutInitialize(t *testing.T) {
	rt := newTestRuntime(t, nil)
	h := newTestHandle(t, rt, build.AVV3, enginetest.WithoutInitialize())

	if v, _ := h.Global(enginetest.GlobalInitialized); v != 0 {
		t.Errorf("initialized = %d", v)
	}
	err := h.Do(context.Background(), "alloc", func(context.Context) error {
		_, err := h.Arena().Allocate(16)
		return err
	})
	if !errors.Is(err, errors.ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
}

func TestVerboseOutput(t *testing.T) {
	ctx := context.Background()
	var stdout bytes.Buffer
	rt := newTestRuntime(t, &Config{Stdout: &stdout})
	h := newTestHandle(t, rt, build.AVV3)

	err := h.Do(ctx, "transcode", func(ctx context.Context) error {
		s := h.Arena().NewSession()
		defer s.ReleaseAll()

		in, err := s.Allocate(64)
		if err != nil {
			return err
		}
		if err := h.Arena().Write(in, enginetest.Input(8000, 1, make([]byte, 16))); err != nil {
			return err
		}
		str, err := s.Allocate(4)
		if err != nil {
			return err
		}
		if err := h.Arena().Write(str, []byte("wav\x00")); err != nil {
			return err
		}
		p := uint64(str.Ptr)
		_, err = h.Call(ctx, "transcode", uint64(in.Ptr), 24, p, p, p, 0, 1)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if stdout.String() != enginetest.VerboseLine {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestConfig_MemoryLimitPages(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want uint32
	}{
		{"nil", nil, 0},
		{"zero", &Config{}, 0},
		{"pages", &Config{MemoryLimitPages: 16}, 16},
		{"bytes rounded up", &Config{InitialMemoryBytes: pageSize + 1}, 2},
		{"smaller wins", &Config{MemoryLimitPages: 4, InitialMemoryBytes: 128 << 20}, 4},
		{"bytes smaller", &Config{MemoryLimitPages: 4096, InitialMemoryBytes: 128 << 20}, 2048},
		{"capped", &Config{InitialMemoryBytes: 1 << 40}, 65536},
	}
	for _, tt := range tests {
		if got := tt.cfg.memoryLimitPages(); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestDecodeModule(t *testing.T) {
	wasm := enginetest.MustGenerate(build.AVV3)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zstdData := enc.EncodeAll(wasm, nil)
	enc.Close()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(wasm)
	gw.Close()

	var lz bytes.Buffer
	lw := lz4.NewWriter(&lz)
	lw.Write(wasm)
	lw.Close()

	tests := []struct {
		name string
		data []byte
		want Compression
	}{
		{"plain", wasm, CompressionNone},
		{"zstd", zstdData, CompressionZstd},
		{"gzip", gz.Bytes(), CompressionGzip},
		{"lz4", lz.Bytes(), CompressionLZ4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := DetectCompression(tt.data)
			if !ok || c != tt.want {
				t.Fatalf("DetectCompression = %s, %v", c, ok)
			}
			got, err := DecodeModule(tt.data)
			if err != nil {
				t.Fatalf("DecodeModule: %v", err)
			}
			if !bytes.Equal(got, wasm) {
				t.Error("decoded module differs")
			}
		})
	}
}

func TestDecodeModule_Invalid(t *testing.T) {
	if _, err := DecodeModule([]byte("not wasm")); err == nil {
		t.Error("expected error for unknown format")
	}

	enc, _ := zstd.NewWriter(nil)
	notWasm := enc.EncodeAll([]byte("hello world"), nil)
	enc.Close()
	_, err := DecodeModule(notWasm)
	var me *errors.Error
	if !errors.As(err, &me) || me.Kind != errors.KindInvalidData {
		t.Errorf("expected invalid data, got %v", err)
	}

	if _, err := DecodeModule(append([]byte{0x28, 0xB5, 0x2F, 0xFD}, 0xFF, 0xFF)); err == nil {
		t.Error("expected error for corrupt zstd")
	}
}

func TestReadModule(t *testing.T) {
	wasm := enginetest.MustGenerate(build.ModifyV1)
	enc, _ := zstd.NewWriter(nil)
	path := filepath.Join(t.TempDir(), "engine.wasm.zst")
	if err := os.WriteFile(path, enc.EncodeAll(wasm, nil), 0o600); err != nil {
		t.Fatal(err)
	}
	enc.Close()

	got, err := ReadModule(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, wasm) {
		t.Error("module differs")
	}

	if _, err := ReadModule(filepath.Join(t.TempDir(), "missing.wasm")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCompilationCacheDir(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cache")
	rt := newTestRuntime(t, &Config{CacheDir: dir})
	eng, err := rt.Load(ctx, enginetest.MustGenerate(build.AVV3), build.AVV3)
	if err != nil {
		t.Fatal(err)
	}
	h, err := eng.NewHandle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h.Close(ctx)
}

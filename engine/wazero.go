package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/errors"
)

const (
	exportMemory     = "memory"
	exportInitialize = "_initialize"
)

// Runtime owns a wazero runtime, the host modules engines import and a
// cache of compiled engines keyed by content digest.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	cfg     Config
	log     *zap.Logger

	hostOnce sync.Once
	hostErr  error

	mu       sync.Mutex
	compiled map[uint64]wazero.CompiledModule
	closed   bool
}

// NewRuntime creates a runtime. A nil cfg uses defaults.
func NewRuntime(ctx context.Context, cfg *Config) (*Runtime, error) {
	runtimeCfg := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2).
		WithCloseOnContextDone(false)

	if limit := cfg.memoryLimitPages(); limit > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(limit)
	}

	r := &Runtime{
		log:      cfg.logger(),
		compiled: make(map[uint64]wazero.CompiledModule),
	}
	if cfg != nil {
		r.cfg = *cfg
		if cfg.CacheDir != "" {
			cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "compilation cache "+cfg.CacheDir)
			}
			r.cache = cache
			runtimeCfg = runtimeCfg.WithCompilationCache(cache)
		}
	}

	r.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	r.log.Debug("runtime created",
		zap.Uint32("memory_limit_pages", cfg.memoryLimitPages()),
		zap.String("cache_dir", r.cfg.CacheDir))
	return r, nil
}

// MemoryLimitPages returns the page limit applied to every instance, 0 for
// the wazero default.
func (r *Runtime) MemoryLimitPages() uint32 {
	return r.cfg.memoryLimitPages()
}

// initHostModules instantiates WASI and env once per runtime.
func (r *Runtime) initHostModules(ctx context.Context) error {
	r.hostOnce.Do(func() {
		if r.runtime.Module(wasiModule) == nil {
			if _, err := instantiateWASI(ctx, r.runtime); err != nil {
				r.hostErr = errors.Instantiation(fmt.Errorf("instantiate WASI: %w", err))
				return
			}
		}
		if r.runtime.Module(envModule) == nil {
			if _, err := instantiateEnv(ctx, r.runtime, r.log); err != nil {
				r.hostErr = errors.Instantiation(fmt.Errorf("instantiate env: %w", err))
			}
		}
	})
	return r.hostErr
}

// Load compiles wasm and verifies it against b. A nil build means
// build.Default(). Compilation is shared by every Load of the same bytes.
func (r *Runtime) Load(ctx context.Context, wasm []byte, b *build.Build) (*Engine, error) {
	if b == nil {
		b = build.Default()
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := r.initHostModules(ctx); err != nil {
		return nil, err
	}

	digest := xxhash.Sum64(wasm)
	compiled, err := r.compile(ctx, digest, wasm)
	if err != nil {
		return nil, err
	}

	if err := verifyExports(compiled, b); err != nil {
		return nil, err
	}

	r.log.Debug("engine loaded",
		zap.String("build", b.ID),
		zap.String("digest", fmt.Sprintf("%016x", digest)),
		zap.Int("bytes", len(wasm)))

	return &Engine{runtime: r, compiled: compiled, build: b, digest: digest}, nil
}

func (r *Runtime) compile(ctx context.Context, digest uint64, wasm []byte) (wazero.CompiledModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.NotInitialized(errors.PhaseLoad, "runtime")
	}
	if c, ok := r.compiled[digest]; ok {
		return c, nil
	}

	c, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile engine", err)
	}
	r.compiled[digest] = c
	return c, nil
}

// Cached reports how many compiled engines the runtime holds.
func (r *Runtime) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.compiled)
}

// Close closes the runtime and every handle created from it.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.compiled = nil
	r.mu.Unlock()

	err := r.runtime.Close(ctx)
	if r.cache != nil {
		err = multierr.Append(err, r.cache.Close(ctx))
	}
	return err
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// verifyExports checks memory, malloc, free and every entry point the
// build declares, collecting all problems rather than stopping at the first.
func verifyExports(compiled wazero.CompiledModule, b *build.Build) error {
	var problems []errors.ExportProblem

	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		problems = append(problems, errors.ExportProblem{Name: exportMemory, Reason: "missing"})
	}

	defs := compiled.ExportedFunctions()
	for _, entry := range b.Entries() {
		def, ok := defs[entry]
		if !ok {
			problems = append(problems, errors.ExportProblem{Name: entry, Reason: "missing"})
			continue
		}
		sig, err := b.Signature(entry)
		if err != nil {
			return err
		}
		params, err := sig.CoreParams()
		if err != nil {
			return err
		}
		results, err := sig.CoreResults()
		if err != nil {
			return err
		}
		if !sameTypes(params, def.ParamTypes()) || !sameTypes(results, def.ResultTypes()) {
			problems = append(problems, errors.ExportProblem{
				Name: entry,
				Reason: fmt.Sprintf("has %s, want %s",
					formatSignature(def.ParamTypes(), def.ResultTypes()),
					formatSignature(params, results)),
			})
		}
	}

	if len(problems) > 0 {
		sort.Slice(problems, func(i, j int) bool { return problems[i].Name < problems[j].Name })
		return errors.NewMissingExportsError(b.ID, problems)
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatSignature(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		s := make([]string, len(ts))
		for i, t := range ts {
			s[i] = api.ValueTypeName(t)
		}
		return strings.Join(s, ",")
	}
	return "(" + names(params) + ") -> (" + names(results) + ")"
}

// Engine is a compiled engine verified against one build.
// It is safe for concurrent use.
type Engine struct {
	runtime  *Runtime
	compiled wazero.CompiledModule
	build    *build.Build
	digest   uint64
	seq      atomic.Uint64
}

// Build returns the build the engine was verified against.
func (e *Engine) Build() *build.Build {
	return e.build
}

// Digest returns the xxhash digest of the engine binary.
func (e *Engine) Digest() uint64 {
	return e.digest
}

// NewHandle instantiates the engine with its own linear memory. Reactor
// builds are initialized through _initialize; _start is never run.
func (e *Engine) NewHandle(ctx context.Context) (*Handle, error) {
	if e.runtime.isClosed() {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}

	id := e.seq.Add(1)
	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous so handles can coexist
		WithStartFunctions().
		WithStdout(writerOrDiscard(e.runtime.cfg.Stdout)).
		WithStderr(writerOrDiscard(e.runtime.cfg.Stderr))

	mod, err := e.runtime.runtime.InstantiateModule(ctx, e.compiled, modCfg)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	h, err := newHandle(e, mod, id)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}

	if init := mod.ExportedFunction(exportInitialize); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, errors.Instantiation(fmt.Errorf("%s: %w", exportInitialize, err))
		}
	}

	e.runtime.log.Debug("handle created",
		zap.String("build", e.build.ID),
		zap.Uint64("handle", id),
		zap.Uint32("memory_bytes", h.MemorySize()))
	return h, nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

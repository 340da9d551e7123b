// Package enginetest generates small deterministic media engines for tests.
//
// A generated engine exports the same entry points, argument counts and
// result layouts as the build it imitates, but its "codec" is trivial.
// Input buffers use a fixed framing:
//
//	sampleRate u16 | channels u16 | payloadLen u32 | payload
//
// probe and transcode report that framing back in the build's header
// layout. transcode copies the input unchanged, either into a fresh buffer
// or in place depending on the layout. encode_mux and modify_array
// overwrite the framing with a 4-byte profile magic (an MP2 frame sync for
// MP2) plus sample rate and channels, and append a 4-byte trailer, so
// output is always 4 bytes longer than the framed input and needs
// headroom.
//
// malloc is a bump allocator that grows memory on demand and returns 0
// when growth is refused. free never reuses memory; the "live" global
// counts outstanding allocations so tests can check the host freed
// everything. The engine also records the string pointers transcode was
// given in the last_* globals.
package enginetest

import (
	"encoding/binary"
	"sort"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/header"
	"github.com/wippyai/wasm-media/internal/wasmbin"
	"github.com/wippyai/wasm-media/profile"
)

// FrameSize is the size of the input framing before the payload.
const FrameSize = 8

// TranscodeFrameSize is the frame size reported by transcode.
const TranscodeFrameSize = 1152

// HeapBase is the first address malloc hands out.
const HeapBase = 1024

// Trailer ends every encode_mux and modify_array output.
var Trailer = []byte("END!")

// VerboseLine is written to stdout by transcode when verbose > 0.
const VerboseLine = "transcode\n"

// Global names exported by every generated engine.
const (
	GlobalLive        = "live"
	GlobalInitialized = "initialized"
	GlobalLastSrc     = "last_src"
	GlobalLastDst     = "last_dst"
	GlobalLastCodec   = "last_codec"
	GlobalLastOptions = "last_opts"
)

var magics = map[profile.Code][4]byte{
	profile.AAC:      {0xFF, 0xF1, 0x50, 0x80},
	profile.MP2:      {0xFF, 0xFD, 0x94, 0x04},
	profile.WebMOpus: {0x1A, 0x45, 0xDF, 0xA3},
	profile.MP3:      {0xFF, 0xFB, 0x90, 0x64},
	profile.OggOpus:  {'O', 'g', 'g', 'S'},
}

// Magic returns the output prefix written for p.
func Magic(p profile.Code) []byte {
	m := magics[p]
	return m[:]
}

// Input frames payload the way generated engines expect.
func Input(sampleRate, channels uint16, payload []byte) []byte {
	b := make([]byte, FrameSize+len(payload))
	binary.LittleEndian.PutUint16(b[0:], sampleRate)
	binary.LittleEndian.PutUint16(b[2:], channels)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(payload)))
	copy(b[FrameSize:], payload)
	return b
}

// PCM returns n bytes of a deterministic 16-bit sample pattern.
func PCM(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// DurationMs is the duration probe reports for 16-bit samples.
func DurationMs(sampleRate, channels uint16, payloadLen int) uint16 {
	bps := uint32(sampleRate) * uint32(channels) * 2
	if bps == 0 {
		return 0
	}
	return uint16(uint32(payloadLen) * 1000 / bps)
}

type options struct {
	initialPages uint32
	maxPages     uint32
	omit         map[string]bool
	swap         map[string]string
	noInit       bool
	oversized    bool
	zeroLength   bool
	nullOutput   bool
	headerAt     uint32
}

// Option adjusts a generated engine.
type Option func(*options)

// WithInitialPages sets the initial memory size in 64 KiB pages.
func WithInitialPages(n uint32) Option {
	return func(o *options) { o.initialPages = n }
}

// WithMaxPages declares a maximum memory size in the module itself.
func WithMaxPages(n uint32) Option {
	return func(o *options) { o.maxPages = n }
}

// WithoutExport leaves an entry point unexported.
func WithoutExport(name string) Option {
	return func(o *options) { o.omit[name] = true }
}

// WithSwappedExport exports the function named target under name, which
// produces a signature mismatch when the two differ.
func WithSwappedExport(name, target string) Option {
	return func(o *options) { o.swap[name] = target }
}

// WithoutInitialize omits the _initialize export. malloc then refuses
// every request.
func WithoutInitialize() Option {
	return func(o *options) { o.noInit = true }
}

// WithOversizedResult makes encode_mux and modify_array report one byte
// more than the buffer they were given.
func WithOversizedResult() Option {
	return func(o *options) { o.oversized = true }
}

// WithZeroLength makes transcode report a zero output length. Layouts with
// an out pointer still get a freshly allocated output buffer.
func WithZeroLength() Option {
	return func(o *options) { o.zeroLength = true }
}

// WithNullOutput makes transcode store a null out pointer without
// allocating an output buffer. Layouts without an out pointer are
// unaffected.
func WithNullOutput() Option {
	return func(o *options) { o.nullOutput = true }
}

// WithProbeHeaderAt makes probe free its record and return ptr instead.
func WithProbeHeaderAt(ptr uint32) Option {
	return func(o *options) { o.headerAt = ptr }
}

// Generate returns an engine binary imitating b.
func Generate(b *build.Build, opts ...Option) ([]byte, error) {
	o := &options{
		initialPages: 2,
		omit:         make(map[string]bool),
		swap:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}

	g := &generator{m: wasmbin.NewModule(), build: b, opts: o}
	funcs, err := g.generate()
	if err != nil {
		return nil, err
	}

	m := g.m
	m.SetMemory(o.initialPages, o.maxPages)
	m.ExportMemory("memory")

	exported := []string{"malloc", "free"}
	for _, op := range build.Ops() {
		if spec, ok := b.Ops[op]; ok {
			exported = append(exported, spec.Entry)
		}
	}
	if !o.noInit {
		exported = append(exported, "_initialize")
	}
	for _, name := range exported {
		if o.omit[name] {
			continue
		}
		target := name
		if t, ok := o.swap[name]; ok {
			target = t
		}
		m.ExportFunc(name, funcs[target])
	}

	names := make([]string, 0, len(g.globals))
	for name := range g.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.ExportGlobal(name, g.globals[name])
	}
	return m.Encode(), nil
}

// MustGenerate is Generate for test setup.
func MustGenerate(b *build.Build, opts ...Option) []byte {
	bin, err := Generate(b, opts...)
	if err != nil {
		panic(err)
	}
	return bin
}

const (
	magicBase   = 16
	verboseAddr = 48
	iovecAddr   = 64
	nwrittenPtr = 72
)

var i32 = wasmbin.I32

type generator struct {
	m     *wasmbin.Module
	build *build.Build
	opts  *options

	notifyGrowth uint32
	fdWrite      uint32

	heap, live, initialized               uint32
	lastSrc, lastDst, lastCodec, lastOpts uint32
	globals                               map[string]uint32

	malloc, free, encodeMux uint32
}

func (g *generator) generate() (map[string]uint32, error) {
	m := g.m
	g.notifyGrowth = m.ImportFunc("env", "emscripten_notify_memory_growth",
		wasmbin.FuncType{Params: []wasmbin.ValType{i32}})
	g.fdWrite = m.ImportFunc("wasi_snapshot_preview1", "fd_write",
		wasmbin.FuncType{Params: []wasmbin.ValType{i32, i32, i32, i32}, Results: []wasmbin.ValType{i32}})

	g.heap = m.AddGlobal(i32, true, HeapBase)
	g.live = m.AddGlobal(i32, true, 0)
	g.initialized = m.AddGlobal(i32, true, 0)
	g.lastSrc = m.AddGlobal(i32, true, 0)
	g.lastDst = m.AddGlobal(i32, true, 0)
	g.lastCodec = m.AddGlobal(i32, true, 0)
	g.lastOpts = m.AddGlobal(i32, true, 0)
	g.globals = map[string]uint32{
		GlobalLive:        g.live,
		GlobalInitialized: g.initialized,
		GlobalLastSrc:     g.lastSrc,
		GlobalLastDst:     g.lastDst,
		GlobalLastCodec:   g.lastCodec,
		GlobalLastOptions: g.lastOpts,
	}

	table := make([]byte, 0, 4*len(magics))
	for c := profile.AAC; c <= profile.OggOpus; c++ {
		table = append(table, Magic(c)...)
	}
	m.AddData(magicBase, table)
	m.AddData(verboseAddr, []byte(VerboseLine))

	funcs := make(map[string]uint32)
	g.malloc = g.addMalloc()
	funcs["malloc"] = g.malloc
	g.free = g.addFree()
	funcs["free"] = g.free
	funcs["_initialize"] = m.AddFunc(wasmbin.FuncType{}, nil,
		wasmbin.NewCode().I32Const(1).GlobalSet(g.initialized))

	g.encodeMux = g.addEncodeMux()
	funcs["encode_mux"] = g.encodeMux
	funcs["modify_array"] = g.addModify()

	if spec, ok := g.build.Ops[build.OpProbe]; ok {
		funcs[spec.Entry] = g.addProbe(spec.Layout)
	}
	if spec, ok := g.build.Ops[build.OpTranscode]; ok {
		sig, err := g.build.Signature(spec.Entry)
		if err != nil {
			return nil, err
		}
		funcs[spec.Entry] = g.addTranscode(spec.Layout, sig.Arity())
	}
	return funcs, nil
}

func returnIf(c *wasmbin.Code, v int32) *wasmbin.Code {
	return c.If().I32Const(v).Return().End()
}

// malloc(size) -> ptr
func (g *generator) addMalloc() uint32 {
	const (
		size = iota
		p
		end
		need
	)
	c := wasmbin.NewCode()
	c.GlobalGet(g.initialized).I32Eqz()
	returnIf(c, 0)
	c.GlobalGet(g.heap).I32Const(7).I32Add().I32Const(-8).I32And().LocalSet(p)
	c.LocalGet(p).LocalGet(size).I32Add().LocalSet(end)
	c.LocalGet(end).LocalGet(p).I32LtU()
	returnIf(c, 0)
	c.LocalGet(end).MemorySize().I32Const(16).I32Shl().I32GtU().If()
	{
		c.LocalGet(end).MemorySize().I32Const(16).I32Shl().I32Sub().
			I32Const(65535).I32Add().I32Const(16).I32ShrU().LocalSet(need)
		c.LocalGet(need).MemoryGrow().I32Const(-1).I32Eq()
		returnIf(c, 0)
		c.I32Const(0).Call(g.notifyGrowth)
	}
	c.End()
	c.LocalGet(end).GlobalSet(g.heap)
	c.GlobalGet(g.live).I32Const(1).I32Add().GlobalSet(g.live)
	c.LocalGet(p)

	return g.m.AddFunc(wasmbin.FuncType{Params: []wasmbin.ValType{i32}, Results: []wasmbin.ValType{i32}},
		[]wasmbin.ValType{i32, i32, i32}, c)
}

// free(ptr)
func (g *generator) addFree() uint32 {
	c := wasmbin.NewCode()
	c.LocalGet(0).If().
		GlobalGet(g.live).I32Const(1).I32Sub().GlobalSet(g.live).
		End()
	return g.m.AddFunc(wasmbin.FuncType{Params: []wasmbin.ValType{i32}}, nil, c)
}

// encode_mux(ptr, size, sampleRate, channels, profile) -> len
func (g *generator) addEncodeMux() uint32 {
	const (
		ptr = iota
		size
		rate
		channels
		prof
		n
	)
	c := wasmbin.NewCode()
	c.LocalGet(channels).I32Eqz().If().Unreachable().End()
	c.LocalGet(size).I32Const(FrameSize).I32LtU()
	returnIf(c, -1)
	c.LocalGet(prof).I32Const(int32(profile.OggOpus)).I32GtU()
	returnIf(c, -2)
	c.LocalGet(ptr).I32Load(4).I32Const(FrameSize).I32Add().LocalSet(n)
	c.LocalGet(n).I32Const(int32(len(Trailer))).I32Add().LocalGet(size).I32GtU()
	returnIf(c, -3)

	c.LocalGet(ptr).
		LocalGet(prof).I32Const(2).I32Shl().I32Load(magicBase).
		I32Store(0)
	c.LocalGet(ptr).LocalGet(rate).I32Store16(4)
	c.LocalGet(ptr).LocalGet(channels).I32Store16(6)
	c.LocalGet(ptr).LocalGet(n).I32Add().
		I32Const(int32(binary.LittleEndian.Uint32(Trailer))).
		I32Store(0)
	if g.opts.oversized {
		c.LocalGet(size).I32Const(1).I32Add()
	} else {
		c.LocalGet(n).I32Const(int32(len(Trailer))).I32Add()
	}

	i32s := []wasmbin.ValType{i32, i32, i32, i32, i32}
	return g.m.AddFunc(wasmbin.FuncType{Params: i32s, Results: []wasmbin.ValType{i32}},
		[]wasmbin.ValType{i32}, c)
}

// modify_array(ptr, size, profile) -> len
func (g *generator) addModify() uint32 {
	c := wasmbin.NewCode()
	c.LocalGet(1).I32Const(FrameSize).I32LtU()
	returnIf(c, -1)
	c.LocalGet(0).LocalGet(1).
		LocalGet(0).I32Load16U(0).
		LocalGet(0).I32Load16U(2).
		LocalGet(2).
		Call(g.encodeMux)
	return g.m.AddFunc(wasmbin.FuncType{Params: []wasmbin.ValType{i32, i32, i32}, Results: []wasmbin.ValType{i32}},
		nil, c)
}

// fieldValues pushes the value of each header field onto the stack.
type fieldValues map[header.Field]func(c *wasmbin.Code)

func (g *generator) storeHeader(c *wasmbin.Code, h uint32, l header.Layout, values fieldValues) {
	for _, slot := range l.Slots {
		push, ok := values[slot.Field]
		if !ok {
			continue
		}
		c.LocalGet(h)
		push(c)
		if slot.Size == 4 {
			c.I32Store(slot.Offset)
		} else {
			c.I32Store16(slot.Offset)
		}
	}
}

// computeDuration sets dur from the framing at ptr, using tmp as scratch.
func computeDuration(c *wasmbin.Code, ptr, tmp, dur uint32) {
	c.LocalGet(ptr).I32Load16U(0).LocalGet(ptr).I32Load16U(2).I32Mul().
		I32Const(2).I32Mul().LocalTee(tmp).I32Eqz().If()
	{
		c.I32Const(0).LocalSet(dur)
	}
	c.Else()
	{
		c.LocalGet(ptr).I32Load(4).I32Const(1000).I32Mul().
			LocalGet(tmp).I32DivU().LocalSet(dur)
	}
	c.End()
}

// checkFraming returns 0 unless size covers the framed input.
func checkFraming(c *wasmbin.Code, ptr, size uint32) {
	c.LocalGet(size).I32Const(FrameSize).I32LtU()
	returnIf(c, 0)
	c.LocalGet(ptr).I32Load(4).I32Const(FrameSize).I32Add().LocalGet(size).I32GtU()
	returnIf(c, 0)
}

// checkString returns 0 for a null or empty C string.
func checkString(c *wasmbin.Code, s uint32) {
	c.LocalGet(s).I32Eqz()
	returnIf(c, 0)
	c.LocalGet(s).I32Load8U(0).I32Eqz()
	returnIf(c, 0)
}

// probe(ptr, size, srcFormat, verbose) -> header
func (g *generator) addProbe(l header.Layout) uint32 {
	const (
		ptr = iota
		size
		src
		_
		h
		tmp
		dur
	)
	c := wasmbin.NewCode()
	checkFraming(c, ptr, size)
	checkString(c, src)
	computeDuration(c, ptr, tmp, dur)
	c.I32Const(int32(l.Width)).Call(g.malloc).LocalTee(h).I32Eqz()
	returnIf(c, 0)

	g.storeHeader(c, h, l, fieldValues{
		header.FieldOutPointer: func(c *wasmbin.Code) { c.LocalGet(ptr) },
		header.FieldLength:     func(c *wasmbin.Code) { c.LocalGet(size) },
		header.FieldSampleRate: func(c *wasmbin.Code) { c.LocalGet(ptr).I32Load16U(0) },
		header.FieldBitDepth:   func(c *wasmbin.Code) { c.I32Const(16) },
		header.FieldChannels:   func(c *wasmbin.Code) { c.LocalGet(ptr).I32Load16U(2) },
		header.FieldDuration:   func(c *wasmbin.Code) { c.LocalGet(dur) },
		header.FieldFrameSize:  func(c *wasmbin.Code) { c.I32Const(0) },
	})
	if g.opts.headerAt != 0 {
		c.LocalGet(h).Call(g.free)
		c.I32Const(int32(g.opts.headerAt))
	} else {
		c.LocalGet(h)
	}

	return g.m.AddFunc(
		wasmbin.FuncType{Params: []wasmbin.ValType{i32, i32, i32, i32}, Results: []wasmbin.ValType{i32}},
		[]wasmbin.ValType{i32, i32, i32}, c)
}

// transcode(ptr, size, src, dst, codec[, options, verbose]) -> header
func (g *generator) addTranscode(l header.Layout, arity int) uint32 {
	const (
		ptr = iota
		size
		src
		dst
		codec
		opts
		verbose
	)
	var (
		n   = uint32(arity)
		out = n + 1
		h   = n + 2
		tmp = n + 3
		dur = n + 4
	)

	c := wasmbin.NewCode()
	c.LocalGet(src).GlobalSet(g.lastSrc)
	c.LocalGet(dst).GlobalSet(g.lastDst)
	c.LocalGet(codec).GlobalSet(g.lastCodec)
	if arity > opts {
		c.LocalGet(opts).GlobalSet(g.lastOpts)
	}
	checkFraming(c, ptr, size)
	checkString(c, src)
	checkString(c, dst)
	checkString(c, codec)

	if arity > verbose {
		c.LocalGet(verbose).I32Const(0).I32GtS().If()
		{
			c.I32Const(iovecAddr).I32Const(verboseAddr).I32Store(0)
			c.I32Const(iovecAddr).I32Const(int32(len(VerboseLine))).I32Store(4)
			c.I32Const(1).I32Const(iovecAddr).I32Const(1).I32Const(nwrittenPtr).
				Call(g.fdWrite).Drop()
		}
		c.End()
	}

	c.LocalGet(ptr).I32Load(4).I32Const(FrameSize).I32Add().LocalSet(n)
	computeDuration(c, ptr, tmp, dur)

	switch {
	case l.Fields().Has(header.FieldOutPointer) && g.opts.nullOutput:
		c.I32Const(0).LocalSet(out)
	case l.Fields().Has(header.FieldOutPointer):
		c.LocalGet(n).Call(g.malloc).LocalTee(out).I32Eqz()
		returnIf(c, 0)
		c.LocalGet(out).LocalGet(ptr).LocalGet(n).MemoryCopy()
	default:
		c.LocalGet(ptr).LocalSet(out)
	}

	c.I32Const(int32(l.Width)).Call(g.malloc).LocalTee(h).I32Eqz()
	returnIf(c, 0)

	g.storeHeader(c, h, l, fieldValues{
		header.FieldOutPointer: func(c *wasmbin.Code) { c.LocalGet(out) },
		header.FieldLength: func(c *wasmbin.Code) {
			if g.opts.zeroLength {
				c.I32Const(0)
			} else {
				c.LocalGet(n)
			}
		},
		header.FieldSampleRate: func(c *wasmbin.Code) { c.LocalGet(ptr).I32Load16U(0) },
		header.FieldBitDepth:   func(c *wasmbin.Code) { c.I32Const(16) },
		header.FieldChannels:   func(c *wasmbin.Code) { c.LocalGet(ptr).I32Load16U(2) },
		header.FieldDuration:   func(c *wasmbin.Code) { c.LocalGet(dur) },
		header.FieldFrameSize:  func(c *wasmbin.Code) { c.I32Const(TranscodeFrameSize) },
	})
	c.LocalGet(h)

	params := make([]wasmbin.ValType, arity)
	for i := range params {
		params[i] = i32
	}
	return g.m.AddFunc(
		wasmbin.FuncType{Params: params, Results: []wasmbin.ValType{i32}},
		[]wasmbin.ValType{i32, i32, i32, i32, i32}, c)
}

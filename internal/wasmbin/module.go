// Package wasmbin assembles small core WebAssembly modules in memory.
//
// It covers the subset needed to generate test engines: function imports,
// one memory, i32/i64 globals, active data segments and exports. Imports
// must be added before any function is defined so indices stay stable.
package wasmbin

import "fmt"

// ValType is a core value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

const magic = "\x00asm\x01\x00\x00\x00"

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11
)

const (
	exportFunc   = 0x00
	exportMemory = 0x02
	exportGlobal = 0x03
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) key() string {
	return fmt.Sprintf("%x>%x", ft.Params, ft.Results)
}

type funcImport struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type global struct {
	typ     ValType
	mutable bool
	init    int64
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset uint32
	data   []byte
}

// Module is a module under construction.
type Module struct {
	types     []FuncType
	typeIndex map[string]uint32
	imports   []funcImport
	funcs     []function
	globals   []global
	exports   []export
	data      []segment

	hasMemory bool
	memMin    uint32
	memMax    uint32
	hasMax    bool
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{typeIndex: make(map[string]uint32)}
}

func (m *Module) typeOf(ft FuncType) uint32 {
	k := ft.key()
	if idx, ok := m.typeIndex[k]; ok {
		return idx
	}
	idx := uint32(len(m.types))
	m.types = append(m.types, ft)
	m.typeIndex[k] = idx
	return idx
}

// ImportFunc imports a host function and returns its function index.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmbin: import after function definition")
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typeIdx: m.typeOf(ft)})
	return uint32(len(m.imports) - 1)
}

// NextFunc returns the index the next AddFunc call will assign.
func (m *Module) NextFunc() uint32 {
	return uint32(len(m.imports) + len(m.funcs))
}

// AddFunc defines a function. Locals are in addition to params.
func (m *Module) AddFunc(ft FuncType, locals []ValType, body *Code) uint32 {
	idx := m.NextFunc()
	m.funcs = append(m.funcs, function{typeIdx: m.typeOf(ft), locals: locals, body: body.Bytes()})
	return idx
}

// SetMemory declares the module's memory in pages. A max of 0 means none.
func (m *Module) SetMemory(min, max uint32) {
	m.hasMemory = true
	m.memMin = min
	m.memMax = max
	m.hasMax = max > 0
}

// AddGlobal defines a global with a constant initializer.
func (m *Module) AddGlobal(t ValType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{typ: t, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1)
}

// AddData places b at offset when the module is instantiated.
func (m *Module) AddData(offset uint32, b []byte) {
	m.data = append(m.data, segment{offset: offset, data: b})
}

func (m *Module) ExportFunc(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: exportFunc, idx: idx})
}

func (m *Module) ExportMemory(name string) {
	m.exports = append(m.exports, export{name: name, kind: exportMemory})
}

func (m *Module) ExportGlobal(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: exportGlobal, idx: idx})
}

// Encode renders the binary module.
func (m *Module) Encode() []byte {
	out := &writer{}
	out.raw([]byte(magic))

	if len(m.types) > 0 {
		w := &writer{}
		w.u32(uint32(len(m.types)))
		for _, ft := range m.types {
			w.byte(0x60)
			writeValTypes(w, ft.Params)
			writeValTypes(w, ft.Results)
		}
		out.section(sectionType, w.bytes())
	}

	if len(m.imports) > 0 {
		w := &writer{}
		w.u32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			w.name(imp.module)
			w.name(imp.name)
			w.byte(exportFunc)
			w.u32(imp.typeIdx)
		}
		out.section(sectionImport, w.bytes())
	}

	if len(m.funcs) > 0 {
		w := &writer{}
		w.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			w.u32(f.typeIdx)
		}
		out.section(sectionFunction, w.bytes())
	}

	if m.hasMemory {
		w := &writer{}
		w.u32(1)
		if m.hasMax {
			w.byte(0x01)
			w.u32(m.memMin)
			w.u32(m.memMax)
		} else {
			w.byte(0x00)
			w.u32(m.memMin)
		}
		out.section(sectionMemory, w.bytes())
	}

	if len(m.globals) > 0 {
		w := &writer{}
		w.u32(uint32(len(m.globals)))
		for _, g := range m.globals {
			w.byte(byte(g.typ))
			if g.mutable {
				w.byte(0x01)
			} else {
				w.byte(0x00)
			}
			switch g.typ {
			case I64:
				w.byte(0x42)
			default:
				w.byte(0x41)
			}
			w.s64(g.init)
			w.byte(0x0B)
		}
		out.section(sectionGlobal, w.bytes())
	}

	if len(m.exports) > 0 {
		w := &writer{}
		w.u32(uint32(len(m.exports)))
		for _, e := range m.exports {
			w.name(e.name)
			w.byte(e.kind)
			w.u32(e.idx)
		}
		out.section(sectionExport, w.bytes())
	}

	if len(m.funcs) > 0 {
		w := &writer{}
		w.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := &writer{}
			body.u32(uint32(len(f.locals)))
			for _, l := range f.locals {
				body.u32(1)
				body.byte(byte(l))
			}
			body.raw(f.body)
			body.byte(0x0B)
			w.vec(body.bytes())
		}
		out.section(sectionCode, w.bytes())
	}

	if len(m.data) > 0 {
		w := &writer{}
		w.u32(uint32(len(m.data)))
		for _, d := range m.data {
			w.u32(0)
			w.byte(0x41)
			w.s64(int64(int32(d.offset)))
			w.byte(0x0B)
			w.vec(d.data)
		}
		out.section(sectionData, w.bytes())
	}

	return out.bytes()
}

func writeValTypes(w *writer, types []ValType) {
	w.u32(uint32(len(types)))
	for _, t := range types {
		w.byte(byte(t))
	}
}

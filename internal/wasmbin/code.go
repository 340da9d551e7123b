package wasmbin

// Code assembles a function body. Methods append one instruction and
// return the receiver so bodies read top to bottom.
type Code struct {
	w writer
}

// NewCode starts an empty body.
func NewCode() *Code {
	return &Code{}
}

// Bytes returns the instructions without the terminating end.
func (c *Code) Bytes() []byte {
	return c.w.bytes()
}

func (c *Code) op(b ...byte) *Code {
	c.w.raw(b)
	return c
}

func (c *Code) idx(opcode byte, i uint32) *Code {
	c.w.byte(opcode)
	c.w.u32(i)
	return c
}

func (c *Code) mem(opcode byte, align, offset uint32) *Code {
	c.w.byte(opcode)
	c.w.u32(align)
	c.w.u32(offset)
	return c
}

func (c *Code) Unreachable() *Code { return c.op(0x00) }
func (c *Code) Return() *Code      { return c.op(0x0F) }
func (c *Code) Drop() *Code        { return c.op(0x1A) }
func (c *Code) End() *Code         { return c.op(0x0B) }
func (c *Code) Else() *Code        { return c.op(0x05) }

// If opens a block with no result.
func (c *Code) If() *Code { return c.op(0x04, 0x40) }

func (c *Code) Call(fn uint32) *Code        { return c.idx(0x10, fn) }
func (c *Code) LocalGet(i uint32) *Code     { return c.idx(0x20, i) }
func (c *Code) LocalSet(i uint32) *Code     { return c.idx(0x21, i) }
func (c *Code) LocalTee(i uint32) *Code     { return c.idx(0x22, i) }
func (c *Code) GlobalGet(i uint32) *Code    { return c.idx(0x23, i) }
func (c *Code) GlobalSet(i uint32) *Code    { return c.idx(0x24, i) }
func (c *Code) I32Load(off uint32) *Code    { return c.mem(0x28, 2, off) }
func (c *Code) I32Load8U(off uint32) *Code  { return c.mem(0x2D, 0, off) }
func (c *Code) I32Load16U(off uint32) *Code { return c.mem(0x2F, 1, off) }
func (c *Code) I32Store(off uint32) *Code   { return c.mem(0x36, 2, off) }
func (c *Code) I32Store8(off uint32) *Code  { return c.mem(0x3A, 0, off) }
func (c *Code) I32Store16(off uint32) *Code { return c.mem(0x3B, 1, off) }
func (c *Code) MemorySize() *Code           { return c.op(0x3F, 0x00) }
func (c *Code) MemoryGrow() *Code           { return c.op(0x40, 0x00) }

// MemoryCopy is memory.copy from the bulk memory proposal: dst, src, n.
func (c *Code) MemoryCopy() *Code { return c.op(0xFC, 0x0A, 0x00, 0x00) }

func (c *Code) I32Const(v int32) *Code {
	c.w.byte(0x41)
	c.w.s64(int64(v))
	return c
}

func (c *Code) I32Eqz() *Code  { return c.op(0x45) }
func (c *Code) I32Eq() *Code   { return c.op(0x46) }
func (c *Code) I32Ne() *Code   { return c.op(0x47) }
func (c *Code) I32LtS() *Code  { return c.op(0x48) }
func (c *Code) I32LtU() *Code  { return c.op(0x49) }
func (c *Code) I32GtS() *Code  { return c.op(0x4A) }
func (c *Code) I32GtU() *Code  { return c.op(0x4B) }
func (c *Code) I32Add() *Code  { return c.op(0x6A) }
func (c *Code) I32Sub() *Code  { return c.op(0x6B) }
func (c *Code) I32Mul() *Code  { return c.op(0x6C) }
func (c *Code) I32DivU() *Code { return c.op(0x6E) }
func (c *Code) I32And() *Code  { return c.op(0x71) }
func (c *Code) I32Shl() *Code  { return c.op(0x74) }
func (c *Code) I32ShrU() *Code { return c.op(0x76) }

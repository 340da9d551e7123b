package gateway

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/errors"
	"github.com/wippyai/wasm-media/header"
	"github.com/wippyai/wasm-media/marshal"
)

// input writes the operation's input buffer. Buffers the engine
// overwrites get the build's headroom, and the engine is told their
// capacity rather than the data length.
func (c *call) input(b []byte, headroom bool) (marshal.Handle, uint32, error) {
	if !headroom {
		in, err := marshal.Bytes(c.sess, b)
		return in, uint32(len(b)), err
	}
	capacity, err := c.g.build.Capacity(uint32(len(b)))
	if err != nil {
		return marshal.Null, 0, err
	}
	in, err := marshal.BytesWithCapacity(c.sess, b, capacity)
	if err != nil {
		return marshal.Null, 0, err
	}
	return in, in.Len, nil
}

// invoke calls the entry point with the leading args its signature
// declares. Trailing optional arguments the build does not take are
// dropped. Header entry points return a u32 pointer where only zero is a
// sentinel; in-place entry points fail with zero or a negative s32.
func (c *call) invoke(args ...uint64) (uint64, error) {
	arity := c.sig.Arity()
	if arity > len(args) {
		return 0, errors.New(errors.PhaseCall, errors.KindSignatureMismatch).
			Path(c.spec.Entry).
			Detail("signature takes %d arguments, %s supplies %d", arity, c.op, len(args)).
			Build()
	}

	ret, err := c.g.h.Call(c.ctx, c.spec.Entry, args[:arity]...)
	if err != nil {
		return 0, err
	}
	failed := api.DecodeI32(ret) <= 0
	if c.spec.Convention == build.Header {
		failed = api.DecodeU32(ret) == 0
	}
	if failed {
		return 0, errors.EngineCall(c.spec.Entry, ret)
	}
	return ret, nil
}

// inPlace copies the n bytes the engine wrote over in.
func (c *call) inPlace(in marshal.Handle, n uint32) ([]byte, error) {
	if n > in.Len {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Path(c.spec.Entry).
			Detail("engine reported %d bytes in a buffer of %d", n, in.Len).
			Value(n).
			Build()
	}
	return c.arena.Copy(in.Ptr, n)
}

// header decodes and adopts the record at ptr. Operations that copy output
// treat a zero length as a failed call; probe lengths pass through as the
// engine wrote them.
func (c *call) header(ptr, inPtr uint32) (header.Header, error) {
	l := c.spec.Layout
	h, err := header.Decode(c.arena.Memory(), ptr, l)
	if err != nil {
		return header.Header{}, err
	}
	c.sess.Adopt(ptr, l.Width)

	if h.Length == 0 && c.op != build.OpProbe {
		if out, _ := h.Output(inPtr); out != inPtr {
			c.sess.Adopt(out, 0)
		}
		return header.Header{}, errors.New(errors.PhaseDecode, errors.KindEngineCall).
			Path(c.spec.Entry, l.Name).
			Detail("result header reports zero length").
			Value(ptr).
			Build()
	}
	return h, nil
}

// output copies the bytes a header points at. Out-of-place buffers are
// adopted so the session frees them.
func (c *call) output(in marshal.Handle, h header.Header) ([]byte, error) {
	ptr, n := h.Output(in.Ptr)
	if ptr == in.Ptr {
		return c.inPlace(in, n)
	}
	if ptr == 0 {
		return nil, errors.New(errors.PhaseDecode, errors.KindEngineCall).
			Path(c.spec.Entry, c.spec.Layout.Name).
			Detail("result header has a null output pointer").
			Build()
	}
	c.sess.Adopt(ptr, n)
	return c.arena.Copy(ptr, n)
}

package header

import (
	"encoding/binary"

	wasmmedia "github.com/wippyai/wasm-media"
	"github.com/wippyai/wasm-media/errors"
)

// Header holds the fields of a decoded result record. Fields the layout
// does not carry are zero and absent from Present.
type Header struct {
	OutPointer uint32
	Length     uint32
	SampleRate uint16
	BitDepth   uint16
	Channels   uint16
	DurationMs uint16
	FrameSize  uint16
	Present    FieldSet
}

// Has reports whether the decoded layout carried f.
func (h Header) Has(f Field) bool {
	return h.Present.Has(f)
}

// Output returns where the result bytes live. Layouts without an out
// pointer leave the output at the input pointer.
func (h Header) Output(inputPtr uint32) (ptr, length uint32) {
	if h.Has(FieldOutPointer) {
		return h.OutPointer, h.Length
	}
	return inputPtr, h.Length
}

// Decode reads a record of layout l at ptr. It never writes to memory.
func Decode(mem wasmmedia.Memory, ptr uint32, l Layout) (Header, error) {
	b, err := mem.Read(ptr, l.Width)
	if err != nil {
		var size uint32
		if s, ok := mem.(wasmmedia.MemorySizer); ok {
			size = s.Size()
		}
		oob := errors.OutOfBounds(errors.PhaseDecode, ptr, l.Width, size)
		oob.Path = []string{l.Name}
		oob.Cause = err
		return Header{}, oob
	}
	return Parse(b, l)
}

// Parse decodes a record of layout l from b.
func Parse(b []byte, l Layout) (Header, error) {
	if uint64(len(b)) < uint64(l.Width) {
		return Header{}, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Path(l.Name).
			Detail("record is %d bytes, layout needs %d", len(b), l.Width).
			Build()
	}

	var h Header
	for _, slot := range l.Slots {
		var v uint32
		switch slot.Size {
		case 2:
			v = uint32(binary.LittleEndian.Uint16(b[slot.Offset:]))
		case 4:
			v = binary.LittleEndian.Uint32(b[slot.Offset:])
		default:
			return Header{}, errors.New(errors.PhaseDecode, errors.KindUnsupported).
				Path(l.Name, slot.Field.String()).
				Detail("slot size %d", slot.Size).
				Build()
		}
		h.set(slot.Field, v)
	}
	return h, nil
}

func (h *Header) set(f Field, v uint32) {
	switch f {
	case FieldOutPointer:
		h.OutPointer = v
	case FieldLength:
		h.Length = v
	case FieldSampleRate:
		h.SampleRate = uint16(v)
	case FieldBitDepth:
		h.BitDepth = uint16(v)
	case FieldChannels:
		h.Channels = uint16(v)
	case FieldDuration:
		h.DurationMs = uint16(v)
	case FieldFrameSize:
		h.FrameSize = uint16(v)
	default:
		return
	}
	h.Present = h.Present.with(f)
}

func (h Header) get(f Field) uint32 {
	switch f {
	case FieldOutPointer:
		return h.OutPointer
	case FieldLength:
		return h.Length
	case FieldSampleRate:
		return uint32(h.SampleRate)
	case FieldBitDepth:
		return uint32(h.BitDepth)
	case FieldChannels:
		return uint32(h.Channels)
	case FieldDuration:
		return uint32(h.DurationMs)
	case FieldFrameSize:
		return uint32(h.FrameSize)
	}
	return 0
}

// Encode renders h in layout l. Fields the layout does not carry are
// dropped and values wider than their slot are truncated.
func Encode(h Header, l Layout) []byte {
	b := make([]byte, l.Width)
	for _, slot := range l.Slots {
		v := h.get(slot.Field)
		switch slot.Size {
		case 2:
			binary.LittleEndian.PutUint16(b[slot.Offset:], uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(b[slot.Offset:], v)
		}
	}
	return b
}

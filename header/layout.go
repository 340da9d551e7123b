// Package header decodes the fixed-width result records an engine writes
// into its linear memory.
//
// The record layout has changed across engine builds. Each generation is an
// explicit Layout entry: a width and a list of little-endian slots. Adding a
// build means adding a Layout, not new offset arithmetic at call sites.
//
// Decoding only reads engine memory and never validates field values; a
// zero sample rate is passed through. Pairing a layout with the engine build
// that writes it is the caller's job, since nothing in the bytes identifies
// the layout.
package header

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-media/errors"
)

// Field identifies a header field.
type Field uint8

const (
	FieldOutPointer Field = iota
	FieldLength
	FieldSampleRate
	FieldBitDepth
	FieldChannels
	FieldDuration
	FieldFrameSize
	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldOutPointer: "out_pointer",
	FieldLength:     "length",
	FieldSampleRate: "sample_rate",
	FieldBitDepth:   "bit_depth",
	FieldChannels:   "num_channels",
	FieldDuration:   "duration_ms",
	FieldFrameSize:  "frame_size",
}

func (f Field) String() string {
	if f < fieldCount {
		return fieldNames[f]
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// FieldSet is a set of fields.
type FieldSet uint8

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	return s&(1<<f) != 0
}

func (s FieldSet) with(f Field) FieldSet {
	return s | 1<<f
}

func (s FieldSet) String() string {
	var names []string
	for f := Field(0); f < fieldCount; f++ {
		if s.Has(f) {
			names = append(names, f.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Slot places a field at a byte offset with a width of 2 or 4 bytes.
type Slot struct {
	Field  Field
	Offset uint32
	Size   uint32
}

// Layout is one generation of the result record.
type Layout struct {
	Name  string
	Width uint32
	Slots []Slot
}

// Fields returns the set of fields the layout carries.
func (l Layout) Fields() FieldSet {
	var s FieldSet
	for _, slot := range l.Slots {
		s = s.with(slot.Field)
	}
	return s
}

// Validate checks that slots fit the width, do not overlap and use
// supported sizes.
func (l Layout) Validate() error {
	var used uint64
	var seen FieldSet
	for _, slot := range l.Slots {
		if slot.Size != 2 && slot.Size != 4 {
			return l.invalid(slot.Field, "unsupported size %d", slot.Size)
		}
		if slot.Offset+slot.Size > l.Width {
			return l.invalid(slot.Field, "%d+%d exceeds width %d", slot.Offset, slot.Size, l.Width)
		}
		if seen.Has(slot.Field) {
			return l.invalid(slot.Field, "field appears twice")
		}
		seen = seen.with(slot.Field)
		mask := uint64(1)<<(slot.Offset+slot.Size) - uint64(1)<<slot.Offset
		if used&mask != 0 {
			return l.invalid(slot.Field, "overlaps another field")
		}
		used |= mask
	}
	return nil
}

func (l Layout) invalid(f Field, format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidData).
		Path(l.Name, f.String()).
		Detail(format, args...).
		Build()
}

func (l Layout) String() string {
	return fmt.Sprintf("%s(%d)", l.Name, l.Width)
}

var (
	// Full is the 18-byte record returned by probe and transcode in the
	// current engine: out pointer, out length and every stream property.
	Full = Layout{
		Name:  "full",
		Width: 18,
		Slots: []Slot{
			{FieldOutPointer, 0, 4},
			{FieldLength, 4, 4},
			{FieldSampleRate, 8, 2},
			{FieldBitDepth, 10, 2},
			{FieldChannels, 12, 2},
			{FieldDuration, 14, 2},
			{FieldFrameSize, 16, 2},
		},
	}

	// ProbeCompact is the 12-byte probe record without an out pointer.
	ProbeCompact = Layout{
		Name:  "probe-compact",
		Width: 12,
		Slots: []Slot{
			{FieldLength, 0, 2},
			{FieldSampleRate, 2, 2},
			{FieldBitDepth, 4, 2},
			{FieldChannels, 6, 2},
			{FieldDuration, 8, 2},
			{FieldFrameSize, 10, 2},
		},
	}

	// TranscodeCompact is the 10-byte transcode record without bit depth.
	TranscodeCompact = Layout{
		Name:  "transcode-compact",
		Width: 10,
		Slots: []Slot{
			{FieldOutPointer, 0, 4},
			{FieldLength, 4, 4},
			{FieldSampleRate, 8, 2},
		},
	}

	// Minimal is the 4-byte record; output sits at the input pointer.
	Minimal = Layout{
		Name:  "minimal",
		Width: 4,
		Slots: []Slot{
			{FieldLength, 0, 2},
			{FieldSampleRate, 2, 2},
		},
	}
)

var layouts = []Layout{Full, ProbeCompact, TranscodeCompact, Minimal}

// Layouts returns every known layout.
func Layouts() []Layout {
	out := make([]Layout, len(layouts))
	copy(out, layouts)
	return out
}

// Lookup returns the layout with the given name.
func Lookup(name string) (Layout, bool) {
	for _, l := range layouts {
		if l.Name == name {
			return l, true
		}
	}
	return Layout{}, false
}

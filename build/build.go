// Package build describes the engine builds the host knows how to drive.
//
// A Build ties an identifier to the entry points it exports, the argument
// convention and result layout of each operation, the profile generation
// it understands and the headroom in-place operations need. The header
// layout for an operation is chosen here and nowhere else.
package build

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/wasm-media/errors"
	"github.com/wippyai/wasm-media/header"
	"github.com/wippyai/wasm-media/profile"
)

// Op is a logical engine operation.
type Op uint8

const (
	OpProbe Op = iota
	OpTranscode
	OpEncodeMux
	OpModify
)

var opNames = [...]string{
	OpProbe:     "probe",
	OpTranscode: "transcode",
	OpEncodeMux: "encode+mux",
	OpModify:    "modify",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Ops returns every operation in declaration order.
func Ops() []Op {
	return []Op{OpProbe, OpTranscode, OpEncodeMux, OpModify}
}

// Convention is how an entry point reports its result.
type Convention uint8

const (
	// InPlace entry points return the byte length written over the input.
	InPlace Convention = iota
	// Header entry points return a pointer to a result record.
	Header
)

func (c Convention) String() string {
	switch c {
	case InPlace:
		return "in-place"
	case Header:
		return "header"
	default:
		return fmt.Sprintf("convention(%d)", uint8(c))
	}
}

// OpSpec binds an operation to its entry point.
type OpSpec struct {
	Entry      string
	Convention Convention
	// Layout is only meaningful for the Header convention.
	Layout header.Layout
}

// InPlaceOutput reports whether output bytes overwrite the input buffer.
// Such calls need headroom and receive the buffer capacity as the length.
func (s OpSpec) InPlaceOutput() bool {
	if s.Convention == InPlace {
		return true
	}
	return !s.Layout.Fields().Has(header.FieldOutPointer)
}

// Build is one engine build.
type Build struct {
	ID string
	// Signatures declares every export the host calls, in WIT function
	// syntax.
	Signatures string
	Ops        map[Op]OpSpec
	Profiles   *profile.Registry
	// Headroom multiplies the input size to get the buffer capacity for
	// in-place operations.
	Headroom uint32

	sigOnce sync.Once
	sigs    map[string]*Signature
	sigErr  error
}

// Op returns the spec of op, or a KindUnsupported error if the build does
// not export it.
func (b *Build) Op(op Op) (OpSpec, error) {
	spec, ok := b.Ops[op]
	if !ok {
		return OpSpec{}, errors.New(errors.PhaseConfig, errors.KindUnsupported).
			Path(b.ID, op.String()).
			Detail("build %s does not support %s", b.ID, op).
			Build()
	}
	return spec, nil
}

// Supports reports whether the build exports op.
func (b *Build) Supports(op Op) bool {
	_, ok := b.Ops[op]
	return ok
}

// Capacity returns the buffer capacity for an in-place input of n bytes.
func (b *Build) Capacity(n uint32) (uint32, error) {
	h := b.Headroom
	if h == 0 {
		h = 1
	}
	c := uint64(n) * uint64(h)
	if c > uint64(^uint32(0)) {
		return 0, errors.Overflow(errors.PhaseMarshal, n, ^uint32(0)/h)
	}
	return uint32(c), nil
}

// Validate checks the op table, layouts and signature text.
func (b *Build) Validate() error {
	if b.ID == "" {
		return errors.InvalidInput(errors.PhaseConfig, "build has no id")
	}
	if b.Profiles == nil {
		return errors.InvalidInput(errors.PhaseConfig, "build "+b.ID+" has no profile registry")
	}
	for _, op := range Ops() {
		spec, ok := b.Ops[op]
		if !ok {
			continue
		}
		if spec.Entry == "" {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path(b.ID, op.String()).
				Detail("empty entry point").
				Build()
		}
		if spec.Convention == Header {
			if err := spec.Layout.Validate(); err != nil {
				return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, b.ID)
			}
		}
		if _, err := b.Signature(spec.Entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns the names of every export the host needs, sorted.
func (b *Build) Entries() []string {
	names := []string{"malloc", "free"}
	for _, spec := range b.Ops {
		names = append(names, spec.Entry)
	}
	sort.Strings(names)
	return names
}

func (b *Build) String() string {
	return b.ID
}

const allocSignatures = `
	malloc: func(size: u32) -> u32;
	free: func(ptr: u32);
`

var (
	// ModifyV1 only re-encodes in place.
	ModifyV1 = &Build{
		ID: "modify-v1",
		Signatures: allocSignatures + `
	modify_array: func(ptr: u32, size: u32, profile: s32) -> s32;
`,
		Ops: map[Op]OpSpec{
			OpModify: {Entry: "modify_array", Convention: InPlace},
		},
		Profiles: profile.V1,
		Headroom: 2,
	}

	// TranscodeV1 returns the minimal record with output at the input.
	TranscodeV1 = &Build{
		ID: "transcode-v1",
		Signatures: allocSignatures + `
	transcode: func(ptr: u32, size: u32, src-format: u32, dst-format: u32, dst-codec: u32) -> u32;
	modify_array: func(ptr: u32, size: u32, profile: s32) -> s32;
`,
		Ops: map[Op]OpSpec{
			OpTranscode: {Entry: "transcode", Convention: Header, Layout: header.Minimal},
			OpModify:    {Entry: "modify_array", Convention: InPlace},
		},
		Profiles: profile.V1,
		Headroom: 2,
	}

	// TranscodeV2 adds probe and the options and verbosity arguments.
	TranscodeV2 = &Build{
		ID: "transcode-v2",
		Signatures: allocSignatures + `
	probe: func(ptr: u32, size: u32, src-format: u32, verbose: s32) -> u32;
	transcode: func(ptr: u32, size: u32, src-format: u32, dst-format: u32, dst-codec: u32, dst-options: u32, verbose: s32) -> u32;
	encode_mux: func(ptr: u32, size: u32, sample-rate: s32, channels: s32, profile: s32) -> s32;
	modify_array: func(ptr: u32, size: u32, profile: s32) -> s32;
`,
		Ops: map[Op]OpSpec{
			OpProbe:     {Entry: "probe", Convention: Header, Layout: header.ProbeCompact},
			OpTranscode: {Entry: "transcode", Convention: Header, Layout: header.TranscodeCompact},
			OpEncodeMux: {Entry: "encode_mux", Convention: InPlace},
			OpModify:    {Entry: "modify_array", Convention: InPlace},
		},
		Profiles: profile.V2,
		Headroom: 2,
	}

	// AVV3 returns the full record from probe and transcode.
	AVV3 = &Build{
		ID: "av-v3",
		Signatures: allocSignatures + `
	probe: func(ptr: u32, size: u32, src-format: u32, verbose: s32) -> u32;
	transcode: func(ptr: u32, size: u32, src-format: u32, dst-format: u32, dst-codec: u32, dst-options: u32, verbose: s32) -> u32;
	encode_mux: func(ptr: u32, size: u32, sample-rate: s32, channels: s32, profile: s32) -> s32;
	modify_array: func(ptr: u32, size: u32, profile: s32) -> s32;
`,
		Ops: map[Op]OpSpec{
			OpProbe:     {Entry: "probe", Convention: Header, Layout: header.Full},
			OpTranscode: {Entry: "transcode", Convention: Header, Layout: header.Full},
			OpEncodeMux: {Entry: "encode_mux", Convention: InPlace},
			OpModify:    {Entry: "modify_array", Convention: InPlace},
		},
		Profiles: profile.V2,
		Headroom: 2,
	}
)

// DefaultID is the build used when none is named.
const DefaultID = "av-v3"

var builds = map[string]*Build{
	ModifyV1.ID:    ModifyV1,
	TranscodeV1.ID: TranscodeV1,
	TranscodeV2.ID: TranscodeV2,
	AVV3.ID:        AVV3,
}

// Lookup returns the build registered under id.
func Lookup(id string) (*Build, error) {
	b, ok := builds[id]
	if !ok {
		return nil, errors.NotFound(errors.PhaseConfig, "build", id)
	}
	return b, nil
}

// Default returns the default build.
func Default() *Build {
	return builds[DefaultID]
}

// IDs returns the registered build ids, sorted.
func IDs() []string {
	ids := make([]string, 0, len(builds))
	for id := range builds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

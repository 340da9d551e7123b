package build

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tetratelabs/wazero/api"

	mediaerrors "github.com/wippyai/wasm-media/errors"
	"github.com/wippyai/wasm-media/header"
	"github.com/wippyai/wasm-media/profile"
)

func TestBuilds_Validate(t *testing.T) {
	for _, id := range IDs() {
		b, err := Lookup(id)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", id, err)
		}
		if err := b.Validate(); err != nil {
			t.Errorf("%s: %v", id, err)
		}
	}
}

func TestIDs(t *testing.T) {
	want := []string{"av-v3", "modify-v1", "transcode-v1", "transcode-v2"}
	if diff := cmp.Diff(want, IDs()); diff != "" {
		t.Errorf("IDs (-want +got):\n%s", diff)
	}
	if Default().ID != "av-v3" {
		t.Errorf("Default() = %s", Default().ID)
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("ffmpeg-9000")
	var me *mediaerrors.Error
	if !errors.As(err, &me) || me.Kind != mediaerrors.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBuildTable(t *testing.T) {
	tests := []struct {
		build    *Build
		op       Op
		conv     Convention
		layout   string
		arity    int
		inPlace  bool
		profiles *profile.Registry
	}{
		{ModifyV1, OpModify, InPlace, "", 3, true, profile.V1},
		{TranscodeV1, OpTranscode, Header, "minimal", 5, true, profile.V1},
		{TranscodeV2, OpProbe, Header, "probe-compact", 4, true, profile.V2},
		{TranscodeV2, OpTranscode, Header, "transcode-compact", 7, false, profile.V2},
		{TranscodeV2, OpEncodeMux, InPlace, "", 5, true, profile.V2},
		{AVV3, OpProbe, Header, "full", 4, false, profile.V2},
		{AVV3, OpTranscode, Header, "full", 7, false, profile.V2},
		{AVV3, OpModify, InPlace, "", 3, true, profile.V2},
	}

	for _, tt := range tests {
		t.Run(tt.build.ID+"/"+tt.op.String(), func(t *testing.T) {
			spec, err := tt.build.Op(tt.op)
			if err != nil {
				t.Fatalf("Op: %v", err)
			}
			if spec.Convention != tt.conv {
				t.Errorf("convention = %s, want %s", spec.Convention, tt.conv)
			}
			if tt.conv == Header && spec.Layout.Name != tt.layout {
				t.Errorf("layout = %s, want %s", spec.Layout.Name, tt.layout)
			}
			if spec.InPlaceOutput() != tt.inPlace {
				t.Errorf("InPlaceOutput = %v, want %v", spec.InPlaceOutput(), tt.inPlace)
			}
			sig, err := tt.build.Signature(spec.Entry)
			if err != nil {
				t.Fatalf("Signature: %v", err)
			}
			if sig.Arity() != tt.arity {
				t.Errorf("arity = %d, want %d", sig.Arity(), tt.arity)
			}
			if tt.build.Profiles != tt.profiles {
				t.Errorf("profiles = %s, want %s", tt.build.Profiles, tt.profiles)
			}
		})
	}
}

func TestBuild_UnsupportedOp(t *testing.T) {
	_, err := ModifyV1.Op(OpProbe)
	if !errors.Is(err, mediaerrors.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if ModifyV1.Supports(OpTranscode) {
		t.Error("modify-v1 should not support transcode")
	}
}

func TestSignature_Lowering(t *testing.T) {
	sig, err := AVV3.Signature("transcode")
	if err != nil {
		t.Fatal(err)
	}
	params, err := sig.CoreParams()
	if err != nil {
		t.Fatal(err)
	}
	want := make([]api.ValueType, 7)
	for i := range want {
		want[i] = api.ValueTypeI32
	}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}

	free, err := AVV3.Signature("free")
	if err != nil {
		t.Fatal(err)
	}
	results, err := free.CoreResults()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("free results = %v, want none", results)
	}
}

func TestSignature_Missing(t *testing.T) {
	_, err := ModifyV1.Signature("probe")
	var me *mediaerrors.Error
	if !errors.As(err, &me) || me.Kind != mediaerrors.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseSignatures(t *testing.T) {
	sigs, err := parseSignatures(`
		a: func(x: u64, y: f32) -> f64;
		b: func();
	`)
	if err != nil {
		t.Fatal(err)
	}
	p, err := sigs["a"].CoreParams()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]api.ValueType{api.ValueTypeI64, api.ValueTypeF32}, p); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
	if sigs["b"].Arity() != 0 {
		t.Errorf("b arity = %d", sigs["b"].Arity())
	}

	if _, err := parseSignatures("nothing here"); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := parseSignatures("a: func(); a: func();"); err == nil {
		t.Error("expected error for duplicate")
	}
}

func TestCapacity(t *testing.T) {
	c, err := AVV3.Capacity(1000)
	if err != nil || c != 2000 {
		t.Errorf("Capacity(1000) = %d, %v", c, err)
	}
	if _, err := AVV3.Capacity(1 << 31); !errors.Is(err, mediaerrors.New(mediaerrors.PhaseMarshal, mediaerrors.KindOverflow).Build()) {
		t.Errorf("expected overflow, got %v", err)
	}

	b := &Build{ID: "x", Profiles: profile.V1}
	if c, _ := b.Capacity(10); c != 10 {
		t.Errorf("zero headroom capacity = %d, want 10", c)
	}
}

func TestValidate_Errors(t *testing.T) {
	bad := []*Build{
		{},
		{ID: "noprofiles"},
		{
			ID:         "badlayout",
			Profiles:   profile.V1,
			Signatures: "probe: func(ptr: u32) -> u32;",
			Ops: map[Op]OpSpec{
				OpProbe: {Entry: "probe", Convention: Header, Layout: header.Layout{
					Name: "bad", Width: 2, Slots: []header.Slot{{Field: header.FieldLength, Offset: 0, Size: 4}},
				}},
			},
		},
		{
			ID:         "nosig",
			Profiles:   profile.V1,
			Signatures: "free: func(ptr: u32);",
			Ops:        map[Op]OpSpec{OpModify: {Entry: "modify_array"}},
		},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("%q: expected error", b.ID)
		}
	}
}

func TestEntries(t *testing.T) {
	want := []string{"free", "malloc", "modify_array", "transcode"}
	if diff := cmp.Diff(want, TranscodeV1.Entries()); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
}

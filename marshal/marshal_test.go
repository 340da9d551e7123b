package marshal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-media/arena"
	mediaerrors "github.com/wippyai/wasm-media/errors"
	"github.com/wippyai/wasm-media/internal/memtest"
)

func newSession(t *testing.T) (*arena.Session, *memtest.Memory) {
	t.Helper()
	mem := memtest.NewMemory(8192)
	a := arena.New(mem, memtest.NewAllocator(mem))
	s := a.NewSession()
	t.Cleanup(func() {
		if err := s.ReleaseAll(); err != nil {
			t.Errorf("ReleaseAll error: %v", err)
		}
	})
	return s, mem
}

func readHandle(t *testing.T, mem *memtest.Memory, h Handle) []byte {
	t.Helper()
	b, err := mem.Read(h.Ptr, h.Len)
	if err != nil {
		t.Fatalf("read handle %+v: %v", h, err)
	}
	return b
}

func TestBytes(t *testing.T) {
	s, mem := newSession(t)
	input := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0xFF}

	h, err := Bytes(s, input)
	if err != nil {
		t.Fatalf("Bytes error: %v", err)
	}
	if h.Len != uint32(len(input)) {
		t.Errorf("Len = %d, want %d", h.Len, len(input))
	}
	if got := readHandle(t, mem, h); !bytes.Equal(got, input) {
		t.Errorf("got %x, want %x", got, input)
	}
}

func TestBytes_Empty(t *testing.T) {
	s, _ := newSession(t)

	h, err := Bytes(s, nil)
	if err != nil {
		t.Fatalf("Bytes error: %v", err)
	}
	if !h.IsNull() || h.Len != 0 {
		t.Errorf("expected null handle, got %+v", h)
	}
}

func TestBytesWithCapacity(t *testing.T) {
	s, mem := newSession(t)
	input := []byte("pcm!")

	h, err := BytesWithCapacity(s, input, 8)
	if err != nil {
		t.Fatalf("BytesWithCapacity error: %v", err)
	}
	if h.Len != 8 {
		t.Errorf("Len = %d, want 8", h.Len)
	}
	got := readHandle(t, mem, h)
	if !bytes.Equal(got[:4], input) {
		t.Errorf("prefix = %q, want %q", got[:4], input)
	}

	// Capacity smaller than the input is ignored.
	h, err = BytesWithCapacity(s, input, 2)
	if err != nil {
		t.Fatalf("BytesWithCapacity error: %v", err)
	}
	if h.Len != 4 {
		t.Errorf("Len = %d, want 4", h.Len)
	}
}

func TestCString(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ascii", "wav"},
		{"empty", ""},
		{"utf8", "façade-日本"},
		{"flags", "+dash+delay_moov"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem := newSession(t)

			h, err := CString(s, tt.in)
			if err != nil {
				t.Fatalf("CString error: %v", err)
			}
			want := append([]byte(tt.in), 0x00)
			if diff := cmp.Diff(want, readHandle(t, mem, h)); diff != "" {
				t.Errorf("bytes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOptionalString(t *testing.T) {
	s, mem := newSession(t)

	h, err := OptionalString(s, None)
	if err != nil {
		t.Fatalf("OptionalString(None) error: %v", err)
	}
	if h != Null {
		t.Errorf("None should marshal to Null, got %+v", h)
	}

	h, err = OptionalString(s, Some(""))
	if err != nil {
		t.Fatalf("OptionalString(Some(\"\")) error: %v", err)
	}
	if h.IsNull() || h.Len != 1 {
		t.Fatalf("Some(\"\") should allocate a terminator, got %+v", h)
	}
	if got := readHandle(t, mem, h); got[0] != 0 {
		t.Errorf("expected NUL, got %x", got)
	}

	if s.Count() != 1 {
		t.Errorf("session recorded %d allocations, want 1", s.Count())
	}
}

func TestOptionMap(t *testing.T) {
	s, mem := newSession(t)

	for _, opts := range []Options{nil, {}} {
		h, err := OptionMap(s, opts)
		if err != nil {
			t.Fatalf("OptionMap(%v) error: %v", opts, err)
		}
		if h != Null {
			t.Errorf("OptionMap(%#v) = %+v, want Null", opts, h)
		}
	}

	h, err := OptionMap(s, Options{{"a", "1"}, {"b", "2"}})
	if err != nil {
		t.Fatalf("OptionMap error: %v", err)
	}
	if got := string(readHandle(t, mem, h)); got != "a:1,b:2\x00" {
		t.Errorf("got %q, want %q", got, "a:1,b:2\x00")
	}
}

func TestOptionMap_RejectsSeparators(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"colon in key", Options{{"a:b", "1"}}},
		{"comma in value", Options{{"a", "1,2"}}},
		{"colon in value", Options{{"a", "1:2"}}},
		{"empty key", Options{{"", "1"}}},
		{"nul in value", Options{{"a", "x\x00y"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newSession(t)

			_, err := OptionMap(s, tt.opts)
			var merr *mediaerrors.Error
			if !errors.As(err, &merr) || merr.Kind != mediaerrors.KindInvalidInput {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if s.Count() != 0 {
				t.Error("rejected options should not allocate")
			}
		})
	}
}

func TestOptions_SetGet(t *testing.T) {
	var opts Options
	opts = opts.Set("movflags", "+dash")
	opts = opts.Set("b", "64k")
	opts = opts.Set("movflags", "+dash+delay_moov")

	want := Options{{"movflags", "+dash+delay_moov"}, {"b", "64k"}}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if v, ok := opts.Get("b"); !ok || v != "64k" {
		t.Errorf("Get(b) = %q, %v", v, ok)
	}
	if _, ok := opts.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
}

func TestOptions_SetDoesNotAlias(t *testing.T) {
	a := Options{{"movflags", "+dash"}, {"b", "64k"}}
	b := a.Set("b", "96k")

	if v, _ := a.Get("b"); v != "64k" {
		t.Errorf("original changed: b = %q", v)
	}
	if v, _ := b.Get("b"); v != "96k" {
		t.Errorf("copy b = %q, want 96k", v)
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("movflags:+dash+delay_moov+skip_sidx,b:96k,empty:")
	if err != nil {
		t.Fatalf("ParseOptions error: %v", err)
	}
	want := Options{{"movflags", "+dash+delay_moov+skip_sidx"}, {"b", "96k"}, {"empty", ""}}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}

	encoded, err := opts.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if encoded != "movflags:+dash+delay_moov+skip_sidx,b:96k,empty:" {
		t.Errorf("Encode = %q", encoded)
	}

	if opts, err := ParseOptions(""); err != nil || opts != nil {
		t.Errorf("ParseOptions(\"\") = %v, %v", opts, err)
	}

	for _, bad := range []string{"novalue", ":v", "a:b:c", "a:1,,b:2"} {
		if _, err := ParseOptions(bad); err == nil {
			t.Errorf("ParseOptions(%q) should fail", bad)
		}
	}
}

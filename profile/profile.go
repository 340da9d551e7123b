// Package profile maps output profile names to the integer codes an engine
// build understands.
//
// Codes are positional in the engine's own enumeration, so a registry is
// tied to an engine generation. Nothing here checks the engine binary: a
// registry that disagrees with the loaded engine produces wrong output, not
// an error.
package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Code is an output profile code passed to encode+mux and modify.
type Code uint8

const (
	AAC Code = iota
	MP2
	WebMOpus
	MP3
	OggOpus
)

var codeNames = map[Code]string{
	AAC:      "AAC",
	MP2:      "MP2",
	WebMOpus: "WEBM_OPUS",
	MP3:      "MP3",
	OggOpus:  "OGG_OPUS",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Registry is an immutable set of profiles supported by one engine
// generation.
type Registry struct {
	name   string
	byName map[string]Code
	codes  []Code
}

// NewRegistry builds a registry from codes. Unknown codes panic since
// registries are declared statically.
func NewRegistry(name string, codes ...Code) *Registry {
	r := &Registry{
		name:   name,
		byName: make(map[string]Code, len(codes)),
		codes:  make([]Code, 0, len(codes)),
	}
	for _, c := range codes {
		n, ok := codeNames[c]
		if !ok {
			panic(fmt.Sprintf("profile: unknown code %d", c))
		}
		if _, dup := r.byName[n]; dup {
			continue
		}
		r.byName[n] = c
		r.codes = append(r.codes, c)
	}
	sort.Slice(r.codes, func(i, j int) bool { return r.codes[i] < r.codes[j] })
	return r
}

var (
	// V1 is the first generation: AAC and MP2 only.
	V1 = NewRegistry("v1", AAC, MP2)

	// V2 adds the Opus containers and MP3.
	V2 = NewRegistry("v2", AAC, MP2, WebMOpus, MP3, OggOpus)
)

// Name returns the registry generation name.
func (r *Registry) Name() string {
	return r.name
}

// Lookup resolves a profile name. Matching ignores case and treats '-'
// as '_', so "webm-opus" and "WEBM_OPUS" are the same profile.
func (r *Registry) Lookup(name string) (Code, bool) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	c, ok := r.byName[key]
	return c, ok
}

// Supports reports whether the generation knows c.
func (r *Registry) Supports(c Code) bool {
	n, ok := codeNames[c]
	if !ok {
		return false
	}
	_, ok = r.byName[n]
	return ok
}

// Codes returns the supported codes in ascending order.
func (r *Registry) Codes() []Code {
	out := make([]Code, len(r.codes))
	copy(out, r.codes)
	return out
}

// Names returns the supported profile names in code order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.codes))
	for i, c := range r.codes {
		out[i] = c.String()
	}
	return out
}

func (r *Registry) String() string {
	return r.name + "[" + strings.Join(r.Names(), ",") + "]"
}

package build

import (
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-media/errors"
)

// Signature is the declared type of one export.
type Signature struct {
	Entry   string
	Params  []wit.Type
	Results []wit.Type
}

// CoreParams lowers the params to core wasm value types.
func (s *Signature) CoreParams() ([]api.ValueType, error) {
	return lowerTypes(s.Entry, s.Params)
}

// CoreResults lowers the results to core wasm value types.
func (s *Signature) CoreResults() ([]api.ValueType, error) {
	return lowerTypes(s.Entry, s.Results)
}

// Arity is the number of params.
func (s *Signature) Arity() int {
	return len(s.Params)
}

// Signature returns the declared signature of an export.
// Signatures are parsed once per build.
func (b *Build) Signature(entry string) (*Signature, error) {
	b.sigOnce.Do(func() {
		b.sigs, b.sigErr = parseSignatures(b.Signatures)
	})
	if b.sigErr != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, b.sigErr, "build "+b.ID)
	}
	sig, ok := b.sigs[entry]
	if !ok {
		return nil, errors.NotFound(errors.PhaseConfig, "signature", entry)
	}
	return sig, nil
}

// Pattern: name: func(params) -> result;
var funcPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

func parseSignatures(text string) (map[string]*Signature, error) {
	sigs := make(map[string]*Signature)

	for _, match := range funcPattern.FindAllStringSubmatch(text, -1) {
		sig := &Signature{Entry: match[1]}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range strings.Split(params, ",") {
				p = strings.TrimSpace(p)
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = strings.TrimSpace(p[idx+1:])
				}
				t, err := wit.ParseType(typStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse param type "+typStr)
				}
				sig.Params = append(sig.Params, t)
			}
		}

		if result := strings.TrimSpace(match[3]); result != "" && result != "()" {
			t, err := wit.ParseType(result)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse result type "+result)
			}
			sig.Results = []wit.Type{t}
		}

		if _, dup := sigs[sig.Entry]; dup {
			return nil, errors.InvalidInput(errors.PhaseConfig, "duplicate signature for "+sig.Entry)
		}
		sigs[sig.Entry] = sig
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "no functions found in signature text")
	}
	return sigs, nil
}

func lowerTypes(entry string, types []wit.Type) ([]api.ValueType, error) {
	out := make([]api.ValueType, 0, len(types))
	for i, t := range types {
		switch t.(type) {
		case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
			out = append(out, api.ValueTypeI32)
		case wit.U64, wit.S64:
			out = append(out, api.ValueTypeI64)
		case wit.F32:
			out = append(out, api.ValueTypeF32)
		case wit.F64:
			out = append(out, api.ValueTypeF64)
		default:
			return nil, errors.New(errors.PhaseConfig, errors.KindUnsupported).
				Path(entry).
				Value(i).
				Detail("%T has no single core value type", t).
				Build()
		}
	}
	return out, nil
}

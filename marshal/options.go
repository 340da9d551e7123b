package marshal

import (
	"strings"

	"github.com/wippyai/wasm-media/errors"
)

const (
	pairSep  = ","
	valueSep = ":"
)

// Option is one key/value pair of an option map.
type Option struct {
	Key   string
	Value string
}

// Options is an ordered option map. Order is preserved on the wire.
type Options []Option

// Set appends key:value, or replaces the value of an existing key. A
// replacement returns a copy and leaves o unchanged.
func (o Options) Set(key, value string) Options {
	for i := range o {
		if o[i].Key == key {
			out := make(Options, len(o))
			copy(out, o)
			out[i].Value = value
			return out
		}
	}
	return append(o, Option{Key: key, Value: value})
}

// Get returns the value for key.
func (o Options) Get(key string) (string, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return "", false
}

// Encode renders the map as "k1:v1,k2:v2". Keys must be non-empty and
// neither keys nor values may contain ':' or ','; there is no escaping.
func (o Options) Encode() (string, error) {
	var b strings.Builder
	for i, opt := range o {
		if opt.Key == "" {
			return "", errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
				Path("options").
				Detail("option %d has an empty key", i).
				Build()
		}
		if err := checkToken(opt.Key); err != nil {
			return "", err
		}
		if err := checkToken(opt.Value); err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(pairSep)
		}
		b.WriteString(opt.Key)
		b.WriteString(valueSep)
		b.WriteString(opt.Value)
	}
	return b.String(), nil
}

func checkToken(s string) error {
	if strings.ContainsAny(s, pairSep+valueSep) {
		return errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Path("options").
			Detail("%q contains a reserved separator", s).
			Value(s).
			Build()
	}
	if strings.IndexByte(s, 0) >= 0 {
		return errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Path("options").
			Detail("%q contains a NUL byte", s).
			Value(s).
			Build()
	}
	return nil
}

// ParseOptions parses "k1:v1,k2:v2". An empty string yields nil.
func ParseOptions(s string) (Options, error) {
	if s == "" {
		return nil, nil
	}
	var opts Options
	for _, pair := range strings.Split(s, pairSep) {
		key, value, ok := strings.Cut(pair, valueSep)
		if !ok || key == "" || strings.Contains(value, valueSep) {
			return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
				Path("options").
				Detail("malformed pair %q", pair).
				Value(pair).
				Build()
		}
		opts = append(opts, Option{Key: key, Value: value})
	}
	return opts, nil
}

package marshal

// String is an optional string argument.
type String struct {
	Value string
	Valid bool
}

// Some returns a present string, which may be empty.
func Some(s string) String {
	return String{Value: s, Valid: true}
}

// None is the absent string.
var None = String{}

// Get returns the value and whether it is present.
func (s String) Get() (string, bool) {
	return s.Value, s.Valid
}

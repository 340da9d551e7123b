// Package marshal encodes Go values into engine memory.
//
// Every function takes the arena.Session the allocation belongs to, so a
// single deferred ReleaseAll frees everything marshaled for a call. The
// result is a Handle: the (pointer, length) pair passed to the engine.
//
// Absent values are explicit. An optional string is None or Some(s), and
// None marshals to the null handle (0, 0) while Some("") allocates a lone
// NUL terminator. An empty or nil Options marshals to the null handle too.
package marshal

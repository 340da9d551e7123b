// Package arena tracks allocations in an engine's linear memory.
//
// An Arena sits between the host and the engine's malloc/free exports. It
// records every live allocation so that releasing a pointer twice is
// reported as an error instead of corrupting the engine's heap, and it
// hands out Sessions: scoped sets of allocations made to service one call
// and released together.
//
//	s := a.NewSession()
//	defer s.ReleaseAll()
//
//	buf, err := s.Allocate(uint32(len(input)))
//	if err != nil {
//	    return err
//	}
//	if err := a.Write(buf, input); err != nil {
//	    return err
//	}
//
// Views returned by Read alias engine memory. They are invalidated by any
// subsequent call into the engine, including Allocate and Release; use Copy
// to keep bytes past that point.
package arena

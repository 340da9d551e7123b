// Package errors provides structured error types for the wasm-media library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the entry point or field path, a human-readable detail,
// the offending value and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindEngineCall).
//		Path("transcode").
//		Detail("engine returned sentinel %d", ret).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AllocationFailed(errors.PhaseAlloc, 4096)
//	err := errors.OutOfBounds(errors.PhaseDecode, ptr, 18, memSize)
//
// Kind-only sentinels (ErrAllocation, ErrEngineCall, ErrDoubleRelease, ErrBusy)
// match errors of that kind from any phase:
//
//	if errors.Is(err, mediaerrors.ErrAllocation) {
//		// retry with a larger memory budget
//	}
package errors

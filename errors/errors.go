package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseAlloc   Phase = "alloc"   // arena allocation and release
	PhaseMarshal Phase = "marshal" // Go to engine memory
	PhaseCall    Phase = "call"    // entry point invocation
	PhaseDecode  Phase = "decode"  // engine memory to Go
	PhaseLoad    Phase = "load"    // module loading and verification
	PhaseRuntime Phase = "runtime" // handle lifecycle
	PhaseConfig  Phase = "config"  // build and profile lookup
)

// Kind categorizes the error
type Kind string

const (
	KindAllocation        Kind = "allocation"
	KindEngineCall        Kind = "engine_call"
	KindDoubleRelease     Kind = "double_release"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindOverflow          Kind = "overflow"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
	KindNotFound          Kind = "not_found"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindBusy              Kind = "busy"
	KindNotInitialized    Kind = "not_initialized"
	KindInstantiation     Kind = "instantiation"
)

// Kind-only sentinels for use with errors.Is.
var (
	ErrAllocation    = &Error{Kind: KindAllocation}
	ErrEngineCall    = &Error{Kind: KindEngineCall}
	ErrDoubleRelease = &Error{Kind: KindDoubleRelease}
	ErrBusy          = &Error{Kind: KindBusy}
	ErrOutOfBounds   = &Error{Kind: KindOutOfBounds}
	ErrUnsupported   = &Error{Kind: KindUnsupported}
	ErrSignature     = &Error{Kind: KindSignatureMismatch}
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the entry point or field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Value:  size,
	}
}

// EngineCall creates an engine call failure for a sentinel return value
func EngineCall(entry string, ret uint64) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindEngineCall,
		Path:   []string{entry},
		Detail: fmt.Sprintf("engine returned sentinel %d", int32(uint32(ret))),
		Value:  ret,
	}
}

// Trap wraps a failure raised while the engine was executing
func Trap(entry string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindEngineCall,
		Path:   []string{entry},
		Detail: "engine trapped",
		Cause:  cause,
	}
}

// DoubleRelease creates an error for releasing a pointer that is not live
func DoubleRelease(ptr uint32) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindDoubleRelease,
		Detail: fmt.Sprintf("pointer %d is not a live allocation", ptr),
		Value:  ptr,
	}
}

// OutOfBounds creates an error for a memory range outside linear memory
func OutOfBounds(phase Phase, ptr, length, memSize uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside memory of %d bytes", ptr, uint64(ptr)+uint64(length), memSize),
		Value:  ptr,
	}
}

// Overflow creates an error for a write larger than its allocation
func Overflow(phase Phase, size, capacity uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("%d bytes do not fit allocation of %d", size, capacity),
		Value:  size,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
		Value:  name,
	}
}

// NotInitialized creates a not-initialized error for a closed or missing handle
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Busy creates an error for a call issued while another is in flight
func Busy(entry string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindBusy,
		Path:   []string{entry},
		Detail: "handle already has a call in flight",
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate engine",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ExportProblem describes one required export the engine does not satisfy.
type ExportProblem struct {
	Name   string // e.g. "transcode"
	Reason string // "missing" or a signature description
}

// MissingExportsError is returned when an engine module lacks required exports
// or exports them with a different signature than its build declares.
type MissingExportsError struct {
	Build    string
	Problems []ExportProblem
}

// NewMissingExportsError creates an error for the given build
func NewMissingExportsError(build string, problems []ExportProblem) *MissingExportsError {
	return &MissingExportsError{Build: build, Problems: problems}
}

func (e *MissingExportsError) Error() string {
	if len(e.Problems) == 0 {
		return "[load] signature_mismatch: no exports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "engine does not match build %q: %d export(s):", e.Build, len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(p.Reason)
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *MissingExportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingExportsError:
		return true
	case *Error:
		return t.Kind == KindSignatureMismatch && (t.Phase == "" || t.Phase == PhaseLoad)
	}
	return false
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

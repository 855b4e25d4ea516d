package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which layer or operation produced the error
type Phase string

const (
	PhaseConnect  Phase = "connect"  // engine connection and session lifetime
	PhaseChannel  Phase = "channel"  // channel create/commit/close/flush
	PhaseResource Phase = "resource" // create/addref/release/duplicate handles
	PhaseCommand  Phase = "command"  // command submission
	PhaseEncode   Phase = "encode"   // command record encoding
	PhaseDecode   Phase = "decode"   // notification and record decoding
	PhaseNotify   Phase = "notify"   // back-channel message pump
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseScenario Phase = "scenario" // scripted scenario execution
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfMemory     Kind = "out_of_memory"
	KindDevice          Kind = "device"
	KindCodec           Kind = "codec"
	KindWrongState      Kind = "wrong_state"
	KindInvalidHandle   Kind = "invalid_handle"
	KindInvalidInput    Kind = "invalid_input"
	KindClosed          Kind = "closed"
	KindContract        Kind = "contract_violation"
	KindChannelMismatch Kind = "channel_mismatch"
	KindOverflow        Kind = "overflow"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindInvalidData     Kind = "invalid_data"
	KindUnsupported     Kind = "unsupported"
	KindNotInitialized  Kind = "not_initialized"
	KindNotFound        Kind = "not_found"
	KindFailure         Kind = "failure"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
	Code   int32 // raw engine status, 0 when the error did not come from the engine
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

	if e.Code != 0 {
		fmt.Fprintf(&b, " (status 0x%08X)", uint32(e.Code))
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
// A target with an empty Phase matches on Kind alone, which is how the
// kind sentinels below work.
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

// Kind sentinels for errors.Is checks that do not care about the phase.
var (
	ErrOutOfMemory     = &Error{Kind: KindOutOfMemory}
	ErrDevice          = &Error{Kind: KindDevice}
	ErrCodec           = &Error{Kind: KindCodec}
	ErrWrongState      = &Error{Kind: KindWrongState}
	ErrInvalidHandle   = &Error{Kind: KindInvalidHandle}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrClosed          = &Error{Kind: KindClosed}
	ErrContract        = &Error{Kind: KindContract}
	ErrChannelMismatch = &Error{Kind: KindChannelMismatch}
	ErrOverflow        = &Error{Kind: KindOverflow}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
	ErrFailure         = &Error{Kind: KindFailure}
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
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

// Path sets the operation path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Code sets the raw engine status
func (b *Builder) Code(code int32) *Builder {
	b.err.Code = code
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

// Closed reports a strict operation issued on a closed channel
func Closed(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s requires an open channel", op),
	}
}

// Contract reports caller misuse of a lifecycle contract
func Contract(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindContract,
		Detail: detail,
	}
}

// ChannelMismatch reports a single-channel resource used on a foreign channel
func ChannelMismatch(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindChannelMismatch,
		Detail: fmt.Sprintf("handle %d belongs to a different channel", handle),
		Value:  handle,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
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

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
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

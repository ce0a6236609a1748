// Package errs provides the structured error type shared across the Obj
// protocol and the scheduling subsystem. FlowError preserves a message and an
// optional causal chain while still implementing the standard error
// interface, so callers can use errors.Is/errors.As across retries and
// bridged pipelines.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a FlowError according to the taxonomy in the error-handling
// design: stage-work errors propagate without closing a stage, protocol
// misuse and capacity errors are synchronous throws, timeouts and aborts are
// non-error or soft-error terminations, and task errors are reported through
// envelopes rather than thrown.
type Kind int

const (
	// KindUnspecified is the zero value; FlowErrors constructed with New or
	// Newf default to this kind unless WithKind is used.
	KindUnspecified Kind = iota
	// KindStageWork marks an error raised by a user-supplied transform,
	// predicate, or runner function. Propagates to the caller of next();
	// does not close the stage.
	KindStageWork
	// KindProtocol marks illegal-state misuse: next() after return(),
	// consuming a one-shot builder chain twice, or acquiring resources
	// without checking capacity first.
	KindProtocol
	// KindCapacity marks acquireImmediate being called when canAcquire
	// reported false.
	KindCapacity
	// KindTimeout marks a pull-side timeout stage exceeding its deadline
	// with throwOnTimeout enabled.
	KindTimeout
	// KindAbort marks a dependency-graph abort cascade; this is tracked
	// for diagnostic purposes even though the graph itself treats abort as
	// a non-error termination.
	KindAbort
	// KindTask marks a scheduled task's runner failing; surfaced through a
	// TaskProgressEnvelope of type ERROR rather than thrown.
	KindTask
)

// String renders the Kind for log lines and error messages.
func (k Kind) String() string {
	switch k {
	case KindStageWork:
		return "stage_work"
	case KindProtocol:
		return "protocol"
	case KindCapacity:
		return "capacity"
	case KindTimeout:
		return "timeout"
	case KindAbort:
		return "abort"
	case KindTask:
		return "task"
	default:
		return "unspecified"
	}
}

// FlowError represents a structured failure that preserves a message,
// classification, and causal chain while implementing the standard error
// interface. FlowErrors may be nested via Cause to retain diagnostics across
// bridges and scheduler retries.
type FlowError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Kind classifies the failure per the error taxonomy.
	Kind Kind
	// Cause links to the underlying error, enabling chains with errors.Is/As.
	Cause *FlowError
	// source is the non-FlowError value FromError converted, kept so that
	// errors.Is still matches the original error.
	source error
}

// New constructs a FlowError of KindUnspecified with the given message. Use
// WithKind to classify it, or one of the Kind-specific constructors below.
func New(message string) *FlowError {
	if message == "" {
		message = "flow error"
	}
	return &FlowError{Message: message}
}

// Newf formats according to a format specifier and returns a FlowError.
func Newf(format string, args ...any) *FlowError {
	return New(fmt.Sprintf(format, args...))
}

// WithKind returns a copy of e classified as kind. It does not mutate e.
func (e *FlowError) WithKind(kind Kind) *FlowError {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Kind = kind
	return &cp
}

// WithCause returns a copy of e with cause attached as its Cause, converting
// cause into a FlowError chain if it is not already one.
func (e *FlowError) WithCause(cause error) *FlowError {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Cause = FromError(cause)
	return &cp
}

// FromError converts an arbitrary error into a FlowError chain. A nil error
// converts to nil. An error that is already (or wraps) a *FlowError is
// returned as-is rather than re-wrapped.
func FromError(err error) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return &FlowError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
		source:  err,
	}
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *FlowError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is the original error this FlowError was
// converted from by FromError (or one that error wraps), or a FlowError that
// shares this error's Kind, so sentinel comparisons can be written as
// errors.Is(err, errs.New("").WithKind(errs.KindTimeout)) or more
// conveniently via the Kind-testing helpers below.
func (e *FlowError) Is(target error) bool {
	if e != nil && e.source != nil && errors.Is(e.source, target) {
		return true
	}
	other, ok := target.(*FlowError)
	if !ok || other == nil || e == nil {
		return false
	}
	return other.Kind != KindUnspecified && other.Kind == e.Kind
}

// StageWork constructs a KindStageWork FlowError wrapping cause, raised by a
// user-supplied transform, predicate, or runner.
func StageWork(cause error) *FlowError {
	return FromError(cause).WithKind(KindStageWork)
}

// Protocol constructs a KindProtocol FlowError for illegal-state misuse.
func Protocol(message string) *FlowError {
	return New(message).WithKind(KindProtocol)
}

// Capacity constructs a KindCapacity FlowError for an acquireImmediate call
// that exceeded available capacity.
func Capacity(message string) *FlowError {
	return New(message).WithKind(KindCapacity)
}

// Timeout constructs a KindTimeout FlowError for a pull timeout stage whose
// deadline elapsed.
func Timeout(message string) *FlowError {
	return New(message).WithKind(KindTimeout)
}

// Task constructs a KindTask FlowError wrapping a scheduled task runner's
// failure, for inclusion in an ERROR TaskProgressEnvelope.
func Task(cause error) *FlowError {
	return FromError(cause).WithKind(KindTask)
}

// IsKind reports whether err is, or wraps, a *FlowError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FlowError
	if !errors.As(err, &fe) || fe == nil {
		return false
	}
	return fe.Kind == kind
}

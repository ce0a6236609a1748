// Package obj defines the common protocol every pipeline stage implements:
// identity, capability, the created/active/returned/thrown/disposed
// lifecycle, and the envelope shapes (IteratorResult, AttributedResult,
// LabeledValue) shared by the pull, push, bidi, and bridge engines.
package obj

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Capability is a bitset describing which protocol roles an Obj fulfils. A
// single stage may hold more than one capability (a bridge is both source
// and sink; a pull link is both).
type Capability uint8

const (
	// CapSource marks a stage that yields values on demand.
	CapSource Capability = 1 << iota
	// CapSink marks a stage that accepts values via Next(value).
	CapSink
	// CapPull marks a stage driven by downstream demand.
	CapPull
	// CapPush marks a stage driven by upstream delivery.
	CapPush
	// CapBidi marks a request-response stage.
	CapBidi
	// CapBridge marks a stage that converts between data-flow modes.
	CapBridge
)

// Has reports whether c includes every bit set in f.
func (c Capability) Has(f Capability) bool { return c&f == f }

// State is a lifecycle state: created -> active ->
// returned|thrown|disposed. Terminal states are permanent.
type State int32

const (
	// StateCreated is the state before a stage has processed anything.
	StateCreated State = iota
	// StateActive is the normal operating state.
	StateActive
	// StateReturned means Return() was called; terminal.
	StateReturned
	// StateThrown means Throw() was called; terminal.
	StateThrown
	// StateDisposed means the stage was torn down without an explicit
	// return/throw (e.g. a scheduler cancelling an envelope iterator);
	// terminal.
	StateDisposed
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateReturned:
		return "returned"
	case StateThrown:
		return "thrown"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Done reports whether s is a terminal state.
func (s State) Done() bool {
	return s == StateReturned || s == StateThrown || s == StateDisposed
}

// Identity is an Obj's immutable key plus mutable, human-readable name.
type Identity struct {
	// Key uniquely identifies the Obj for its lifetime. Immutable once set.
	Key string
	// Name is a human-readable label, freely mutable, used in logs and
	// diagnostics only.
	Name string
}

// NewIdentity returns an Identity with a generated key when key is empty.
func NewIdentity(key, name string) Identity {
	if key == "" {
		key = uuid.NewString()
	}
	return Identity{Key: key, Name: name}
}

// Lifecycle tracks the created/active/returned|thrown|disposed state machine
// shared by every stage. It is embedded (by value, via a pointer field) in
// concrete source/sink/link implementations rather than exposed directly, so
// that each stage can decide what "closing" means for its own owned
// children.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// NewLifecycle returns a Lifecycle in StateActive, ready to process.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateActive}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done reports whether the lifecycle has reached a terminal state.
func (l *Lifecycle) Done() bool {
	return l.State().Done()
}

// Close transitions the lifecycle to StateThrown (if thrown is true) or
// StateReturned, the first time it is called. Subsequent calls are no-ops.
// The boolean result reports whether this call performed the transition;
// callers use it to decide whether to propagate Return/Throw to owned
// children exactly once.
func (l *Lifecycle) Close(thrown bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Done() {
		return false
	}
	if thrown {
		l.state = StateThrown
	} else {
		l.state = StateReturned
	}
	return true
}

// Dispose transitions the lifecycle to StateDisposed, the first time it is
// called, for stages torn down without an explicit return/throw (e.g. a
// scheduler cancelling its envelope iterator). Returns whether this call
// performed the transition.
func (l *Lifecycle) Dispose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Done() {
		return false
	}
	l.state = StateDisposed
	return true
}

// Activate transitions StateCreated to StateActive. It is a no-op if the
// lifecycle is already active or terminal; stages that construct their
// Lifecycle via NewLifecycle never need to call this.
func (l *Lifecycle) Activate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateCreated {
		l.state = StateActive
	}
}

// IteratorResult is the common envelope produced by every protocol
// operation: either a value with Done false, or a (possibly zero) value with
// Done true signalling the stage has nothing more to offer.
type IteratorResult[T any] struct {
	Value T
	Done  bool
}

// Yield wraps v as a non-terminal result.
func Yield[T any](v T) IteratorResult[T] {
	return IteratorResult[T]{Value: v}
}

// Finished returns the terminal result for T, with the zero value.
func Finished[T any]() IteratorResult[T] {
	var zero T
	return IteratorResult[T]{Value: zero, Done: true}
}

// FinishedWith returns a terminal result carrying v (used by generator
// return values, e.g. a pull window's trailing partial group).
func FinishedWith[T any](v T) IteratorResult[T] {
	return IteratorResult[T]{Value: v, Done: true}
}

// AttributedResult is yielded by race combinators so the consumer can
// identify which upstream source produced the value.
type AttributedResult[T any] struct {
	Source string
	Result IteratorResult[T]
}

// LabeledValue is yielded by labeled combinators, pairing a source key with
// its value.
type LabeledValue[T any] struct {
	Key   string
	Value T
}

// Source yields values on demand; the argument to Next is ignored. Sources
// are the producing end of a pull pipeline.
type Source[T any] interface {
	Identity() Identity
	Next(ctx context.Context) (IteratorResult[T], error)
	Return(ctx context.Context) (IteratorResult[T], error)
	Throw(ctx context.Context, err error) (IteratorResult[T], error)
}

// Sink accepts values via Next(value); Return/Throw close the chain. Sinks
// are the consuming end of a push pipeline, or a terminal of a pull/push
// bridge.
type Sink[T any] interface {
	Identity() Identity
	Next(ctx context.Context, value T) (IteratorResult[T], error)
	Return(ctx context.Context, value T) (IteratorResult[T], error)
	Throw(ctx context.Context, err error) (IteratorResult[T], error)
}

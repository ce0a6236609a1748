// Package pull implements the demand-driven pipeline engine: sources, 1-to-1
// links, and N-to-1 combinators. A pull pipeline's downstream terminus drives
// execution by calling Next(); demand propagates strictly upstream.
package pull

import (
	"context"
	"time"

	"goa.design/flow/runtime/obj"
)

// SourceBuffer wraps a finite, ordered, in-memory sequence as a pull Source.
// Each Next() call yields the next element until the sequence is exhausted.
type SourceBuffer[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	values   []T
	pos      int
}

// NewSourceBuffer constructs a SourceBuffer over values. The slice is not
// copied; callers should not mutate it concurrently with iteration.
func NewSourceBuffer[T any](values []T) *SourceBuffer[T] {
	return &SourceBuffer[T]{
		identity: obj.NewIdentity("", "source.buffer"),
		life:     obj.NewLifecycle(),
		values:   values,
	}
}

// Identity returns the source's identity.
func (s *SourceBuffer[T]) Identity() obj.Identity { return s.identity }

// Next yields the next buffered value, or a done result once the buffer is
// exhausted or the source has been closed.
func (s *SourceBuffer[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if s.life.Done() {
		return obj.Finished[T](), nil
	}
	if s.pos >= len(s.values) {
		s.life.Close(false)
		return obj.Finished[T](), nil
	}
	v := s.values[s.pos]
	s.pos++
	return obj.Yield(v), nil
}

// Return permanently closes the source.
func (s *SourceBuffer[T]) Return(ctx context.Context) (obj.IteratorResult[T], error) {
	s.life.Close(false)
	return obj.Finished[T](), nil
}

// Throw permanently closes the source with an error; the error is not
// retained (a source has no downstream to propagate it to beyond the
// caller), matching the Obj protocol's "throw closes, caller already has the
// error" contract.
func (s *SourceBuffer[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	s.life.Close(true)
	return obj.Finished[T](), nil
}

// SourceTimer yields a monotonically increasing tick count at a fixed period,
// forever, until closed.
type SourceTimer struct {
	identity obj.Identity
	life     *obj.Lifecycle
	period   time.Duration
	ticker   *time.Ticker
	count    int64
}

// NewSourceTimer constructs a SourceTimer yielding every period.
func NewSourceTimer(period time.Duration) *SourceTimer {
	return &SourceTimer{
		identity: obj.NewIdentity("", "source.timer"),
		life:     obj.NewLifecycle(),
		period:   period,
		ticker:   time.NewTicker(period),
	}
}

// Identity returns the source's identity.
func (s *SourceTimer) Identity() obj.Identity { return s.identity }

// Next blocks until the next tick, ctx cancellation, or a prior close.
func (s *SourceTimer) Next(ctx context.Context) (obj.IteratorResult[int64], error) {
	if s.life.Done() {
		return obj.Finished[int64](), nil
	}
	select {
	case <-s.ticker.C:
		s.count++
		return obj.Yield(s.count), nil
	case <-ctx.Done():
		return obj.IteratorResult[int64]{}, ctx.Err()
	}
}

// Return stops the ticker and permanently closes the source.
func (s *SourceTimer) Return(ctx context.Context) (obj.IteratorResult[int64], error) {
	if s.life.Close(false) {
		s.ticker.Stop()
	}
	return obj.Finished[int64](), nil
}

// Throw stops the ticker and permanently closes the source.
func (s *SourceTimer) Throw(ctx context.Context, err error) (obj.IteratorResult[int64], error) {
	if s.life.Close(true) {
		s.ticker.Stop()
	}
	return obj.Finished[int64](), nil
}

// GeneratorFunc produces the next value for a generator-adapted source. It
// returns (value, false, nil) to yield, (_, true, nil) to signal completion,
// or a non-nil error to propagate a stage-work error without closing.
type GeneratorFunc[T any] func(ctx context.Context) (value T, done bool, err error)

// Generator adapts an arbitrary GeneratorFunc as a pull Source, for wrapping
// foreign iterators or ad-hoc producers.
type Generator[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	fn       GeneratorFunc[T]
}

// NewGenerator constructs a Generator source from fn.
func NewGenerator[T any](fn GeneratorFunc[T]) *Generator[T] {
	return &Generator[T]{
		identity: obj.NewIdentity("", "source.generator"),
		life:     obj.NewLifecycle(),
		fn:       fn,
	}
}

// Identity returns the source's identity.
func (g *Generator[T]) Identity() obj.Identity { return g.identity }

// Next invokes fn once. A stage-work error from fn propagates without
// closing the source.
func (g *Generator[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if g.life.Done() {
		return obj.Finished[T](), nil
	}
	v, done, err := g.fn(ctx)
	if err != nil {
		return obj.IteratorResult[T]{}, err
	}
	if done {
		g.life.Close(false)
		return obj.Finished[T](), nil
	}
	return obj.Yield(v), nil
}

// Return permanently closes the source.
func (g *Generator[T]) Return(ctx context.Context) (obj.IteratorResult[T], error) {
	g.life.Close(false)
	return obj.Finished[T](), nil
}

// Throw permanently closes the source.
func (g *Generator[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	g.life.Close(true)
	return obj.Finished[T](), nil
}

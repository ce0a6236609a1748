package pull

import (
	"context"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
)

// MapFunc transforms an upstream value into a downstream value. It may
// return an error, which surfaces as a stage-work error without closing the
// link.
type MapFunc[In, Out any] func(ctx context.Context, v In) (Out, error)

// Map yields Fn(v) for each upstream value. Fn is a mutable public field,
// re-read on every Next() call, so a caller can hot-swap the transform
// between calls and have the new one apply immediately.
type Map[In, Out any] struct {
	linkBase[In, Out]
	Fn MapFunc[In, Out]
}

// NewMap constructs a Map link over upstream using fn.
func NewMap[In, Out any](upstream obj.Source[In], fn MapFunc[In, Out]) *Map[In, Out] {
	return &Map[In, Out]{linkBase: newLinkBase[In, Out]("pull.map", upstream), Fn: fn}
}

// Next pulls exactly one upstream value and transforms it.
func (m *Map[In, Out]) Next(ctx context.Context) (obj.IteratorResult[Out], error) {
	if m.life.Done() {
		return obj.Finished[Out](), nil
	}
	res, err := m.upstream.Next(ctx)
	if err != nil {
		return obj.IteratorResult[Out]{}, err
	}
	if res.Done {
		m.life.Close(false)
		return obj.Finished[Out](), nil
	}
	out, err := m.Fn(ctx, res.Value)
	if err != nil {
		return obj.IteratorResult[Out]{}, errs.StageWork(err)
	}
	return obj.Yield(out), nil
}

// PredicateFunc tests a value for inclusion.
type PredicateFunc[T any] func(ctx context.Context, v T) (bool, error)

// Filter yields upstream values for which Predicate is truthy, re-entering
// its own Next() internally for dropped values so the demand discipline
// is preserved from the caller's point of view as "one-to-one after drops",
// not "one upstream pull per yield".
type Filter[T any] struct {
	linkBase[T, T]
	Predicate PredicateFunc[T]
}

// NewFilter constructs a Filter link.
func NewFilter[T any](upstream obj.Source[T], predicate PredicateFunc[T]) *Filter[T] {
	return &Filter[T]{linkBase: newLinkBase[T, T]("pull.filter", upstream), Predicate: predicate}
}

// Next pulls upstream values, discarding any that fail Predicate, until one
// passes or upstream is exhausted.
func (f *Filter[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	for {
		if f.life.Done() {
			return obj.Finished[T](), nil
		}
		res, err := f.upstream.Next(ctx)
		if err != nil {
			return obj.IteratorResult[T]{}, err
		}
		if res.Done {
			f.life.Close(false)
			return obj.Finished[T](), nil
		}
		ok, err := f.Predicate(ctx, res.Value)
		if err != nil {
			return obj.IteratorResult[T]{}, errs.StageWork(err)
		}
		if ok {
			return obj.Yield(res.Value), nil
		}
	}
}

// TapFunc observes a value synchronously between the pull and the yield.
type TapFunc[T any] func(ctx context.Context, v T)

// Tap yields the upstream value unchanged, invoking Fn as a side effect.
type Tap[T any] struct {
	linkBase[T, T]
	Fn TapFunc[T]
}

// NewTap constructs a Tap link.
func NewTap[T any](upstream obj.Source[T], fn TapFunc[T]) *Tap[T] {
	return &Tap[T]{linkBase: newLinkBase[T, T]("pull.tap", upstream), Fn: fn}
}

// Next pulls one upstream value, invokes Fn, then yields it unchanged.
func (t *Tap[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if t.life.Done() {
		return obj.Finished[T](), nil
	}
	res, err := t.upstream.Next(ctx)
	if err != nil {
		return obj.IteratorResult[T]{}, err
	}
	if res.Done {
		t.life.Close(false)
		return obj.Finished[T](), nil
	}
	if t.Fn != nil {
		t.Fn(ctx, res.Value)
	}
	return obj.Yield(res.Value), nil
}

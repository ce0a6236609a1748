package pull

import (
	"context"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
)

// FlatMapFunc expands one upstream value into a sub-sequence. It is called
// once per upstream value; every value of the returned sub-source is yielded
// before the next upstream value is pulled, amortizing the one-upstream-pull
// demand discipline.
type FlatMapFunc[In, Out any] func(ctx context.Context, v In) (obj.Source[Out], error)

// FlatMap expands each upstream value into a sub-sequence via Fn, flattening
// all sub-sequences into a single downstream stream.
type FlatMap[In, Out any] struct {
	linkBase[In, Out]
	Fn      FlatMapFunc[In, Out]
	current obj.Source[Out]
}

// NewFlatMap constructs a FlatMap link.
func NewFlatMap[In, Out any](upstream obj.Source[In], fn FlatMapFunc[In, Out]) *FlatMap[In, Out] {
	return &FlatMap[In, Out]{linkBase: newLinkBase[In, Out]("pull.flatmap", upstream), Fn: fn}
}

// Next drains the current sub-sequence before pulling the next upstream
// value and expanding it into a new sub-sequence.
func (m *FlatMap[In, Out]) Next(ctx context.Context) (obj.IteratorResult[Out], error) {
	for {
		if m.life.Done() {
			return obj.Finished[Out](), nil
		}
		if m.current != nil {
			res, err := m.current.Next(ctx)
			if err != nil {
				return obj.IteratorResult[Out]{}, err
			}
			if !res.Done {
				return obj.Yield(res.Value), nil
			}
			m.current = nil
		}
		up, err := m.upstream.Next(ctx)
		if err != nil {
			return obj.IteratorResult[Out]{}, err
		}
		if up.Done {
			m.life.Close(false)
			return obj.Finished[Out](), nil
		}
		sub, err := m.Fn(ctx, up.Value)
		if err != nil {
			return obj.IteratorResult[Out]{}, errs.StageWork(err)
		}
		m.current = sub
	}
}

// Return closes the in-flight sub-sequence, then the upstream.
func (m *FlatMap[In, Out]) Return(ctx context.Context) (obj.IteratorResult[Out], error) {
	if m.current != nil {
		_, _ = m.current.Return(ctx)
		m.current = nil
	}
	return m.linkBase.Return(ctx)
}

// Throw closes the in-flight sub-sequence, then the upstream.
func (m *FlatMap[In, Out]) Throw(ctx context.Context, err error) (obj.IteratorResult[Out], error) {
	if m.current != nil {
		_, _ = m.current.Throw(ctx, err)
		m.current = nil
	}
	return m.linkBase.Throw(ctx, err)
}

// ReduceFunc folds the running accumulator with the next upstream value.
type ReduceFunc[In, Acc any] func(ctx context.Context, acc Acc, v In) (Acc, error)

// Reduce yields the running accumulator after each upstream step (streaming,
// not terminal).
type Reduce[In, Acc any] struct {
	linkBase[In, Acc]
	Fn  ReduceFunc[In, Acc]
	acc Acc
}

// NewReduce constructs a Reduce link with the given seed accumulator.
func NewReduce[In, Acc any](upstream obj.Source[In], seed Acc, fn ReduceFunc[In, Acc]) *Reduce[In, Acc] {
	return &Reduce[In, Acc]{linkBase: newLinkBase[In, Acc]("pull.reduce", upstream), Fn: fn, acc: seed}
}

// Next pulls one upstream value, folds it into the accumulator, and yields
// the new accumulator value.
func (r *Reduce[In, Acc]) Next(ctx context.Context) (obj.IteratorResult[Acc], error) {
	if r.life.Done() {
		return obj.Finished[Acc](), nil
	}
	res, err := r.upstream.Next(ctx)
	if err != nil {
		return obj.IteratorResult[Acc]{}, err
	}
	if res.Done {
		r.life.Close(false)
		return obj.Finished[Acc](), nil
	}
	acc, err := r.Fn(ctx, r.acc, res.Value)
	if err != nil {
		return obj.IteratorResult[Acc]{}, errs.StageWork(err)
	}
	r.acc = acc
	return obj.Yield(acc), nil
}

// DedupeKeyFunc extracts the dedupe key for a value; identity if nil.
type DedupeKeyFunc[T any, K comparable] func(v T) K

// Dedupe suppresses values whose key has already been seen. The seen-set
// persists for the link's lifetime.
type Dedupe[T any, K comparable] struct {
	linkBase[T, T]
	KeyFn DedupeKeyFunc[T, K]
	seen  map[K]struct{}
}

// NewDedupe constructs a Dedupe link using keyFn to compute the dedupe key.
func NewDedupe[T any, K comparable](upstream obj.Source[T], keyFn DedupeKeyFunc[T, K]) *Dedupe[T, K] {
	return &Dedupe[T, K]{
		linkBase: newLinkBase[T, T]("pull.dedupe", upstream),
		KeyFn:    keyFn,
		seen:     make(map[K]struct{}),
	}
}

// Next pulls upstream values, discarding any whose key has already been
// seen, until one is new or upstream is exhausted.
func (d *Dedupe[T, K]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	for {
		if d.life.Done() {
			return obj.Finished[T](), nil
		}
		res, err := d.upstream.Next(ctx)
		if err != nil {
			return obj.IteratorResult[T]{}, err
		}
		if res.Done {
			d.life.Close(false)
			return obj.Finished[T](), nil
		}
		var k K
		if d.KeyFn != nil {
			k = d.KeyFn(res.Value)
		} else {
			k = any(res.Value).(K)
		}
		if _, ok := d.seen[k]; ok {
			continue
		}
		d.seen[k] = struct{}{}
		return obj.Yield(res.Value), nil
	}
}

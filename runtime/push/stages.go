package push

import (
	"context"
	"sync"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
)

// sinkBase holds the identity/lifecycle plumbing shared by every internal
// push stage, mirroring pull's linkBase on the sink side of the protocol.
type sinkBase[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	next     obj.Sink[T]
}

func newSinkBase[T any](name string, next obj.Sink[T]) sinkBase[T] {
	return sinkBase[T]{identity: obj.NewIdentity("", name), life: obj.NewLifecycle(), next: next}
}

func (s *sinkBase[T]) Identity() obj.Identity { return s.identity }

func (s *sinkBase[T]) closeOnce(ctx context.Context, thrown bool, v T, cause error) (obj.IteratorResult[T], error) {
	if s.life.Close(thrown) {
		if thrown {
			return s.next.Throw(ctx, cause)
		}
		return s.next.Return(ctx, v)
	}
	return obj.Finished[T](), nil
}

// filterSink forwards only values for which pred is truthy.
type filterSink[T any] struct {
	sinkBase[T]
	Predicate PredicateFunc[T]
}

func newFilterSink[T any](next obj.Sink[T], pred PredicateFunc[T]) *filterSink[T] {
	return &filterSink[T]{sinkBase: newSinkBase("push.filter", next), Predicate: pred}
}

func (f *filterSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if f.life.Done() {
		return obj.Finished[T](), nil
	}
	ok, err := f.Predicate(ctx, v)
	if err != nil {
		return obj.IteratorResult[T]{}, errs.StageWork(err)
	}
	if !ok {
		return obj.Yield(v), nil
	}
	return f.next.Next(ctx, v)
}

func (f *filterSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	return f.closeOnce(ctx, false, v, nil)
}

func (f *filterSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	var zero T
	return f.closeOnce(ctx, true, zero, err)
}

// tapSink invokes fn for its side effect and always forwards the value.
type tapSink[T any] struct {
	sinkBase[T]
	Fn TapFunc[T]
}

func newTapSink[T any](next obj.Sink[T], fn TapFunc[T]) *tapSink[T] {
	return &tapSink[T]{sinkBase: newSinkBase("push.tap", next), Fn: fn}
}

func (t *tapSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if t.life.Done() {
		return obj.Finished[T](), nil
	}
	t.Fn(ctx, v)
	return t.next.Next(ctx, v)
}

func (t *tapSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	return t.closeOnce(ctx, false, v, nil)
}

func (t *tapSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	var zero T
	return t.closeOnce(ctx, true, zero, err)
}

// callbackSink invokes pre before, and post after, forwarding to next.
type callbackSink[T any] struct {
	sinkBase[T]
	Pre  TapFunc[T]
	Post TapFunc[T]
}

func newCallbackSink[T any](next obj.Sink[T], pre, post TapFunc[T]) *callbackSink[T] {
	return &callbackSink[T]{sinkBase: newSinkBase("push.callback", next), Pre: pre, Post: post}
}

func (c *callbackSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if c.life.Done() {
		return obj.Finished[T](), nil
	}
	if c.Pre != nil {
		c.Pre(ctx, v)
	}
	res, err := c.next.Next(ctx, v)
	if err == nil && c.Post != nil {
		c.Post(ctx, v)
	}
	return res, err
}

func (c *callbackSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	return c.closeOnce(ctx, false, v, nil)
}

func (c *callbackSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	var zero T
	return c.closeOnce(ctx, true, zero, err)
}

// serialSink guarantees at most one value is in flight downstream of it:
// concurrent Next calls queue on a single-slot channel drained by one
// dedicated goroutine, so every pushed value still reaches next even when
// producers race to push at once.
type serialSink[T any] struct {
	sinkBase[T]
	queue chan serialItem[T]
	done  chan struct{}
	once  sync.Once
}

type serialItem[T any] struct {
	value  T
	result chan serialOutcome[T]
}

type serialOutcome[T any] struct {
	res obj.IteratorResult[T]
	err error
}

func newSerialSink[T any](next obj.Sink[T]) *serialSink[T] {
	s := &serialSink[T]{sinkBase: newSinkBase("push.serial", next), queue: make(chan serialItem[T], 1), done: make(chan struct{})}
	go s.drain()
	return s
}

func (s *serialSink[T]) drain() {
	defer close(s.done)
	ctx := context.Background()
	for item := range s.queue {
		res, err := s.next.Next(ctx, item.value)
		item.result <- serialOutcome[T]{res: res, err: err}
	}
}

func (s *serialSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if s.life.Done() {
		return obj.Finished[T](), nil
	}
	result := make(chan serialOutcome[T], 1)
	select {
	case s.queue <- serialItem[T]{value: v, result: result}:
	case <-ctx.Done():
		return obj.IteratorResult[T]{}, ctx.Err()
	}
	select {
	case out := <-result:
		return out.res, out.err
	case <-ctx.Done():
		return obj.IteratorResult[T]{}, ctx.Err()
	}
}

func (s *serialSink[T]) stopDrain() {
	s.once.Do(func() {
		close(s.queue)
		<-s.done
	})
}

func (s *serialSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if s.life.Close(false) {
		s.stopDrain()
		return s.next.Return(ctx, v)
	}
	return obj.Finished[T](), nil
}

func (s *serialSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if s.life.Close(true) {
		s.stopDrain()
		return s.next.Throw(ctx, err)
	}
	return obj.Finished[T](), nil
}

// mapBridgeSink is the live sink built by the free function MapTo: it exposes
// an obj.Sink[In] to whatever terminal resolves the *outer* recipe (over
// In), transforms each value, and forwards it into the inner recipe's chain
// (over Out) terminating at next.
type mapBridgeSink[In, Out any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	fn       MapFunc[In, Out]
	inner    obj.Sink[Out]
}

func newMapBridgeSink[In, Out any](_ *Recipe[In], fn MapFunc[In, Out], next obj.Sink[Out]) *mapBridgeSink[In, Out] {
	return &mapBridgeSink[In, Out]{identity: obj.NewIdentity("", "push.map"), life: obj.NewLifecycle(), fn: fn, inner: next}
}

func (m *mapBridgeSink[In, Out]) Identity() obj.Identity { return m.identity }

func (m *mapBridgeSink[In, Out]) Next(ctx context.Context, v In) (obj.IteratorResult[In], error) {
	if m.life.Done() {
		return obj.Finished[In](), nil
	}
	out, err := m.fn(ctx, v)
	if err != nil {
		return obj.IteratorResult[In]{}, errs.StageWork(err)
	}
	if _, err := m.inner.Next(ctx, out); err != nil {
		return obj.IteratorResult[In]{}, err
	}
	return obj.Yield(v), nil
}

func (m *mapBridgeSink[In, Out]) Return(ctx context.Context, v In) (obj.IteratorResult[In], error) {
	if m.life.Close(false) {
		var zero Out
		if _, err := m.inner.Return(ctx, zero); err != nil {
			return obj.IteratorResult[In]{}, err
		}
	}
	return obj.Finished[In](), nil
}

func (m *mapBridgeSink[In, Out]) Throw(ctx context.Context, err error) (obj.IteratorResult[In], error) {
	if m.life.Close(true) {
		if _, terr := m.inner.Throw(ctx, err); terr != nil {
			return obj.IteratorResult[In]{}, terr
		}
	}
	return obj.Finished[In](), nil
}

// reduceBridgeSink folds pushed values into a running accumulator and
// forwards the accumulator into the inner recipe after each step.
type reduceBridgeSink[In, Acc any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	fn       ReduceFunc[In, Acc]
	acc      Acc
	inner    obj.Sink[Acc]
}

func newReduceBridgeSink[In, Acc any](_ *Recipe[In], seed Acc, fn ReduceFunc[In, Acc], next obj.Sink[Acc]) *reduceBridgeSink[In, Acc] {
	return &reduceBridgeSink[In, Acc]{identity: obj.NewIdentity("", "push.reduce"), life: obj.NewLifecycle(), fn: fn, acc: seed, inner: next}
}

func (r *reduceBridgeSink[In, Acc]) Identity() obj.Identity { return r.identity }

func (r *reduceBridgeSink[In, Acc]) Next(ctx context.Context, v In) (obj.IteratorResult[In], error) {
	if r.life.Done() {
		return obj.Finished[In](), nil
	}
	acc, err := r.fn(ctx, r.acc, v)
	if err != nil {
		return obj.IteratorResult[In]{}, errs.StageWork(err)
	}
	r.acc = acc
	if _, err := r.inner.Next(ctx, r.acc); err != nil {
		return obj.IteratorResult[In]{}, err
	}
	return obj.Yield(v), nil
}

func (r *reduceBridgeSink[In, Acc]) Return(ctx context.Context, v In) (obj.IteratorResult[In], error) {
	if r.life.Close(false) {
		if _, err := r.inner.Return(ctx, r.acc); err != nil {
			return obj.IteratorResult[In]{}, err
		}
	}
	return obj.Finished[In](), nil
}

func (r *reduceBridgeSink[In, Acc]) Throw(ctx context.Context, err error) (obj.IteratorResult[In], error) {
	if r.life.Close(true) {
		if _, terr := r.inner.Throw(ctx, err); terr != nil {
			return obj.IteratorResult[In]{}, terr
		}
	}
	return obj.Finished[In](), nil
}

// groupBridgeSink backs both Window (n>0, cond nil) and Buffer (n==0,
// cond set): it accumulates pushed values and forwards the accumulated
// group into the inner recipe once full/flush-triggered.
type groupBridgeSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	n        int
	cond     BufferCondFunc[T]
	pending  []T
	inner    obj.Sink[[]T]
}

func newGroupBridgeSink[T any](_ *Recipe[T], n int, cond BufferCondFunc[T], next obj.Sink[[]T]) *groupBridgeSink[T] {
	return &groupBridgeSink[T]{identity: obj.NewIdentity("", "push.group"), life: obj.NewLifecycle(), n: n, cond: cond, inner: next}
}

func (g *groupBridgeSink[T]) Identity() obj.Identity { return g.identity }

func (g *groupBridgeSink[T]) shouldFlush() bool {
	if g.cond != nil {
		return g.cond(g.pending)
	}
	return len(g.pending) >= g.n
}

func (g *groupBridgeSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if g.life.Done() {
		return obj.Finished[T](), nil
	}
	g.pending = append(g.pending, v)
	if g.shouldFlush() {
		group := g.pending
		g.pending = nil
		if _, err := g.inner.Next(ctx, group); err != nil {
			return obj.IteratorResult[T]{}, err
		}
	}
	return obj.Yield(v), nil
}

func (g *groupBridgeSink[T]) flushTrailing(ctx context.Context) error {
	if len(g.pending) == 0 {
		return nil
	}
	group := g.pending
	g.pending = nil
	_, err := g.inner.Next(ctx, group)
	return err
}

func (g *groupBridgeSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if g.life.Close(false) {
		if err := g.flushTrailing(ctx); err != nil {
			return obj.IteratorResult[T]{}, err
		}
		if _, err := g.inner.Return(ctx, nil); err != nil {
			return obj.IteratorResult[T]{}, err
		}
	}
	return obj.Finished[T](), nil
}

func (g *groupBridgeSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if g.life.Close(true) {
		if _, terr := g.inner.Throw(ctx, err); terr != nil {
			return obj.IteratorResult[T]{}, terr
		}
	}
	return obj.Finished[T](), nil
}

// flattenBridgeSink expands each pushed slice into its elements, delivered
// one at a time into the inner recipe.
type flattenBridgeSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	inner    obj.Sink[T]
}

func newFlattenBridgeSink[T any](_ *Recipe[[]T], next obj.Sink[T]) *flattenBridgeSink[T] {
	return &flattenBridgeSink[T]{identity: obj.NewIdentity("", "push.flatten"), life: obj.NewLifecycle(), inner: next}
}

func (f *flattenBridgeSink[T]) Identity() obj.Identity { return f.identity }

func (f *flattenBridgeSink[T]) Next(ctx context.Context, v []T) (obj.IteratorResult[[]T], error) {
	if f.life.Done() {
		return obj.Finished[[]T](), nil
	}
	for _, item := range v {
		if _, err := f.inner.Next(ctx, item); err != nil {
			return obj.IteratorResult[[]T]{}, err
		}
	}
	return obj.Yield(v), nil
}

func (f *flattenBridgeSink[T]) Return(ctx context.Context, v []T) (obj.IteratorResult[[]T], error) {
	if f.life.Close(false) {
		var zero T
		if _, err := f.inner.Return(ctx, zero); err != nil {
			return obj.IteratorResult[[]T]{}, err
		}
	}
	return obj.Finished[[]T](), nil
}

func (f *flattenBridgeSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[[]T], error) {
	if f.life.Close(true) {
		if _, terr := f.inner.Throw(ctx, err); terr != nil {
			return obj.IteratorResult[[]T]{}, terr
		}
	}
	return obj.Finished[[]T](), nil
}

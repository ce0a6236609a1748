package push

import (
	"context"
	"errors"
	"sync"

	"goa.design/flow/runtime/obj"
)

// Into resolves the recipe into a live chain delivering to a single sink.
func Into[T any](r *Recipe[T], sink obj.Sink[T]) *Chain[T] {
	return NewChain(r, sink)
}

// collectSink is the terminal sink backing ToArray: it appends every pushed
// value to a shared, mutex-guarded slice.
type collectSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	mu       *sync.Mutex
	buf      *[]T
}

func newCollectSink[T any](buf *[]T, mu *sync.Mutex) *collectSink[T] {
	return &collectSink[T]{identity: obj.NewIdentity("", "push.collect"), life: obj.NewLifecycle(), buf: buf, mu: mu}
}

func (c *collectSink[T]) Identity() obj.Identity { return c.identity }

func (c *collectSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if c.life.Done() {
		return obj.Finished[T](), nil
	}
	c.mu.Lock()
	*c.buf = append(*c.buf, v)
	c.mu.Unlock()
	return obj.Yield(v), nil
}

func (c *collectSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	c.life.Close(false)
	return obj.Finished[T](), nil
}

func (c *collectSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	c.life.Close(true)
	return obj.Finished[T](), nil
}

// ToArray resolves the recipe into a live chain that appends every value
// reaching the end of the chain into the returned slice pointer. The chain
// and the buffer pointer are returned together. Appends are serialized by a
// mutex internal to the chain; reads of the buffer by the caller are not
// synchronized with pushes still in flight.
func ToArray[T any](r *Recipe[T]) (*Chain[T], *[]T) {
	buf := new([]T)
	var mu sync.Mutex
	sink := newCollectSink(buf, &mu)
	return NewChain(r, sink), buf
}

// callbackFnSink is the terminal sink backing ToCallbacks: it invokes every
// registered function with the value.
type callbackFnSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	fns      []func(ctx context.Context, v T)
}

func newCallbackFnSink[T any](fns []func(ctx context.Context, v T)) *callbackFnSink[T] {
	return &callbackFnSink[T]{identity: obj.NewIdentity("", "push.to_callbacks"), life: obj.NewLifecycle(), fns: fns}
}

func (c *callbackFnSink[T]) Identity() obj.Identity { return c.identity }

func (c *callbackFnSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if c.life.Done() {
		return obj.Finished[T](), nil
	}
	for _, fn := range c.fns {
		fn(ctx, v)
	}
	return obj.Yield(v), nil
}

func (c *callbackFnSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	c.life.Close(false)
	return obj.Finished[T](), nil
}

func (c *callbackFnSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	c.life.Close(true)
	return obj.Finished[T](), nil
}

// ToCallbacks resolves the recipe into a live chain invoking every fn for
// each value reaching the end of the chain.
func ToCallbacks[T any](r *Recipe[T], fns ...func(ctx context.Context, v T)) *Chain[T] {
	return NewChain(r, newCallbackFnSink(fns))
}

// forkSink delivers every value to every branch, attempting all branches
// even when earlier ones fail, then joining every branch error together.
type forkSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	branches []obj.Sink[T]
}

func newForkSink[T any](branches []obj.Sink[T]) *forkSink[T] {
	return &forkSink[T]{identity: obj.NewIdentity("", "push.fork"), life: obj.NewLifecycle(), branches: branches}
}

func (f *forkSink[T]) Identity() obj.Identity { return f.identity }

func (f *forkSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if f.life.Done() {
		return obj.Finished[T](), nil
	}
	var errList []error
	for _, b := range f.branches {
		if _, err := b.Next(ctx, v); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Yield(v), nil
}

func (f *forkSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if !f.life.Close(false) {
		return obj.Finished[T](), nil
	}
	var errList []error
	for _, b := range f.branches {
		if _, err := b.Return(ctx, v); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

func (f *forkSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if !f.life.Close(true) {
		return obj.Finished[T](), nil
	}
	var errList []error
	for _, b := range f.branches {
		if _, berr := b.Throw(ctx, err); berr != nil {
			errList = append(errList, berr)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

// Fork resolves the recipe into a live chain delivering every value to
// every branch sequentially, attempting every branch before reporting any
// failure; when multiple branches fail, their errors are joined together
// rather than the first one shadowing the rest.
func Fork[T any](r *Recipe[T], branches ...obj.Sink[T]) *Chain[T] {
	return NewChain(r, newForkSink(branches))
}

// distributeSink routes each value to at most one branch, chosen by selector.
type distributeSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	branches []obj.Sink[T]
	selector func(ctx context.Context, v T) int
}

func newDistributeSink[T any](branches []obj.Sink[T], selector func(ctx context.Context, v T) int) *distributeSink[T] {
	return &distributeSink[T]{identity: obj.NewIdentity("", "push.distribute"), life: obj.NewLifecycle(), branches: branches, selector: selector}
}

func (d *distributeSink[T]) Identity() obj.Identity { return d.identity }

func (d *distributeSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if d.life.Done() {
		return obj.Finished[T](), nil
	}
	idx := d.selector(ctx, v)
	if idx < 0 || idx >= len(d.branches) {
		return obj.Yield(v), nil
	}
	if _, err := d.branches[idx].Next(ctx, v); err != nil {
		return obj.IteratorResult[T]{}, err
	}
	return obj.Yield(v), nil
}

func (d *distributeSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if !d.life.Close(false) {
		return obj.Finished[T](), nil
	}
	var errList []error
	for _, b := range d.branches {
		if _, err := b.Return(ctx, v); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

func (d *distributeSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if !d.life.Close(true) {
		return obj.Finished[T](), nil
	}
	var errList []error
	for _, b := range d.branches {
		if _, berr := b.Throw(ctx, err); berr != nil {
			errList = append(errList, berr)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

// Distribute resolves the recipe into a live chain routing each value to
// exactly one branch, chosen by selector(value). A value whose index is out
// of range is delivered to no branch and reported as accepted.
func Distribute[T any](r *Recipe[T], selector func(ctx context.Context, v T) int, branches ...obj.Sink[T]) *Chain[T] {
	return NewChain(r, newDistributeSink(branches, selector))
}

// roundRobinSink routes values to branches in strict rotation.
type roundRobinSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	branches []obj.Sink[T]
	cursor   int
}

func newRoundRobinSink[T any](branches []obj.Sink[T]) *roundRobinSink[T] {
	return &roundRobinSink[T]{identity: obj.NewIdentity("", "push.round_robin_to"), life: obj.NewLifecycle(), branches: branches}
}

func (r *roundRobinSink[T]) Identity() obj.Identity { return r.identity }

func (r *roundRobinSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if r.life.Done() {
		return obj.Finished[T](), nil
	}
	branch := r.branches[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.branches)
	if _, err := branch.Next(ctx, v); err != nil {
		return obj.IteratorResult[T]{}, err
	}
	return obj.Yield(v), nil
}

func (r *roundRobinSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if !r.life.Close(false) {
		return obj.Finished[T](), nil
	}
	var errList []error
	for _, b := range r.branches {
		if _, err := b.Return(ctx, v); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

func (r *roundRobinSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if !r.life.Close(true) {
		return obj.Finished[T](), nil
	}
	var errList []error
	for _, b := range r.branches {
		if _, berr := b.Throw(ctx, err); berr != nil {
			errList = append(errList, berr)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

// RoundRobinTo resolves the recipe into a live chain routing values to
// branches in strict rotation.
func RoundRobinTo[T any](r *Recipe[T], branches ...obj.Sink[T]) *Chain[T] {
	return NewChain(r, newRoundRobinSink(branches))
}

// MapTo resolves the recipe into a live chain that transforms every value
// with fn and forwards the result to next.
func MapTo[In, Out any](r *Recipe[In], fn MapFunc[In, Out], next obj.Sink[Out]) *Chain[In] {
	return NewChain(r, newMapBridgeSink(r, fn, next))
}

// ReduceTo resolves the recipe into a live chain that folds every value
// into a running accumulator, forwarding the accumulator to next after
// each step.
func ReduceTo[In, Acc any](r *Recipe[In], seed Acc, fn ReduceFunc[In, Acc], next obj.Sink[Acc]) *Chain[In] {
	return NewChain(r, newReduceBridgeSink(r, seed, fn, next))
}

// WindowTo resolves the recipe into a live chain that groups every N
// values and forwards each group to next; any trailing partial group is
// forwarded on Return.
func WindowTo[T any](r *Recipe[T], n int, next obj.Sink[[]T]) *Chain[T] {
	return NewChain(r, newGroupBridgeSink(r, n, nil, next))
}

// BufferTo resolves the recipe into a live chain that groups values,
// flushing to next whenever cond(currentGroup) is true; any trailing
// partial group is forwarded on Return.
func BufferTo[T any](r *Recipe[T], cond BufferCondFunc[T], next obj.Sink[[]T]) *Chain[T] {
	return NewChain(r, newGroupBridgeSink(r, 0, cond, next))
}

// FlattenTo resolves the recipe into a live chain that expands each pushed
// slice into its elements, forwarded to next one at a time.
func FlattenTo[T any](r *Recipe[[]T], next obj.Sink[T]) *Chain[[]T] {
	return NewChain(r, newFlattenBridgeSink(r, next))
}

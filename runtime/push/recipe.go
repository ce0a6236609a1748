// Package push implements the eager, producer-driven pipeline engine.
// Fluent operations accumulate into an immutable Recipe; a terminal method
// (Into, Fork, Distribute, RoundRobinTo, ToCallbacks, ToArray) resolves the
// recipe into a live chain by folding it in reverse, from the terminal sink
// back to where the producer will call Next.
package push

import (
	"context"
	"fmt"

	"goa.design/flow/runtime/obj"
)

// MapFunc transforms one value into another as it moves through a push
// chain.
type MapFunc[In, Out any] func(ctx context.Context, v In) (Out, error)

// PredicateFunc tests a value for inclusion.
type PredicateFunc[T any] func(ctx context.Context, v T) (bool, error)

// TapFunc observes a value without altering it.
type TapFunc[T any] func(ctx context.Context, v T)

// ReduceFunc folds the running accumulator with the next pushed value.
type ReduceFunc[In, Acc any] func(ctx context.Context, acc Acc, v In) (Acc, error)

// BufferCondFunc reports whether the accumulated buffer should flush.
type BufferCondFunc[T any] func(current []T) bool

// stageBuilder wraps a downstream sink with one more push stage.
type stageBuilder[T any] func(next obj.Sink[T]) obj.Sink[T]

// recipeEntry names a recipe step so the live Chain built from it can
// be mutated later by identity (InsertAfter/Remove/Replace).
type recipeEntry[T any] struct {
	id    obj.Identity
	build stageBuilder[T]
}

// Recipe is the immutable, accumulated builder state for a push chain: each
// fluent call returns a new Recipe, leaving the original untouched, ready to
// be resolved by a terminal method into a live chain.
type Recipe[T any] struct {
	ops []recipeEntry[T]
}

// New returns an empty Recipe over values of type T.
func New[T any]() *Recipe[T] {
	return &Recipe[T]{}
}

func (r *Recipe[T]) with(name string, build stageBuilder[T]) *Recipe[T] {
	ops := make([]recipeEntry[T], len(r.ops), len(r.ops)+1)
	copy(ops, r.ops)
	ops = append(ops, recipeEntry[T]{id: obj.NewIdentity("", fmt.Sprintf("%s-%d", name, len(ops))), build: build})
	return &Recipe[T]{ops: ops}
}

// Filter drops pushed values for which pred is falsy.
func (r *Recipe[T]) Filter(pred PredicateFunc[T]) *Recipe[T] {
	return r.with("push.filter", func(next obj.Sink[T]) obj.Sink[T] {
		return newFilterSink(next, pred)
	})
}

// Tap invokes fn as a side effect, forwarding the value unchanged.
func (r *Recipe[T]) Tap(fn TapFunc[T]) *Recipe[T] {
	return r.with("push.tap", func(next obj.Sink[T]) obj.Sink[T] {
		return newTapSink(next, fn)
	})
}

// PreCallback invokes fn before forwarding the value downstream.
func (r *Recipe[T]) PreCallback(fn TapFunc[T]) *Recipe[T] {
	return r.with("push.pre_callback", func(next obj.Sink[T]) obj.Sink[T] {
		return newCallbackSink(next, fn, nil)
	})
}

// PostCallback invokes fn after the value has been accepted downstream.
func (r *Recipe[T]) PostCallback(fn TapFunc[T]) *Recipe[T] {
	return r.with("push.post_callback", func(next obj.Sink[T]) obj.Sink[T] {
		return newCallbackSink(next, nil, fn)
	})
}

// Serial guarantees at most one value is in flight through everything
// downstream of it at any time, queuing concurrent pushes rather than
// interleaving them.
func (r *Recipe[T]) Serial() *Recipe[T] {
	return r.with("push.serial", func(next obj.Sink[T]) obj.Sink[T] {
		return newSerialSink(next)
	})
}

// Map, Reduce, Window, Buffer, and Flatten all change the type of value
// flowing through the chain, so they cannot be Recipe[T] methods (a method
// cannot introduce a new type parameter) or ops appended to a Recipe[T]'s
// homogeneous ops list. Instead they are terminal constructors, like Into
// or Fork: given an upstream Recipe[In] and a downstream sink over the new
// type, they resolve straight to a live *Chain[In] that performs the
// transform as its last step before handing off downstream. See
// terminals.go for MapTo, ReduceTo, WindowTo, BufferTo, and FlattenTo.

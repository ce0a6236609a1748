// Package bidi implements the request-response bidirectional engine: a
// 1:1 chain where the caller drives both input and output. Each call to
// Next pushes one value through every stage left-to-right and returns the
// final result.
package bidi

import (
	"context"
	"sync"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
)

// StatelessFunc is a stage that maps input to output with no retained
// state across calls.
type StatelessFunc[In, Out any] func(ctx context.Context, v In) (Out, error)

// FactoryFunc produces a stateful processor closure. The factory runs
// exactly once, lazily, on the chain's first use.
type FactoryFunc[In, Out any] func() StatelessFunc[In, Out]

// Chain is the live bidirectional pipeline. It is built forward (each
// fluent operation returns a new Chain wrapping the previous one) rather
// than the recipe-then-resolve shape of push, since every stage already
// knows both its input and output type at construction time.
type Chain[In, Out any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	run      StatelessFunc[In, Out]
}

func newChain[In, Out any](name string, run StatelessFunc[In, Out]) *Chain[In, Out] {
	return &Chain[In, Out]{identity: obj.NewIdentity("", name), life: obj.NewLifecycle(), run: run}
}

// IdentityChain returns a chain that passes its input through unchanged.
func IdentityChain[T any]() *Chain[T, T] {
	return newChain[T, T]("bidi.identity", func(ctx context.Context, v T) (T, error) {
		return v, nil
	})
}

// New builds a chain from a single stateless processor.
func New[In, Out any](fn StatelessFunc[In, Out]) *Chain[In, Out] {
	return newChain("bidi.stage", fn)
}

// NewStateful builds a chain from a factory. The factory is invoked
// exactly once, lazily, the first time Next is called; every later call
// reuses the same processor closure, letting it retain state across
// calls (counters, accumulators, buffers).
func NewStateful[In, Out any](factory FactoryFunc[In, Out]) *Chain[In, Out] {
	var once sync.Once
	var proc StatelessFunc[In, Out]
	return newChain[In, Out]("bidi.stateful", func(ctx context.Context, v In) (Out, error) {
		once.Do(func() { proc = factory() })
		return proc(ctx, v)
	})
}

// NewPrimed adapts a generator-shaped stage (the `input = yield output`
// pattern): fn is invoked once with the zero value of In on first use and
// its result discarded, so the caller never observes the priming step;
// every real call after that passes the caller's actual input straight
// through.
func NewPrimed[In, Out any](fn StatelessFunc[In, Out]) *Chain[In, Out] {
	var once sync.Once
	var primeErr error
	return newChain[In, Out]("bidi.primed", func(ctx context.Context, v In) (Out, error) {
		once.Do(func() {
			var zero In
			_, primeErr = fn(ctx, zero)
		})
		if primeErr != nil {
			var zero Out
			return zero, primeErr
		}
		return fn(ctx, v)
	})
}

// Identity returns the chain's Obj identity.
func (c *Chain[In, Out]) Identity() obj.Identity { return c.identity }

// Next runs input through the chain once. A mid-processing error
// propagates to the caller but leaves the chain open: the next call to
// Next may still succeed.
func (c *Chain[In, Out]) Next(ctx context.Context, v In) (obj.IteratorResult[Out], error) {
	if c.life.Done() {
		return obj.Finished[Out](), nil
	}
	out, err := c.run(ctx, v)
	if err != nil {
		return obj.IteratorResult[Out]{}, errs.StageWork(err)
	}
	return obj.Yield(out), nil
}

// Return permanently closes the chain; subsequent Next calls resolve to
// done.
func (c *Chain[In, Out]) Return(ctx context.Context, v Out) (obj.IteratorResult[Out], error) {
	c.life.Close(false)
	return obj.Finished[Out](), nil
}

// Throw permanently closes the chain with an error; subsequent Next calls
// resolve to done.
func (c *Chain[In, Out]) Throw(ctx context.Context, err error) (obj.IteratorResult[Out], error) {
	c.life.Close(true)
	return obj.Finished[Out](), nil
}

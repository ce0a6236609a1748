package bidi

import "context"

// Tap observes the output of c without altering it, returning a new chain
// and leaving c untouched.
func (c *Chain[In, Out]) Tap(fn func(ctx context.Context, v Out)) *Chain[In, Out] {
	run := c.run
	return newChain[In, Out]("bidi.tap", func(ctx context.Context, v In) (Out, error) {
		out, err := run(ctx, v)
		if err != nil {
			return out, err
		}
		fn(ctx, out)
		return out, nil
	})
}

// Map appends a stateless transform to c's output, returning a new chain
// of the transform's output type. A free function rather than a method,
// since Go methods cannot introduce a new type parameter.
func Map[In, Mid, Out any](c *Chain[In, Mid], fn StatelessFunc[Mid, Out]) *Chain[In, Out] {
	run := c.run
	return newChain[In, Out]("bidi.map", func(ctx context.Context, v In) (Out, error) {
		mid, err := run(ctx, v)
		if err != nil {
			var zero Out
			return zero, err
		}
		return fn(ctx, mid)
	})
}

// Then appends an entire chain after c, returning a new chain from c's
// input type to next's output type.
func Then[In, Mid, Out any](c *Chain[In, Mid], next *Chain[Mid, Out]) *Chain[In, Out] {
	run := c.run
	nextRun := next.run
	return newChain[In, Out]("bidi.then", func(ctx context.Context, v In) (Out, error) {
		mid, err := run(ctx, v)
		if err != nil {
			var zero Out
			return zero, err
		}
		return nextRun(ctx, mid)
	})
}

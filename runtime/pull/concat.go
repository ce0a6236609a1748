package pull

import (
	"context"

	"goa.design/flow/runtime/obj"
)

// Concat yields every value of its first source, strictly before its
// second, and so on, completing when the last source is exhausted.
type Concat[T any] struct {
	combinatorBase[T]
	idx int
}

// NewConcat constructs a Concat combinator over sources, in order.
func NewConcat[T any](sources ...obj.Source[T]) *Concat[T] {
	return &Concat[T]{combinatorBase: newCombinatorBase("pull.concat", keyedFromSources(sources))}
}

// NewLabeledConcat is the labeled variant: it yields obj.LabeledValue[T]
// tagging each value with its source's key instead of bare T.
func NewLabeledConcat[T any](entries []KeyedSource[T]) *LabeledConcat[T] {
	return &LabeledConcat[T]{combinatorBase: newCombinatorBase("pull.labeled_concat", entries)}
}

// Next advances strictly source-by-source.
func (c *Concat[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	for {
		if c.life.Done() {
			return obj.Finished[T](), nil
		}
		if c.idx >= len(c.sources) {
			c.life.Close(false)
			return obj.Finished[T](), nil
		}
		res, err := c.sources[c.idx].Next(ctx)
		if err != nil {
			return obj.IteratorResult[T]{}, err
		}
		if res.Done {
			c.idx++
			continue
		}
		return obj.Yield(res.Value), nil
	}
}

// Return closes every held source.
func (c *Concat[T]) Return(ctx context.Context) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), c.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (c *Concat[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), c.closeAll(ctx, true, err)
}

// LabeledConcat is the labeled variant of Concat.
type LabeledConcat[T any] struct {
	combinatorBase[T]
	idx int
}

// Next advances strictly source-by-source, tagging each value with its key.
func (c *LabeledConcat[T]) Next(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	for {
		if c.life.Done() {
			return obj.Finished[obj.LabeledValue[T]](), nil
		}
		if c.idx >= len(c.sources) {
			c.life.Close(false)
			return obj.Finished[obj.LabeledValue[T]](), nil
		}
		res, err := c.sources[c.idx].Next(ctx)
		if err != nil {
			return obj.IteratorResult[obj.LabeledValue[T]]{}, err
		}
		if res.Done {
			c.idx++
			continue
		}
		return obj.Yield(obj.LabeledValue[T]{Key: c.keys[c.idx], Value: res.Value}), nil
	}
}

// Return closes every held source.
func (c *LabeledConcat[T]) Return(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), c.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (c *LabeledConcat[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), c.closeAll(ctx, true, err)
}

package pull

import (
	"context"

	"goa.design/flow/runtime/obj"
)

// RoundRobin rotates strictly through its sources (0, 1, ..., k-1, 0, 1, ...),
// skipping exhausted slots, completing when all sources are exhausted.
type RoundRobin[T any] struct {
	combinatorBase[T]
	cursor    int
	exhausted []bool
}

// NewRoundRobin constructs a RoundRobin combinator over sources.
func NewRoundRobin[T any](sources ...obj.Source[T]) *RoundRobin[T] {
	return &RoundRobin[T]{
		combinatorBase: newCombinatorBase("pull.round_robin", keyedFromSources(sources)),
		exhausted:      make([]bool, len(sources)),
	}
}

// NewLabeledRoundRobin is the labeled variant.
func NewLabeledRoundRobin[T any](entries []KeyedSource[T]) *LabeledRoundRobin[T] {
	return &LabeledRoundRobin[T]{
		combinatorBase: newCombinatorBase("pull.labeled_round_robin", entries),
		exhausted:      make([]bool, len(entries)),
	}
}

func (r *RoundRobin[T]) allExhausted() bool {
	for _, e := range r.exhausted {
		if !e {
			return false
		}
	}
	return true
}

// Next advances the rotation cursor, skipping any exhausted slot, until a
// value is yielded or every slot is exhausted.
func (r *RoundRobin[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if r.life.Done() {
		return obj.Finished[T](), nil
	}
	n := len(r.sources)
	for tries := 0; tries < n; tries++ {
		idx := r.cursor
		r.cursor = (r.cursor + 1) % n
		if r.exhausted[idx] {
			continue
		}
		res, err := r.sources[idx].Next(ctx)
		if err != nil {
			return obj.IteratorResult[T]{}, err
		}
		if res.Done {
			r.exhausted[idx] = true
			continue
		}
		return obj.Yield(res.Value), nil
	}
	r.life.Close(false)
	return obj.Finished[T](), nil
}

// Return closes every held source.
func (r *RoundRobin[T]) Return(ctx context.Context) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *RoundRobin[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), r.closeAll(ctx, true, err)
}

// LabeledRoundRobin is the labeled variant of RoundRobin.
type LabeledRoundRobin[T any] struct {
	combinatorBase[T]
	cursor    int
	exhausted []bool
}

// Next advances the rotation cursor, tagging each value with its key.
func (r *LabeledRoundRobin[T]) Next(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	if r.life.Done() {
		return obj.Finished[obj.LabeledValue[T]](), nil
	}
	n := len(r.sources)
	for tries := 0; tries < n; tries++ {
		idx := r.cursor
		r.cursor = (r.cursor + 1) % n
		if r.exhausted[idx] {
			continue
		}
		res, err := r.sources[idx].Next(ctx)
		if err != nil {
			return obj.IteratorResult[obj.LabeledValue[T]]{}, err
		}
		if res.Done {
			r.exhausted[idx] = true
			continue
		}
		return obj.Yield(obj.LabeledValue[T]{Key: r.keys[idx], Value: res.Value}), nil
	}
	r.life.Close(false)
	return obj.Finished[obj.LabeledValue[T]](), nil
}

// Return closes every held source.
func (r *LabeledRoundRobin[T]) Return(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *LabeledRoundRobin[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, true, err)
}

package pull

import (
	"context"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
)

// InOrder reorders upstream values by a monotonic key, buffering
// out-of-order arrivals until the next expected key shows up. KeyFn extracts
// the key; NextKey advances the expected key after each yield; Start is the
// first expected key. BufferCap bounds the out-of-order buffer; zero means
// unbounded.
type InOrder[T any, K comparable] struct {
	linkBase[T, T]
	KeyFn     func(T) K
	NextKey   func(K) K
	BufferCap int

	expected K
	buffered map[K]T
}

// NewInOrder constructs an InOrder link expecting keys starting at start and
// advancing via nextKey.
func NewInOrder[T any, K comparable](upstream obj.Source[T], keyFn func(T) K, start K, nextKey func(K) K, bufferCap int) *InOrder[T, K] {
	return &InOrder[T, K]{
		linkBase:  newLinkBase[T, T]("pull.in_order", upstream),
		KeyFn:     keyFn,
		NextKey:   nextKey,
		BufferCap: bufferCap,
		expected:  start,
		buffered:  make(map[K]T),
	}
}

// Next yields the value for the currently expected key, either from the
// reorder buffer or by pulling upstream until it arrives.
func (o *InOrder[T, K]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	for {
		if o.life.Done() {
			return obj.Finished[T](), nil
		}
		if v, ok := o.buffered[o.expected]; ok {
			delete(o.buffered, o.expected)
			o.expected = o.NextKey(o.expected)
			return obj.Yield(v), nil
		}
		res, err := o.upstream.Next(ctx)
		if err != nil {
			return obj.IteratorResult[T]{}, err
		}
		if res.Done {
			o.life.Close(false)
			return obj.Finished[T](), nil
		}
		k := o.KeyFn(res.Value)
		if k == o.expected {
			o.expected = o.NextKey(o.expected)
			return obj.Yield(res.Value), nil
		}
		if o.BufferCap > 0 && len(o.buffered) >= o.BufferCap {
			return obj.IteratorResult[T]{}, errs.Protocol("pull: in-order buffer capacity exceeded")
		}
		o.buffered[k] = res.Value
	}
}

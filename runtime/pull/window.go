package pull

import (
	"context"

	"goa.design/flow/runtime/obj"
)

// Window collects upstream values into fixed-size groups of N, yielding each
// full group. On upstream exhaustion, any partial trailing group (length
// less than N) is not yielded; it is attached to the terminal result's Value
// inspectable by the caller via the final Next() call.
type Window[T any] struct {
	linkBase[T, []T]
	N       int
	pending []T
}

// NewWindow constructs a Window link collecting groups of exactly n.
func NewWindow[T any](upstream obj.Source[T], n int) *Window[T] {
	return &Window[T]{linkBase: newLinkBase[T, []T]("pull.window", upstream), N: n}
}

// Next accumulates upstream values until N have been collected, then yields
// the group. On exhaustion with a non-empty partial group, the group is
// returned as the terminal result's value rather than yielded.
func (w *Window[T]) Next(ctx context.Context) (obj.IteratorResult[[]T], error) {
	if w.life.Done() {
		return obj.Finished[[]T](), nil
	}
	for {
		res, err := w.upstream.Next(ctx)
		if err != nil {
			return obj.IteratorResult[[]T]{}, err
		}
		if res.Done {
			w.life.Close(false)
			if len(w.pending) == 0 {
				return obj.Finished[[]T](), nil
			}
			partial := w.pending
			w.pending = nil
			return obj.FinishedWith(partial), nil
		}
		w.pending = append(w.pending, res.Value)
		if len(w.pending) >= w.N {
			group := w.pending
			w.pending = nil
			return obj.Yield(group), nil
		}
	}
}

// BufferCondFunc reports whether the accumulated buffer should flush.
type BufferCondFunc[T any] func(current []T) bool

// Buffer flushes its accumulated group whenever Cond(currentBuffer) is true.
// On exhaustion, a remaining buffer satisfying Cond is the terminal result's
// value rather than being yielded (symmetric with Window).
type Buffer[T any] struct {
	linkBase[T, []T]
	Cond    BufferCondFunc[T]
	pending []T
}

// NewBuffer constructs a Buffer link using cond to decide when to flush.
func NewBuffer[T any](upstream obj.Source[T], cond BufferCondFunc[T]) *Buffer[T] {
	return &Buffer[T]{linkBase: newLinkBase[T, []T]("pull.buffer", upstream), Cond: cond}
}

// Next accumulates upstream values, flushing whenever Cond reports true.
func (b *Buffer[T]) Next(ctx context.Context) (obj.IteratorResult[[]T], error) {
	if b.life.Done() {
		return obj.Finished[[]T](), nil
	}
	for {
		res, err := b.upstream.Next(ctx)
		if err != nil {
			return obj.IteratorResult[[]T]{}, err
		}
		if res.Done {
			b.life.Close(false)
			if len(b.pending) == 0 {
				return obj.Finished[[]T](), nil
			}
			partial := b.pending
			b.pending = nil
			return obj.FinishedWith(partial), nil
		}
		b.pending = append(b.pending, res.Value)
		if b.Cond(b.pending) {
			group := b.pending
			b.pending = nil
			return obj.Yield(group), nil
		}
	}
}

package pull

import (
	"context"

	"goa.design/flow/runtime/obj"
)

// EagerPrefetch keeps up to N in-flight upstream Next() calls at once. Each
// downstream Next() returns the oldest pending result and issues one more
// upstream pull, so the prefetch window stays full while upstream completion
// order is preserved FIFO.
type EagerPrefetch[T any] struct {
	linkBase[T, T]
	N         int
	queue     []chan timeoutResult[T]
	started   bool
	exhausted bool
}

// NewEagerPrefetch constructs an EagerPrefetch link keeping up to n upstream
// pulls in flight.
func NewEagerPrefetch[T any](upstream obj.Source[T], n int) *EagerPrefetch[T] {
	if n < 1 {
		n = 1
	}
	return &EagerPrefetch[T]{linkBase: newLinkBase[T, T]("pull.eager_prefetch", upstream), N: n}
}

func (e *EagerPrefetch[T]) issue(ctx context.Context) {
	if e.exhausted {
		return
	}
	ch := make(chan timeoutResult[T], 1)
	e.queue = append(e.queue, ch)
	go func() {
		res, err := e.upstream.Next(ctx)
		ch <- timeoutResult[T]{res: res, err: err}
	}()
}

// Next returns the oldest in-flight result, topping up the prefetch window
// with one new upstream pull on each successful, non-terminal yield.
func (e *EagerPrefetch[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if e.life.Done() {
		return obj.Finished[T](), nil
	}
	if !e.started {
		e.started = true
		for i := 0; i < e.N; i++ {
			e.issue(ctx)
		}
	}
	if len(e.queue) == 0 {
		e.life.Close(false)
		return obj.Finished[T](), nil
	}
	ch := e.queue[0]
	e.queue = e.queue[1:]

	select {
	case r := <-ch:
		if r.err != nil {
			return obj.IteratorResult[T]{}, r.err
		}
		if r.res.Done {
			e.exhausted = true
			if len(e.queue) == 0 {
				e.life.Close(false)
			}
			return obj.Finished[T](), nil
		}
		e.issue(ctx)
		return obj.Yield(r.res.Value), nil
	case <-ctx.Done():
		return obj.IteratorResult[T]{}, ctx.Err()
	}
}

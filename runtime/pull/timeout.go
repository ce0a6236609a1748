package pull

import (
	"context"
	"time"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
)

type timeoutResult[T any] struct {
	res obj.IteratorResult[T]
	err error
}

// Timeout races an upstream Next() against a Duration timer. On timeout, it
// either throws (ThrowOnTimeout true) or silently retries (false); in both
// cases the in-flight upstream pull is never cancelled: upstream must be
// safe to have its result observed later. The discarded in-flight pull is
// retained and delivered as the *next* successful Next() once it resolves,
// so no upstream value is ever silently dropped.
type Timeout[T any] struct {
	linkBase[T, T]
	Duration       time.Duration
	ThrowOnTimeout bool
	pending        chan timeoutResult[T]
}

// NewTimeout constructs a Timeout link with the given deadline per pull.
func NewTimeout[T any](upstream obj.Source[T], duration time.Duration, throwOnTimeout bool) *Timeout[T] {
	return &Timeout[T]{
		linkBase:       newLinkBase[T, T]("pull.timeout", upstream),
		Duration:       duration,
		ThrowOnTimeout: throwOnTimeout,
	}
}

// Next races the upstream pull (reusing any still-pending one from a prior
// timeout) against the deadline, looping on timeout when ThrowOnTimeout is
// false.
func (t *Timeout[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	for {
		if t.life.Done() {
			return obj.Finished[T](), nil
		}
		ch := t.pending
		if ch == nil {
			ch = make(chan timeoutResult[T], 1)
			t.pending = ch
			go func() {
				res, err := t.upstream.Next(ctx)
				ch <- timeoutResult[T]{res: res, err: err}
			}()
		}

		timer := time.NewTimer(t.Duration)
		select {
		case r := <-ch:
			timer.Stop()
			t.pending = nil
			if r.err != nil {
				return obj.IteratorResult[T]{}, r.err
			}
			if r.res.Done {
				t.life.Close(false)
			}
			return r.res, nil
		case <-timer.C:
			if t.ThrowOnTimeout {
				return obj.IteratorResult[T]{}, errs.Timeout("pull: upstream next timed out")
			}
			// Retain ch in t.pending and retry; the in-flight pull keeps
			// running and will be observed by a later Next() call.
			continue
		case <-ctx.Done():
			timer.Stop()
			return obj.IteratorResult[T]{}, ctx.Err()
		}
	}
}

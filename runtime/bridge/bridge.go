// Package bridge connects the pull and push engines: PushToPull exposes an
// eagerly-filled buffer as a demand-driven source, and SideEffect lets a
// pull chain fan a copy of every value out to one or more push sinks as it
// flows through.
package bridge

import (
	"context"
	"errors"
	"sync"

	"goa.design/flow/runtime/obj"
	"goa.design/flow/runtime/wait"
)

type pushPullState[T any] struct {
	mu           sync.Mutex
	queue        []T
	sinkReturned bool
	terminalErr  error
	signal       *wait.WaitObject[struct{}]
}

// BufferSink is the producer side of a push-to-pull buffer.
type BufferSink[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	state    *pushPullState[T]
}

// BufferSource is the consumer side of a push-to-pull buffer.
type BufferSource[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	state    *pushPullState[T]
}

// PushToPull returns a paired (sink, source) over a shared, unbounded,
// ordered container: the sink appends, the source drains in order. The
// source reports done only once the sink has been returned (or thrown)
// and the container is empty.
func PushToPull[T any]() (*BufferSink[T], *BufferSource[T]) {
	state := &pushPullState[T]{signal: wait.New[struct{}]()}
	return &BufferSink[T]{identity: obj.NewIdentity("", "bridge.buffer_sink"), life: obj.NewLifecycle(), state: state},
		&BufferSource[T]{identity: obj.NewIdentity("", "bridge.buffer_source"), life: obj.NewLifecycle(), state: state}
}

// Identity implements obj.Sink.
func (s *BufferSink[T]) Identity() obj.Identity { return s.identity }

// Next appends v to the shared container and wakes a source blocked
// waiting for it.
func (s *BufferSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if s.life.Done() {
		return obj.Finished[T](), nil
	}
	s.state.mu.Lock()
	s.state.queue = append(s.state.queue, v)
	s.state.mu.Unlock()
	s.state.signal.Resolve(struct{}{})
	return obj.Yield(v), nil
}

func (s *BufferSink[T]) closeState(err error) {
	s.state.mu.Lock()
	s.state.sinkReturned = true
	s.state.terminalErr = err
	s.state.mu.Unlock()
	s.state.signal.Resolve(struct{}{})
}

// Return marks the buffer as having no further values; the paired source
// reports done once it has drained the remaining container.
func (s *BufferSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if s.life.Close(false) {
		s.closeState(nil)
	}
	return obj.Finished[T](), nil
}

// Throw marks the buffer closed with an error; once the paired source has
// drained the remaining container, its next call surfaces err instead of
// reporting plain completion.
func (s *BufferSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if s.life.Close(true) {
		s.closeState(err)
	}
	return obj.Finished[T](), nil
}

// Identity implements obj.Source.
func (s *BufferSource[T]) Identity() obj.Identity { return s.identity }

// Next returns the oldest buffered value, waiting for the paired sink to
// append one if the container is currently empty.
func (s *BufferSource[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if s.life.Done() {
		return obj.Finished[T](), nil
	}
	for {
		s.state.mu.Lock()
		if len(s.state.queue) > 0 {
			v := s.state.queue[0]
			s.state.queue = s.state.queue[1:]
			s.state.mu.Unlock()
			return obj.Yield(v), nil
		}
		sinkDone := s.state.sinkReturned
		terminalErr := s.state.terminalErr
		s.state.mu.Unlock()
		if sinkDone {
			if terminalErr != nil {
				s.life.Close(true)
				return obj.IteratorResult[T]{}, terminalErr
			}
			s.life.Close(false)
			return obj.Finished[T](), nil
		}
		if _, err := s.state.signal.Wait(ctx); err != nil {
			return obj.IteratorResult[T]{}, err
		}
	}
}

// Return closes the source side without affecting the paired sink.
func (s *BufferSource[T]) Return(ctx context.Context) (obj.IteratorResult[T], error) {
	s.life.Close(false)
	return obj.Finished[T](), nil
}

// Throw closes the source side with an error without affecting the paired
// sink.
func (s *BufferSource[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	s.life.Close(true)
	return obj.Finished[T](), nil
}

// SideEffect pulls from upstream and, on every value, delivers a copy to
// every attached push sink (sequentially, awaiting each) before yielding
// it to its own caller.
type SideEffect[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	upstream obj.Source[T]
	sinks    []obj.Sink[T]
}

// NewSideEffect wraps upstream, fanning every pulled value out to sinks
// before yielding it.
func NewSideEffect[T any](upstream obj.Source[T], sinks ...obj.Sink[T]) *SideEffect[T] {
	return &SideEffect[T]{identity: obj.NewIdentity("", "bridge.side_effect"), life: obj.NewLifecycle(), upstream: upstream, sinks: sinks}
}

// Identity implements obj.Source.
func (s *SideEffect[T]) Identity() obj.Identity { return s.identity }

// Next pulls one value from upstream, delivers it to every sink in order,
// and yields it.
func (s *SideEffect[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if s.life.Done() {
		return obj.Finished[T](), nil
	}
	res, err := s.upstream.Next(ctx)
	if err != nil {
		return obj.IteratorResult[T]{}, err
	}
	if res.Done {
		s.life.Close(false)
		return res, nil
	}
	for _, sink := range s.sinks {
		if _, err := sink.Next(ctx, res.Value); err != nil {
			return obj.IteratorResult[T]{}, err
		}
	}
	return obj.Yield(res.Value), nil
}

// Return propagates to upstream and to every attached sink.
func (s *SideEffect[T]) Return(ctx context.Context) (obj.IteratorResult[T], error) {
	if !s.life.Close(false) {
		return obj.Finished[T](), nil
	}
	var errList []error
	if _, err := s.upstream.Return(ctx); err != nil {
		errList = append(errList, err)
	}
	var zero T
	for _, sink := range s.sinks {
		if _, err := sink.Return(ctx, zero); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

// Throw propagates to upstream and to every attached sink.
func (s *SideEffect[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if !s.life.Close(true) {
		return obj.Finished[T](), nil
	}
	var errList []error
	if _, uerr := s.upstream.Throw(ctx, err); uerr != nil {
		errList = append(errList, uerr)
	}
	for _, sink := range s.sinks {
		if _, serr := sink.Throw(ctx, err); serr != nil {
			errList = append(errList, serr)
		}
	}
	if len(errList) > 0 {
		return obj.IteratorResult[T]{}, errors.Join(errList...)
	}
	return obj.Finished[T](), nil
}

package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/flow/runtime/obj"
)

// valuesSource yields each value in values in order, then reports done.
type valuesSource[T any] struct {
	identity obj.Identity
	values   []T
	pos      int
}

func newValuesSource[T any](values ...T) *valuesSource[T] {
	return &valuesSource[T]{identity: obj.NewIdentity("", "test.values_source"), values: values}
}

func (s *valuesSource[T]) Identity() obj.Identity { return s.identity }
func (s *valuesSource[T]) Next(ctx context.Context) (obj.IteratorResult[T], error) {
	if s.pos >= len(s.values) {
		return obj.Finished[T](), nil
	}
	v := s.values[s.pos]
	s.pos++
	if s.pos == len(s.values) {
		return obj.FinishedWith(v), nil
	}
	return obj.Yield(v), nil
}
func (s *valuesSource[T]) Return(ctx context.Context) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), nil
}
func (s *valuesSource[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), nil
}

func drainEnvelopes[K comparable, T any](t *testing.T, src obj.Source[TaskProgressEnvelope[K, T]]) ([]TaskProgressEnvelope[K, T], error) {
	t.Helper()
	ctx := context.Background()
	var out []TaskProgressEnvelope[K, T]
	for {
		res, err := src.Next(ctx)
		if err != nil {
			return out, err
		}
		if res.Done {
			return out, nil
		}
		out = append(out, res.Value)
	}
}

func TestPoolRunsSingleTaskToCompletion(t *testing.T) {
	graph := NewDependencyGraph[string]()
	require.NoError(t, graph.AddNode("a"))
	priority := NewPriorityDependencySource[string](graph, func(k string) float64 { return 1 }, 0, 0)
	capacity := NewResourceCapacitySource(Cost{"capacity": 1}, nil)

	tasks := map[string]TaskSpec[string, int]{
		"a": {Key: "a", Cost: Cost{"capacity": 1}, Run: func(ctx context.Context) (obj.Source[int], error) {
			return newValuesSource(42), nil
		}},
	}
	pool := NewPool[string, int](priority, capacity, tasks)
	envelopes, err := drainEnvelopes[string, int](t, pool.Run(context.Background(), false))
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	require.Equal(t, EnvelopeFinal, envelopes[0].Type)
	require.Equal(t, 42, envelopes[0].Value)
	require.Equal(t, Cost{"capacity": 1}, capacity.Available())
}

// TestPoolDiamondNeverExceedsMemoryBudget grounds spec scenario 5: A -> {B, C}
// -> D, capacity {capacity: 2, memory_gb: 8}. B and C each cost memory_gb: 6,
// so their combined cost (12) exceeds the 8 available — they must never run
// concurrently even though both become ready at the same time.
func TestPoolDiamondNeverExceedsMemoryBudget(t *testing.T) {
	graph := NewDependencyGraph[string]()
	require.NoError(t, graph.AddNode("A"))
	require.NoError(t, graph.AddNode("B", "A"))
	require.NoError(t, graph.AddNode("C", "A"))
	require.NoError(t, graph.AddNode("D", "B", "C"))

	priority := NewPriorityDependencySource[string](graph, func(k string) float64 { return 1 }, 0, 0)
	capacity := NewResourceCapacitySource(Cost{"capacity": 2, "memory_gb": 8}, nil)

	var mu sync.Mutex
	var concurrentBC int
	var maxConcurrentBC int
	track := func(delta int) {
		mu.Lock()
		concurrentBC += delta
		if concurrentBC > maxConcurrentBC {
			maxConcurrentBC = concurrentBC
		}
		mu.Unlock()
	}

	runHeavy := func(ctx context.Context) (obj.Source[string], error) {
		track(1)
		time.Sleep(15 * time.Millisecond)
		track(-1)
		return newValuesSource("done"), nil
	}

	tasks := map[string]TaskSpec[string, string]{
		"A": {Key: "A", Cost: Cost{"capacity": 1}, Run: func(ctx context.Context) (obj.Source[string], error) {
			return newValuesSource("done"), nil
		}},
		"B": {Key: "B", Cost: Cost{"capacity": 1, "memory_gb": 6}, Run: runHeavy},
		"C": {Key: "C", Cost: Cost{"capacity": 1, "memory_gb": 6}, Run: runHeavy},
		"D": {Key: "D", Cost: Cost{"capacity": 1}, Run: func(ctx context.Context) (obj.Source[string], error) {
			return newValuesSource("done"), nil
		}},
	}

	pool := NewPool[string, string](priority, capacity, tasks)
	envelopes, err := drainEnvelopes[string, string](t, pool.Run(context.Background(), false))
	require.NoError(t, err)
	require.Len(t, envelopes, 4)
	require.LessOrEqual(t, maxConcurrentBC, 1)
	require.Equal(t, Cost{"capacity": 2, "memory_gb": 8}, capacity.Available())
}

// TestPoolRetrySucceedsOnThirdAttempt grounds spec scenario 6: task X fails
// twice, then succeeds; exactly three runner invocations occur, the envelope
// stream is [ERROR(X), ERROR(X), FINAL(X)], and cost is released (not
// double-counted) after each attempt.
func TestPoolRetrySucceedsOnThirdAttempt(t *testing.T) {
	graph := NewDependencyGraph[string]()
	require.NoError(t, graph.AddNode("X"))
	priority := NewPriorityDependencySource[string](graph, func(k string) float64 { return 1 }, 0, 0)
	capacity := NewResourceCapacitySource(Cost{"capacity": 1}, nil)

	var attempts int32
	failThenSucceed := func(ctx context.Context) (obj.Source[int], error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, fmt.Errorf("attempt %d failed", n)
		}
		return newValuesSource(7), nil
	}

	tasks := map[string]TaskSpec[string, int]{
		"X": {Key: "X", Cost: Cost{"capacity": 1}, Run: failThenSucceed},
	}
	pool := NewPool[string, int](priority, capacity, tasks)

	// Fail() re-enters the ready pool and is re-enqueued automatically via
	// the graph's ready event, so a single Run call drives all three
	// attempts through to completion.
	envelopes, err := drainEnvelopes[string, int](t, pool.Run(context.Background(), false))
	require.NoError(t, err)

	require.Len(t, envelopes, 3)
	require.Equal(t, EnvelopeError, envelopes[0].Type)
	require.Equal(t, EnvelopeError, envelopes[1].Type)
	require.Equal(t, EnvelopeFinal, envelopes[2].Type)
	require.Equal(t, 7, envelopes[2].Value)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.Equal(t, Cost{"capacity": 1}, capacity.Available())
}

func TestPoolStopOnErrorRethrowsAndHaltsScheduling(t *testing.T) {
	graph := NewDependencyGraph[string]()
	require.NoError(t, graph.AddNode("a"))
	require.NoError(t, graph.AddNode("b"))
	priority := NewPriorityDependencySource[string](graph, func(k string) float64 { return 1 }, 0, 0)
	capacity := NewResourceCapacitySource(Cost{"capacity": 2}, nil)

	boom := errors.New("boom")
	tasks := map[string]TaskSpec[string, int]{
		"a": {Key: "a", Cost: Cost{"capacity": 1}, Run: func(ctx context.Context) (obj.Source[int], error) {
			return nil, boom
		}},
		"b": {Key: "b", Cost: Cost{"capacity": 1}, Run: func(ctx context.Context) (obj.Source[int], error) {
			time.Sleep(10 * time.Millisecond)
			return newValuesSource(1), nil
		}},
	}
	pool := NewPool[string, int](priority, capacity, tasks)
	_, err := drainEnvelopes[string, int](t, pool.Run(context.Background(), true))
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

// TestPoolOnErrorHookCanAbortPermanentlyFailingTask verifies that a host
// supplying OnError can bound an always-failing task's retries and halt the
// graph deterministically, rather than the pool retrying it forever.
func TestPoolOnErrorHookCanAbortPermanentlyFailingTask(t *testing.T) {
	graph := NewDependencyGraph[string]()
	require.NoError(t, graph.AddNode("X"))
	priority := NewPriorityDependencySource[string](graph, func(k string) float64 { return 1 }, 0, 0)
	capacity := NewResourceCapacitySource(Cost{"capacity": 1}, nil)

	var attempts int32
	alwaysFails := func(ctx context.Context) (obj.Source[int], error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("permanent failure")
	}

	const maxAttempts = 3
	tasks := map[string]TaskSpec[string, int]{
		"X": {
			Key:  "X",
			Cost: Cost{"capacity": 1},
			Run:  alwaysFails,
			OnError: func(key string, err error) {
				if atomic.LoadInt32(&attempts) >= maxAttempts {
					_, _ = priority.Abort(key)
					return
				}
				_ = priority.Fail(key)
			},
		},
	}
	pool := NewPool[string, int](priority, capacity, tasks)
	envelopes, err := drainEnvelopes[string, int](t, pool.Run(context.Background(), false))
	require.NoError(t, err)

	require.Len(t, envelopes, maxAttempts)
	for _, e := range envelopes {
		require.Equal(t, EnvelopeError, e.Type)
	}
	require.Equal(t, int32(maxAttempts), atomic.LoadInt32(&attempts))
	require.Equal(t, Cost{"capacity": 1}, capacity.Available())
	require.True(t, graph.IsDone())
}

func TestPoolConsumerCloseCancelsInFlight(t *testing.T) {
	graph := NewDependencyGraph[string]()
	require.NoError(t, graph.AddNode("a"))
	priority := NewPriorityDependencySource[string](graph, func(k string) float64 { return 1 }, 0, 0)
	capacity := NewResourceCapacitySource(Cost{"capacity": 1}, nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	tasks := map[string]TaskSpec[string, int]{
		"a": {Key: "a", Cost: Cost{"capacity": 1}, Run: func(ctx context.Context) (obj.Source[int], error) {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}},
	}
	pool := NewPool[string, int](priority, capacity, tasks)
	src := pool.Run(context.Background(), false)

	<-started
	_, err := src.Return(context.Background())
	require.NoError(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight task was not cancelled on consumer close")
	}
}

package push

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/flow/runtime/obj"
)

func TestIntoDeliversEveryValue(t *testing.T) {
	ctx := context.Background()
	chain, buf := ToArray(New[int]())
	for _, v := range []int{1, 2, 3} {
		_, err := chain.Next(ctx, v)
		require.NoError(t, err)
	}
	require.Equal(t, []int{1, 2, 3}, *buf)
}

func TestFilterDropsOddValues(t *testing.T) {
	ctx := context.Background()
	r := New[int]().Filter(func(ctx context.Context, v int) (bool, error) { return v%2 == 0, nil })
	chain, buf := ToArray(r)
	for _, v := range []int{1, 2, 3, 4} {
		_, err := chain.Next(ctx, v)
		require.NoError(t, err)
	}
	require.Equal(t, []int{2, 4}, *buf)
}

func TestForkDeliversToEveryBranchAndJoinsErrors(t *testing.T) {
	ctx := context.Background()
	r := New[int]()

	branchAChain, branchA := ToArray(New[int]())
	branchBSink := &failingSink[int]{}

	chain := Fork(r, branchAChain, branchBSink)

	_, err := chain.Next(ctx, 1)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "branch failed"))
	// Branch A still received the value despite branch B failing.
	require.Equal(t, []int{1}, *branchA)
	require.Equal(t, 1, branchBSink.calls)
}

type failingSink[T any] struct {
	identity obj.Identity
	calls    int
}

func (f *failingSink[T]) Identity() obj.Identity { return f.identity }
func (f *failingSink[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	f.calls++
	return obj.IteratorResult[T]{}, &brokenBranchError{}
}
func (f *failingSink[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), nil
}
func (f *failingSink[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	return obj.Finished[T](), nil
}

type brokenBranchError struct{}

func (e *brokenBranchError) Error() string { return "branch failed" }

func TestSerialExcludesConcurrentDelivery(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var order []int
	sink := newCallbackFnSink[int]([]func(context.Context, int){
		func(ctx context.Context, v int) {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
		},
	})
	serial := newSerialSink[int](sink)

	var wg sync.WaitGroup
	for _, v := range []int{1, 2, 3, 4, 5} {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_, err := serial.Next(ctx, v)
			require.NoError(t, err)
		}(v)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	seen := make(map[int]bool)
	for _, v := range order {
		require.False(t, seen[v], "value %d delivered more than once", v)
		seen[v] = true
	}
}

func TestWindowGroupsAndFlushesTrailingOnReturn(t *testing.T) {
	ctx := context.Background()
	collectChain, buf := ToArray(New[[]int]())
	chain := WindowTo(New[int](), 2, collectChain)

	for _, v := range []int{1, 2, 3} {
		_, err := chain.Next(ctx, v)
		require.NoError(t, err)
	}
	require.Equal(t, [][]int{{1, 2}}, *buf)

	var zero int
	_, err := chain.Return(ctx, zero)
	require.NoError(t, err)
	require.Equal(t, [][]int{{1, 2}, {3}}, *buf)
}

func TestMapChangesTypeAcrossBridge(t *testing.T) {
	ctx := context.Background()
	innerChain, buf := ToArray(New[string]())

	chain := MapTo(New[int](), func(ctx context.Context, v int) (string, error) {
		return strings.Repeat("x", v), nil
	}, innerChain)

	for _, v := range []int{1, 2, 3} {
		_, err := chain.Next(ctx, v)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"x", "xx", "xxx"}, *buf)
}

func TestInsertAfterRemoveMutateLiveChain(t *testing.T) {
	ctx := context.Background()
	r := New[int]()
	chain, buf := ToArray(r)

	doubleID, err := chain.InsertAfter(obj.Identity{}, "double", func(next obj.Sink[int]) obj.Sink[int] {
		return newTapSink(next, func(ctx context.Context, v int) {})
	})
	require.NoError(t, err)

	_, err = chain.Next(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int{1}, *buf)

	require.NoError(t, chain.Remove(doubleID))
	_, err = chain.Next(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, *buf)
}

func TestDistributeRoutesBySelector(t *testing.T) {
	ctx := context.Background()
	evens, bufEvens := ToArray(New[int]())
	odds, bufOdds := ToArray(New[int]())

	chain := Distribute(New[int](), func(ctx context.Context, v int) int {
		if v%2 == 0 {
			return 0
		}
		return 1
	}, evens, odds)

	for _, v := range []int{1, 2, 3, 4} {
		_, err := chain.Next(ctx, v)
		require.NoError(t, err)
	}
	require.Equal(t, []int{2, 4}, *bufEvens)
	require.Equal(t, []int{1, 3}, *bufOdds)
}

func TestRoundRobinToRotatesBranches(t *testing.T) {
	ctx := context.Background()
	chainA, bufA := ToArray(New[int]())
	chainB, bufB := ToArray(New[int]())

	chain := RoundRobinTo(New[int](), chainA, chainB)
	for _, v := range []int{1, 2, 3, 4} {
		_, err := chain.Next(ctx, v)
		require.NoError(t, err)
	}
	require.Equal(t, []int{1, 3}, *bufA)
	require.Equal(t, []int{2, 4}, *bufB)
}

package bidi

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrips(t *testing.T) {
	ctx := context.Background()
	chain := IdentityChain[int]()
	for _, v := range []int{1, 2, 3} {
		res, err := chain.Next(ctx, v)
		require.NoError(t, err)
		require.False(t, res.Done)
		require.Equal(t, v, res.Value)
	}
}

func TestStatefulAccumulator(t *testing.T) {
	ctx := context.Background()
	chain := NewStateful(func() StatelessFunc[int, int] {
		sum := 0
		return func(ctx context.Context, v int) (int, error) {
			sum += v
			return sum, nil
		}
	})

	res, err := chain.Next(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 10, res.Value)

	res, err = chain.Next(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, 30, res.Value)

	res, err = chain.Next(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 35, res.Value)
}

func TestFactoryInvokedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	var builds int
	chain := NewStateful(func() StatelessFunc[int, int] {
		builds++
		return func(ctx context.Context, v int) (int, error) { return v, nil }
	})
	for i := 0; i < 5; i++ {
		_, err := chain.Next(ctx, i)
		require.NoError(t, err)
	}
	require.Equal(t, 1, builds)
}

func TestPrimedGeneratorDiscardsFirstYield(t *testing.T) {
	ctx := context.Background()
	var calls []int
	chain := NewPrimed(func(ctx context.Context, v int) (int, error) {
		calls = append(calls, v)
		return v * 2, nil
	})

	res, err := chain.Next(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 10, res.Value)
	// The priming call (with the zero value) happened first and its
	// result was never surfaced to the caller.
	require.Equal(t, []int{0, 5}, calls)
}

func TestMapChangesOutputType(t *testing.T) {
	ctx := context.Background()
	base := New(func(ctx context.Context, v int) (int, error) { return v + 1, nil })
	chain := Map(base, func(ctx context.Context, v int) (string, error) {
		return "n=" + strconv.Itoa(v), nil
	})

	res, err := chain.Next(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, "n=5", res.Value)
}

func TestThenComposesTwoChains(t *testing.T) {
	ctx := context.Background()
	double := New(func(ctx context.Context, v int) (int, error) { return v * 2, nil })
	toString := New(func(ctx context.Context, v int) (string, error) { return strconv.Itoa(v), nil })

	chain := Then(double, toString)
	res, err := chain.Next(ctx, 21)
	require.NoError(t, err)
	require.Equal(t, "42", res.Value)
}

func TestTapObservesWithoutAltering(t *testing.T) {
	ctx := context.Background()
	var seen []int
	base := New(func(ctx context.Context, v int) (int, error) { return v + 1, nil })
	chain := base.Tap(func(ctx context.Context, v int) { seen = append(seen, v) })

	res, err := chain.Next(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, res.Value)
	require.Equal(t, []int{2}, seen)
}

func TestMidProcessingErrorLeavesChainOpen(t *testing.T) {
	ctx := context.Background()
	calls := 0
	chain := New(func(ctx context.Context, v int) (int, error) {
		calls++
		if calls == 1 {
			return 0, errBoom
		}
		return v, nil
	})

	_, err := chain.Next(ctx, 1)
	require.Error(t, err)

	res, err := chain.Next(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 7, res.Value)
}

func TestReturnPermanentlyClosesChain(t *testing.T) {
	ctx := context.Background()
	chain := IdentityChain[int]()
	_, err := chain.Return(ctx, 0)
	require.NoError(t, err)

	res, err := chain.Next(ctx, 1)
	require.NoError(t, err)
	require.True(t, res.Done)
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}

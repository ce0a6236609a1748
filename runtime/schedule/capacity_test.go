package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCapacityAcquireAndRelease(t *testing.T) {
	c := NewResourceCapacitySource(Cost{"capacity": 2}, nil)
	require.True(t, c.CanAcquire(Cost{"capacity": 2}))
	require.NoError(t, c.AcquireImmediate(Cost{"capacity": 2}))
	require.False(t, c.CanAcquire(Cost{"capacity": 1}))

	c.Release(Cost{"capacity": 2})
	require.Equal(t, Cost{"capacity": 2}, c.Available())
}

func TestCapacityAcquireInsufficientFails(t *testing.T) {
	c := NewResourceCapacitySource(Cost{"capacity": 1}, nil)
	err := c.AcquireImmediate(Cost{"capacity": 2})
	require.Error(t, err)
	require.Equal(t, Cost{"capacity": 1}, c.Available())
}

func TestCapacityHierarchyAllOrNothing(t *testing.T) {
	parent := NewResourceCapacitySource(Cost{"memory_gb": 4}, nil)
	child := NewResourceCapacitySource(Cost{"memory_gb": 100}, parent)

	// child alone has plenty, but parent only has 4.
	require.False(t, child.CanAcquire(Cost{"memory_gb": 5}))
	err := child.AcquireImmediate(Cost{"memory_gb": 5})
	require.Error(t, err)

	// nothing was decremented anywhere.
	require.Equal(t, Cost{"memory_gb": 100}, child.Available())
	require.Equal(t, Cost{"memory_gb": 4}, parent.Available())

	require.NoError(t, child.AcquireImmediate(Cost{"memory_gb": 4}))
	require.Equal(t, 96, child.Available()["memory_gb"])
	require.Equal(t, 0, parent.Available()["memory_gb"])
}

func TestCapacityWaitForReleaseWakesOnRelease(t *testing.T) {
	c := NewResourceCapacitySource(Cost{"capacity": 1}, nil)
	require.NoError(t, c.AcquireImmediate(Cost{"capacity": 1}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		waitErr = c.WaitForRelease(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Release(Cost{"capacity": 1})
	wg.Wait()
	require.NoError(t, waitErr)
}

func TestCapacityUnknownResourceUnconstrained(t *testing.T) {
	c := NewResourceCapacitySource(Cost{"capacity": 1}, nil)
	require.True(t, c.CanAcquire(Cost{"gpu": 4}))
}

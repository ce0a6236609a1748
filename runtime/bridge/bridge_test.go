package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/flow/runtime/obj"
)

func TestPushToPullDrainsInOrder(t *testing.T) {
	ctx := context.Background()
	sink, source := PushToPull[int]()

	for _, v := range []int{1, 2, 3} {
		_, err := sink.Next(ctx, v)
		require.NoError(t, err)
	}
	_, err := sink.Return(ctx, 0)
	require.NoError(t, err)

	var got []int
	for {
		res, err := source.Next(ctx)
		require.NoError(t, err)
		if res.Done {
			break
		}
		got = append(got, res.Value)
	}
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestPushToPullSourceWaitsForValue(t *testing.T) {
	ctx := context.Background()
	sink, source := PushToPull[string]()

	resultCh := make(chan obj.IteratorResult[string], 1)
	go func() {
		res, err := source.Next(ctx)
		require.NoError(t, err)
		resultCh <- res
	}()

	select {
	case <-resultCh:
		t.Fatal("source.Next returned before any value was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := sink.Next(ctx, "hello")
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.False(t, res.Done)
		require.Equal(t, "hello", res.Value)
	case <-time.After(time.Second):
		t.Fatal("source.Next never returned after push")
	}
}

func TestPushToPullDoneOnlyAfterSinkReturnedAndDrained(t *testing.T) {
	ctx := context.Background()
	sink, source := PushToPull[int]()

	_, err := sink.Next(ctx, 1)
	require.NoError(t, err)
	_, err = sink.Return(ctx, 0)
	require.NoError(t, err)

	res, err := source.Next(ctx)
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, 1, res.Value)

	res, err = source.Next(ctx)
	require.NoError(t, err)
	require.True(t, res.Done)
}

func TestPushToPullThrowSurfacesErrorAfterDrain(t *testing.T) {
	ctx := context.Background()
	sink, source := PushToPull[int]()
	boom := errors.New("boom")

	_, err := sink.Next(ctx, 1)
	require.NoError(t, err)
	_, err = sink.Throw(ctx, boom)
	require.NoError(t, err)

	res, err := source.Next(ctx)
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, 1, res.Value)

	_, err = source.Next(ctx)
	require.ErrorIs(t, err, boom)
}

type sliceSource struct {
	identity obj.Identity
	life     *obj.Lifecycle
	values   []int
	pos      int
}

func newSliceSource(values []int) *sliceSource {
	return &sliceSource{identity: obj.NewIdentity("", "test.slice_source"), life: obj.NewLifecycle(), values: values}
}

func (s *sliceSource) Identity() obj.Identity { return s.identity }
func (s *sliceSource) Next(ctx context.Context) (obj.IteratorResult[int], error) {
	if s.pos >= len(s.values) {
		return obj.Finished[int](), nil
	}
	v := s.values[s.pos]
	s.pos++
	return obj.Yield(v), nil
}
func (s *sliceSource) Return(ctx context.Context) (obj.IteratorResult[int], error) {
	s.life.Close(false)
	return obj.Finished[int](), nil
}
func (s *sliceSource) Throw(ctx context.Context, err error) (obj.IteratorResult[int], error) {
	s.life.Close(true)
	return obj.Finished[int](), nil
}

type recordingSink struct {
	identity obj.Identity
	mu       sync.Mutex
	received []int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{identity: obj.NewIdentity("", "test.recording_sink")}
}
func (s *recordingSink) Identity() obj.Identity { return s.identity }
func (s *recordingSink) Next(ctx context.Context, v int) (obj.IteratorResult[int], error) {
	s.mu.Lock()
	s.received = append(s.received, v)
	s.mu.Unlock()
	return obj.Yield(v), nil
}
func (s *recordingSink) Return(ctx context.Context, v int) (obj.IteratorResult[int], error) {
	return obj.Finished[int](), nil
}
func (s *recordingSink) Throw(ctx context.Context, err error) (obj.IteratorResult[int], error) {
	return obj.Finished[int](), nil
}

func TestSideEffectDeliversToEverySinkBeforeYielding(t *testing.T) {
	ctx := context.Background()
	upstream := newSliceSource([]int{1, 2, 3})
	sinkA, sinkB := newRecordingSink(), newRecordingSink()
	se := NewSideEffect[int](upstream, sinkA, sinkB)

	var out []int
	for {
		res, err := se.Next(ctx)
		require.NoError(t, err)
		if res.Done {
			break
		}
		out = append(out, res.Value)
	}

	require.Equal(t, []int{1, 2, 3}, out)
	require.Equal(t, []int{1, 2, 3}, sinkA.received)
	require.Equal(t, []int{1, 2, 3}, sinkB.received)
}

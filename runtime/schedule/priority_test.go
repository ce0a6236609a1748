package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrioritySourcePeekHighestPriority(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("low"))
	require.NoError(t, g.AddNode("high"))

	priorities := map[string]float64{"low": 1, "high": 10}
	s := NewPriorityDependencySource[string](g, func(k string) float64 { return priorities[k] }, 0, 0)

	key, ok := s.Peek()
	require.True(t, ok)
	require.Equal(t, "high", key)
}

func TestPrioritySourceFIFOTiebreak(t *testing.T) {
	g := NewDependencyGraph[string]()
	s := NewPriorityDependencySource[string](g, func(k string) float64 { return 1 }, 0, 0)

	require.NoError(t, g.AddNode("first"))
	require.NoError(t, g.AddNode("second"))

	key, ok := s.Peek()
	require.True(t, ok)
	require.Equal(t, "first", key)
}

func TestPrioritySourceConsumeRemovesFromQueue(t *testing.T) {
	g := NewDependencyGraph[string]()
	s := NewPriorityDependencySource[string](g, func(k string) float64 { return 1 }, 0, 0)
	require.NoError(t, g.AddNode("a"))

	key, ok := s.Peek()
	require.True(t, ok)
	require.Equal(t, "a", key)
	s.Consume("a")

	_, ok = s.Peek()
	require.False(t, ok)
}

func TestPrioritySourceAgingEventuallyOutranksHigherBase(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("stale"))

	s := NewPriorityDependencySource[string](g, func(k string) float64 {
		if k == "fresh" {
			return 100
		}
		return 1
	}, /* agingRate */ 1000, /* maxAgeBoost */ 1e6)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, g.AddNode("fresh"))

	key, ok := s.Peek()
	require.True(t, ok)
	require.Equal(t, "stale", key)
}

func TestPrioritySourceFailReenqueues(t *testing.T) {
	g := NewDependencyGraph[string]()
	s := NewPriorityDependencySource[string](g, func(k string) float64 { return 1 }, 0, 0)
	require.NoError(t, g.AddNode("a"))

	key, _ := s.Peek()
	s.Consume(key)
	require.NoError(t, g.Start("a"))
	require.NoError(t, s.Fail("a"))

	_, ok := s.Peek()
	require.True(t, ok)
}

func TestPrioritySourceAbortRemovesFromQueue(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	require.NoError(t, g.AddNode("b", "a"))
	s := NewPriorityDependencySource[string](g, func(k string) float64 { return 1 }, 0, 0)

	aborted, err := s.Abort("a")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, aborted)

	_, ok := s.Peek()
	require.False(t, ok)
}

func TestPrioritySourceWaitForReadyWakes(t *testing.T) {
	g := NewDependencyGraph[string]()
	s := NewPriorityDependencySource[string](g, func(k string) float64 { return 1 }, 0, 0)

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { done <- s.WaitForReady(ctx) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, g.AddNode("a"))

	require.NoError(t, <-done)
}

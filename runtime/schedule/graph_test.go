package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/runtime/errs"
)

func TestGraphAddNodeBecomesReadyWithNoDeps(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	state, ok := g.State("a")
	require.True(t, ok)
	require.Equal(t, StateReady, state)
}

func TestGraphAddNodePendingUntilDepsComplete(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	require.NoError(t, g.AddNode("b", "a"))
	state, _ := g.State("b")
	require.Equal(t, StatePending, state)

	require.NoError(t, g.Start("a"))
	newlyReady, err := g.Complete("a")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, newlyReady)

	state, _ = g.State("b")
	require.Equal(t, StateReady, state)
}

func TestGraphAddNodeUnknownDependencyFails(t *testing.T) {
	g := NewDependencyGraph[string]()
	err := g.AddNode("b", "a")
	require.Error(t, err)
	require.True(t, errs.IsKind(err, errs.KindProtocol))
}

func TestGraphStartRequiresReady(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	require.NoError(t, g.AddNode("b", "a"))
	err := g.Start("b")
	require.Error(t, err)
}

func TestGraphOnReadyFiresForFirstReadyAndRetry(t *testing.T) {
	g := NewDependencyGraph[string]()
	var seen []string
	g.OnReady(func(key string) { seen = append(seen, key) })

	require.NoError(t, g.AddNode("a"))
	require.NoError(t, g.Start("a"))
	require.NoError(t, g.Fail("a"))

	require.Equal(t, []string{"a", "a"}, seen)
}

func TestGraphCompleteRequiresRunning(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	_, err := g.Complete("a")
	require.Error(t, err)
}

func TestGraphAbortCascadesButStopsAtCompleted(t *testing.T) {
	// a -> b -> d, a -> c -> d (diamond)
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	require.NoError(t, g.AddNode("b", "a"))
	require.NoError(t, g.AddNode("c", "a"))
	require.NoError(t, g.AddNode("d", "b", "c"))

	require.NoError(t, g.Start("a"))
	_, err := g.Complete("a")
	require.NoError(t, err)

	require.NoError(t, g.Start("b"))
	_, err = g.Complete("b")
	require.NoError(t, err)

	// c never completes; abort it. d must become aborted, b must stay
	// completed (already finished on this path).
	aborted, err := g.Abort("c")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c", "d"}, aborted)

	bState, _ := g.State("b")
	require.Equal(t, StateCompleted, bState)
	dState, _ := g.State("d")
	require.Equal(t, StateAborted, dState)
}

func TestGraphAbortIsIdempotent(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	first, err := g.Abort("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, first)

	second, err := g.Abort("a")
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestGraphIsDone(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	require.False(t, g.IsDone())

	require.NoError(t, g.Start("a"))
	_, err := g.Complete("a")
	require.NoError(t, err)
	require.True(t, g.IsDone())
}

func TestGraphKeysInState(t *testing.T) {
	g := NewDependencyGraph[string]()
	require.NoError(t, g.AddNode("a"))
	require.NoError(t, g.AddNode("b", "a"))
	require.ElementsMatch(t, []string{"a"}, g.Ready())
	require.ElementsMatch(t, []string{"b"}, g.Pending())
}

package pull

import (
	"context"

	"goa.design/flow/runtime/obj"
)

// KeyedSource pairs a source with an explicit label for labeled combinator
// variants, which yield obj.LabeledValue[T] instead of a bare T.
type KeyedSource[T any] struct {
	Key    string
	Source obj.Source[T]
}

// combinatorBase holds the state shared by every N-to-1 combinator: identity,
// lifecycle, and the ordered collection of upstream sources plus their keys
// (used only by labeled variants; unlabeled variants ignore keys). Return and
// Throw must propagate to every held source.
type combinatorBase[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	sources  []obj.Source[T]
	keys     []string
}

func newCombinatorBase[T any](name string, entries []KeyedSource[T]) combinatorBase[T] {
	sources := make([]obj.Source[T], len(entries))
	keys := make([]string, len(entries))
	for i, e := range entries {
		sources[i] = e.Source
		keys[i] = e.Key
	}
	return combinatorBase[T]{
		identity: obj.NewIdentity("", name),
		life:     obj.NewLifecycle(),
		sources:  sources,
		keys:     keys,
	}
}

func keyedFromSources[T any](sources []obj.Source[T]) []KeyedSource[T] {
	entries := make([]KeyedSource[T], len(sources))
	for i, s := range sources {
		entries[i] = KeyedSource[T]{Source: s}
	}
	return entries
}

// Identity returns the combinator's identity.
func (c *combinatorBase[T]) Identity() obj.Identity { return c.identity }

// closeAll closes the combinator's own lifecycle and, the first time it
// transitions, propagates Return/Throw to every held source.
func (c *combinatorBase[T]) closeAll(ctx context.Context, thrown bool, cause error) error {
	if !c.life.Close(thrown) {
		return nil
	}
	var firstErr error
	for _, s := range c.sources {
		var err error
		if thrown {
			_, err = s.Throw(ctx, cause)
		} else {
			_, err = s.Return(ctx)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

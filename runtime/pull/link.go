package pull

import (
	"context"

	"goa.design/flow/runtime/obj"
)

// linkBase holds the state shared by every 1-to-1 pull link: identity,
// lifecycle, and the single upstream source it owns. Concrete link types
// embed it and implement their own Next.
type linkBase[In, Out any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	upstream obj.Source[In]
}

func newLinkBase[In, Out any](name string, upstream obj.Source[In]) linkBase[In, Out] {
	return linkBase[In, Out]{
		identity: obj.NewIdentity("", name),
		life:     obj.NewLifecycle(),
		upstream: upstream,
	}
}

// Identity returns the link's identity.
func (l *linkBase[In, Out]) Identity() obj.Identity { return l.identity }

// closeOnce closes this link's own lifecycle and, the first time it
// transitions, propagates Return/Throw to the owned upstream source exactly
// once: a stage that owns upstream sources must propagate return/throw to
// them exactly once.
func (l *linkBase[In, Out]) closeOnce(ctx context.Context, thrown bool, cause error) (obj.IteratorResult[Out], error) {
	if !l.life.Close(thrown) {
		return obj.Finished[Out](), nil
	}
	if thrown {
		_, err := l.upstream.Throw(ctx, cause)
		return obj.Finished[Out](), err
	}
	_, err := l.upstream.Return(ctx)
	return obj.Finished[Out](), err
}

// Return closes the link and propagates to upstream.
func (l *linkBase[In, Out]) Return(ctx context.Context) (obj.IteratorResult[Out], error) {
	return l.closeOnce(ctx, false, nil)
}

// Throw closes the link and propagates to upstream.
func (l *linkBase[In, Out]) Throw(ctx context.Context, err error) (obj.IteratorResult[Out], error) {
	return l.closeOnce(ctx, true, err)
}

package push

import (
	"context"
	"fmt"
	"sync"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
)

// Chain is the live push chain a terminal method resolves a Recipe into. It
// implements obj.Sink[T] and additionally supports structural mutation
// (InsertAfter, Remove, Replace) while values are in flight, serializing
// mutation against delivery so neither corrupts the other.
type Chain[T any] struct {
	identity obj.Identity
	life     *obj.Lifecycle
	mu       sync.Mutex
	stages   []recipeEntry[T]
	terminal obj.Sink[T]
	built    obj.Sink[T]
	dirty    bool
}

// NewChain resolves a Recipe against terminal, returning a mutable live
// chain. The recipe's own stage identities carry over, so a caller that
// held onto them (e.g. from Recipe.Stages) can target InsertAfter/Remove/
// Replace by the same value.
func NewChain[T any](r *Recipe[T], terminal obj.Sink[T]) *Chain[T] {
	stages := make([]recipeEntry[T], len(r.ops))
	copy(stages, r.ops)
	return &Chain[T]{
		identity: obj.NewIdentity("", "push.chain"),
		life:     obj.NewLifecycle(),
		stages:   stages,
		terminal: terminal,
		dirty:    true,
	}
}

// Stages returns the identities of every stage currently in the chain, in
// order, for use with InsertAfter/Remove/Replace.
func (c *Chain[T]) Stages() []obj.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]obj.Identity, len(c.stages))
	for i, s := range c.stages {
		ids[i] = s.id
	}
	return ids
}

func (c *Chain[T]) indexOf(id obj.Identity) int {
	for i, s := range c.stages {
		if s.id.Key == id.Key {
			return i
		}
	}
	return -1
}

// InsertAfter splices a new stage immediately after the stage identified by
// after, returning the new stage's identity. Pass a zero obj.Identity to
// insert at the head of the chain.
func (c *Chain[T]) InsertAfter(after obj.Identity, name string, build stageBuilder[T]) (obj.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := recipeEntry[T]{id: obj.NewIdentity("", fmt.Sprintf("%s-ins", name)), build: build}
	if after.Key == "" {
		c.stages = append([]recipeEntry[T]{entry}, c.stages...)
		c.dirty = true
		return entry.id, nil
	}
	idx := c.indexOf(after)
	if idx < 0 {
		return obj.Identity{}, errs.Protocol(fmt.Sprintf("push.chain: no stage with identity %q", after.Key))
	}
	stages := make([]recipeEntry[T], 0, len(c.stages)+1)
	stages = append(stages, c.stages[:idx+1]...)
	stages = append(stages, entry)
	stages = append(stages, c.stages[idx+1:]...)
	c.stages = stages
	c.dirty = true
	return entry.id, nil
}

// Remove splices the stage identified by id out of the chain.
func (c *Chain[T]) Remove(id obj.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return errs.Protocol(fmt.Sprintf("push.chain: no stage with identity %q", id.Key))
	}
	c.stages = append(c.stages[:idx], c.stages[idx+1:]...)
	c.dirty = true
	return nil
}

// Replace swaps the stage identified by id for a newly built one, keeping
// its position in the chain. The replacement stage is assigned a fresh
// identity, which is returned.
func (c *Chain[T]) Replace(id obj.Identity, name string, build stageBuilder[T]) (obj.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return obj.Identity{}, errs.Protocol(fmt.Sprintf("push.chain: no stage with identity %q", id.Key))
	}
	entry := recipeEntry[T]{id: obj.NewIdentity("", fmt.Sprintf("%s-rep", name)), build: build}
	c.stages[idx] = entry
	c.dirty = true
	return entry.id, nil
}

func (c *Chain[T]) rebuildLocked() {
	stage := c.terminal
	for i := len(c.stages) - 1; i >= 0; i-- {
		stage = c.stages[i].build(stage)
	}
	c.built = stage
	c.dirty = false
}

func (c *Chain[T]) snapshot() obj.Sink[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty {
		c.rebuildLocked()
	}
	return c.built
}

// Identity implements obj.Sink.
func (c *Chain[T]) Identity() obj.Identity { return c.identity }

// Next delivers v through the chain as currently built.
func (c *Chain[T]) Next(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if c.life.Done() {
		return obj.Finished[T](), nil
	}
	return c.snapshot().Next(ctx, v)
}

// Return closes the chain, propagating to whatever the chain currently
// terminates in.
func (c *Chain[T]) Return(ctx context.Context, v T) (obj.IteratorResult[T], error) {
	if c.life.Close(false) {
		return c.snapshot().Return(ctx, v)
	}
	return obj.Finished[T](), nil
}

// Throw closes the chain with an error, propagating to whatever the chain
// currently terminates in.
func (c *Chain[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[T], error) {
	if c.life.Close(true) {
		return c.snapshot().Throw(ctx, err)
	}
	return obj.Finished[T](), nil
}

package pull

import (
	"context"
	"time"

	"goa.design/flow/runtime/obj"
)

type raceMsg[T any] struct {
	idx int
	res obj.IteratorResult[T]
	err error
}

// raceEngine holds the concurrent-pull plumbing shared by Race, RaceRobin,
// and RaceCutoff: one goroutine per in-flight upstream pull, funnelled into
// a single channel the combinator selects on.
type raceEngine[T any] struct {
	sources []obj.Source[T]
	ch      chan raceMsg[T]
	active  []bool
}

func newRaceEngine[T any](sources []obj.Source[T]) raceEngine[T] {
	return raceEngine[T]{
		sources: sources,
		ch:      make(chan raceMsg[T], len(sources)+1),
		active:  make([]bool, len(sources)),
	}
}

func (e *raceEngine[T]) launch(ctx context.Context, idx int) {
	go func() {
		res, err := e.sources[idx].Next(ctx)
		e.ch <- raceMsg[T]{idx: idx, res: res, err: err}
	}()
}

func (e *raceEngine[T]) anyActive() bool {
	for _, a := range e.active {
		if a {
			return true
		}
	}
	return false
}

func (e *raceEngine[T]) startAll(ctx context.Context) {
	for i := range e.sources {
		e.active[i] = true
		e.launch(ctx, i)
	}
}

func keyFor[T any](keys []string, sources []obj.Source[T], idx int) string {
	if keys[idx] != "" {
		return keys[idx]
	}
	return sources[idx].Identity().Key
}

// Race yields whichever upstream source resolves first, as an
// obj.AttributedResult so the consumer can identify the origin. Completes
// once every source is exhausted.
type Race[T any] struct {
	combinatorBase[T]
	engine  raceEngine[T]
	started bool
}

// NewRace constructs a Race combinator over sources.
func NewRace[T any](sources ...obj.Source[T]) *Race[T] {
	r := &Race[T]{combinatorBase: newCombinatorBase("pull.race", keyedFromSources(sources))}
	r.engine = newRaceEngine(r.sources)
	return r
}

// NewLabeledRace is the labeled variant, yielding obj.LabeledValue[T].
func NewLabeledRace[T any](entries []KeyedSource[T]) *LabeledRace[T] {
	r := &LabeledRace[T]{combinatorBase: newCombinatorBase("pull.labeled_race", entries)}
	r.engine = newRaceEngine(r.sources)
	return r
}

// Next waits for whichever active source resolves first.
func (r *Race[T]) Next(ctx context.Context) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	if r.life.Done() {
		return obj.Finished[obj.AttributedResult[T]](), nil
	}
	if !r.started {
		r.started = true
		r.engine.startAll(ctx)
	}
	for {
		if !r.engine.anyActive() {
			r.life.Close(false)
			return obj.Finished[obj.AttributedResult[T]](), nil
		}
		select {
		case msg := <-r.engine.ch:
			if msg.err != nil {
				r.engine.launch(ctx, msg.idx)
				return obj.IteratorResult[obj.AttributedResult[T]]{}, msg.err
			}
			if msg.res.Done {
				r.engine.active[msg.idx] = false
				continue
			}
			r.engine.launch(ctx, msg.idx)
			return obj.Yield(obj.AttributedResult[T]{
				Source: keyFor(r.keys, r.sources, msg.idx),
				Result: msg.res,
			}), nil
		case <-ctx.Done():
			return obj.IteratorResult[obj.AttributedResult[T]]{}, ctx.Err()
		}
	}
}

// Return closes every held source.
func (r *Race[T]) Return(ctx context.Context) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	return obj.Finished[obj.AttributedResult[T]](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *Race[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	return obj.Finished[obj.AttributedResult[T]](), r.closeAll(ctx, true, err)
}

// LabeledRace is the labeled variant of Race.
type LabeledRace[T any] struct {
	combinatorBase[T]
	engine  raceEngine[T]
	started bool
}

// Next waits for whichever active source resolves first, tagging it with
// its key.
func (r *LabeledRace[T]) Next(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	if r.life.Done() {
		return obj.Finished[obj.LabeledValue[T]](), nil
	}
	if !r.started {
		r.started = true
		r.engine.startAll(ctx)
	}
	for {
		if !r.engine.anyActive() {
			r.life.Close(false)
			return obj.Finished[obj.LabeledValue[T]](), nil
		}
		select {
		case msg := <-r.engine.ch:
			if msg.err != nil {
				r.engine.launch(ctx, msg.idx)
				return obj.IteratorResult[obj.LabeledValue[T]]{}, msg.err
			}
			if msg.res.Done {
				r.engine.active[msg.idx] = false
				continue
			}
			r.engine.launch(ctx, msg.idx)
			return obj.Yield(obj.LabeledValue[T]{Key: keyFor(r.keys, r.sources, msg.idx), Value: msg.res.Value}), nil
		case <-ctx.Done():
			return obj.IteratorResult[obj.LabeledValue[T]]{}, ctx.Err()
		}
	}
}

// Return closes every held source.
func (r *LabeledRace[T]) Return(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *LabeledRace[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, true, err)
}

// RaceRobin is a fair race: within each round, whichever active source
// resolves first is yielded first, but every active source must yield
// exactly once before the round advances.
type RaceRobin[T any] struct {
	combinatorBase[T]
	engine    raceEngine[T]
	yielded   []bool
	inFlight  []bool
	allActive bool
}

// NewRaceRobin constructs a RaceRobin combinator over sources.
func NewRaceRobin[T any](sources ...obj.Source[T]) *RaceRobin[T] {
	r := &RaceRobin[T]{
		combinatorBase: newCombinatorBase("pull.race_robin", keyedFromSources(sources)),
		yielded:        make([]bool, len(sources)),
		inFlight:       make([]bool, len(sources)),
	}
	r.engine = newRaceEngine(r.sources)
	for i := range r.sources {
		r.engine.active[i] = true
	}
	return r
}

// NewLabeledRaceRobin is the labeled variant.
func NewLabeledRaceRobin[T any](entries []KeyedSource[T]) *LabeledRaceRobin[T] {
	r := &LabeledRaceRobin[T]{
		combinatorBase: newCombinatorBase("pull.labeled_race_robin", entries),
		yielded:        make([]bool, len(entries)),
		inFlight:       make([]bool, len(entries)),
	}
	r.engine = newRaceEngine(r.sources)
	for i := range r.sources {
		r.engine.active[i] = true
	}
	return r
}

func raceRobinEnsureRound[T any](ctx context.Context, engine *raceEngine[T], yielded, inFlight []bool) {
	for i, active := range engine.active {
		if !active || yielded[i] || inFlight[i] {
			continue
		}
		inFlight[i] = true
		engine.launch(ctx, i)
	}
}

func raceRobinRoundComplete(active, yielded []bool) bool {
	for i, a := range active {
		if a && !yielded[i] {
			return false
		}
	}
	return true
}

func raceRobinResetRound(yielded []bool) {
	for i := range yielded {
		yielded[i] = false
	}
}

// Next waits for the next source to yield within the current round, starting
// a fresh round once every active source has yielded once.
func (r *RaceRobin[T]) Next(ctx context.Context) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	if r.life.Done() {
		return obj.Finished[obj.AttributedResult[T]](), nil
	}
	for {
		if !r.engine.anyActive() {
			r.life.Close(false)
			return obj.Finished[obj.AttributedResult[T]](), nil
		}
		raceRobinEnsureRound(ctx, &r.engine, r.yielded, r.inFlight)
		select {
		case msg := <-r.engine.ch:
			r.inFlight[msg.idx] = false
			if msg.err != nil {
				return obj.IteratorResult[obj.AttributedResult[T]]{}, msg.err
			}
			if msg.res.Done {
				r.engine.active[msg.idx] = false
				r.yielded[msg.idx] = false
				continue
			}
			r.yielded[msg.idx] = true
			if raceRobinRoundComplete(r.engine.active, r.yielded) {
				raceRobinResetRound(r.yielded)
			}
			return obj.Yield(obj.AttributedResult[T]{
				Source: keyFor(r.keys, r.sources, msg.idx),
				Result: msg.res,
			}), nil
		case <-ctx.Done():
			return obj.IteratorResult[obj.AttributedResult[T]]{}, ctx.Err()
		}
	}
}

// Return closes every held source.
func (r *RaceRobin[T]) Return(ctx context.Context) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	return obj.Finished[obj.AttributedResult[T]](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *RaceRobin[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	return obj.Finished[obj.AttributedResult[T]](), r.closeAll(ctx, true, err)
}

// LabeledRaceRobin is the labeled variant of RaceRobin.
type LabeledRaceRobin[T any] struct {
	combinatorBase[T]
	engine   raceEngine[T]
	yielded  []bool
	inFlight []bool
}

// Next waits for the next source to yield within the current round.
func (r *LabeledRaceRobin[T]) Next(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	if r.life.Done() {
		return obj.Finished[obj.LabeledValue[T]](), nil
	}
	for {
		if !r.engine.anyActive() {
			r.life.Close(false)
			return obj.Finished[obj.LabeledValue[T]](), nil
		}
		raceRobinEnsureRound(ctx, &r.engine, r.yielded, r.inFlight)
		select {
		case msg := <-r.engine.ch:
			r.inFlight[msg.idx] = false
			if msg.err != nil {
				return obj.IteratorResult[obj.LabeledValue[T]]{}, msg.err
			}
			if msg.res.Done {
				r.engine.active[msg.idx] = false
				r.yielded[msg.idx] = false
				continue
			}
			r.yielded[msg.idx] = true
			if raceRobinRoundComplete(r.engine.active, r.yielded) {
				raceRobinResetRound(r.yielded)
			}
			return obj.Yield(obj.LabeledValue[T]{Key: keyFor(r.keys, r.sources, msg.idx), Value: msg.res.Value}), nil
		case <-ctx.Done():
			return obj.IteratorResult[obj.LabeledValue[T]]{}, ctx.Err()
		}
	}
}

// Return closes every held source.
func (r *LabeledRaceRobin[T]) Return(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *LabeledRaceRobin[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, true, err)
}

// RaceCutoff races sources per Race with a per-wait deadline: when Cutoff
// elapses during one wait without any source resolving, every source whose
// pull is still pending is treated as exhausted and removed from future
// rounds, and a result it delivers later is dropped.
type RaceCutoff[T any] struct {
	combinatorBase[T]
	Cutoff   time.Duration
	engine   raceEngine[T]
	inFlight []bool
	started  bool
}

// NewRaceCutoff constructs a RaceCutoff combinator with the given per-wait
// deadline.
func NewRaceCutoff[T any](cutoff time.Duration, sources ...obj.Source[T]) *RaceCutoff[T] {
	r := &RaceCutoff[T]{
		combinatorBase: newCombinatorBase("pull.race_cutoff", keyedFromSources(sources)),
		Cutoff:         cutoff,
		inFlight:       make([]bool, len(sources)),
	}
	r.engine = newRaceEngine(r.sources)
	return r
}

// NewLabeledRaceCutoff is the labeled variant.
func NewLabeledRaceCutoff[T any](cutoff time.Duration, entries []KeyedSource[T]) *LabeledRaceCutoff[T] {
	r := &LabeledRaceCutoff[T]{
		combinatorBase: newCombinatorBase("pull.labeled_race_cutoff", entries),
		Cutoff:         cutoff,
		inFlight:       make([]bool, len(entries)),
	}
	r.engine = newRaceEngine(r.sources)
	return r
}

func raceCutoffLaunchAll[T any](ctx context.Context, engine *raceEngine[T], inFlight []bool) {
	if !engine.anyActive() {
		for i := range engine.active {
			engine.active[i] = true
		}
	}
	for i, active := range engine.active {
		if active && !inFlight[i] {
			inFlight[i] = true
			engine.launch(ctx, i)
		}
	}
}

// Next waits for whichever active source resolves first, discarding any
// source still pending once Cutoff elapses.
func (r *RaceCutoff[T]) Next(ctx context.Context) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	if r.life.Done() {
		return obj.Finished[obj.AttributedResult[T]](), nil
	}
	if !r.started {
		r.started = true
		for i := range r.sources {
			r.engine.active[i] = true
		}
	}
	for {
		if !r.engine.anyActive() {
			r.life.Close(false)
			return obj.Finished[obj.AttributedResult[T]](), nil
		}
		raceCutoffLaunchAll(ctx, &r.engine, r.inFlight)
		timer := time.NewTimer(r.Cutoff)
		select {
		case msg := <-r.engine.ch:
			timer.Stop()
			r.inFlight[msg.idx] = false
			if !r.engine.active[msg.idx] {
				continue
			}
			if msg.err != nil {
				return obj.IteratorResult[obj.AttributedResult[T]]{}, msg.err
			}
			if msg.res.Done {
				r.engine.active[msg.idx] = false
				continue
			}
			return obj.Yield(obj.AttributedResult[T]{
				Source: keyFor(r.keys, r.sources, msg.idx),
				Result: msg.res,
			}), nil
		case <-timer.C:
			for i, pending := range r.inFlight {
				if pending {
					r.engine.active[i] = false
					r.inFlight[i] = false
				}
			}
		case <-ctx.Done():
			timer.Stop()
			return obj.IteratorResult[obj.AttributedResult[T]]{}, ctx.Err()
		}
	}
}

// Return closes every held source.
func (r *RaceCutoff[T]) Return(ctx context.Context) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	return obj.Finished[obj.AttributedResult[T]](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *RaceCutoff[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.AttributedResult[T]], error) {
	return obj.Finished[obj.AttributedResult[T]](), r.closeAll(ctx, true, err)
}

// LabeledRaceCutoff is the labeled variant of RaceCutoff.
type LabeledRaceCutoff[T any] struct {
	combinatorBase[T]
	Cutoff   time.Duration
	engine   raceEngine[T]
	inFlight []bool
	started  bool
}

// Next waits for whichever active source resolves first, discarding any
// source still pending once Cutoff elapses, tagging yields with their key.
func (r *LabeledRaceCutoff[T]) Next(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	if r.life.Done() {
		return obj.Finished[obj.LabeledValue[T]](), nil
	}
	if !r.started {
		r.started = true
		for i := range r.sources {
			r.engine.active[i] = true
		}
	}
	for {
		if !r.engine.anyActive() {
			r.life.Close(false)
			return obj.Finished[obj.LabeledValue[T]](), nil
		}
		raceCutoffLaunchAll(ctx, &r.engine, r.inFlight)
		timer := time.NewTimer(r.Cutoff)
		select {
		case msg := <-r.engine.ch:
			timer.Stop()
			r.inFlight[msg.idx] = false
			if !r.engine.active[msg.idx] {
				continue
			}
			if msg.err != nil {
				return obj.IteratorResult[obj.LabeledValue[T]]{}, msg.err
			}
			if msg.res.Done {
				r.engine.active[msg.idx] = false
				continue
			}
			return obj.Yield(obj.LabeledValue[T]{Key: keyFor(r.keys, r.sources, msg.idx), Value: msg.res.Value}), nil
		case <-timer.C:
			for i, pending := range r.inFlight {
				if pending {
					r.engine.active[i] = false
					r.inFlight[i] = false
				}
			}
		case <-ctx.Done():
			timer.Stop()
			return obj.IteratorResult[obj.LabeledValue[T]]{}, ctx.Err()
		}
	}
}

// Return closes every held source.
func (r *LabeledRaceCutoff[T]) Return(ctx context.Context) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (r *LabeledRaceCutoff[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[obj.LabeledValue[T]], error) {
	return obj.Finished[obj.LabeledValue[T]](), r.closeAll(ctx, true, err)
}

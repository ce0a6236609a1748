package schedule

import (
	"context"
	"sync"
	"time"

	"goa.design/flow/runtime/wait"
)

// PriorityFunc supplies the base (non-aged) priority for a task key. Higher
// values run sooner.
type PriorityFunc[K comparable] func(key K) float64

type queuedTask[K comparable] struct {
	key     K
	base    float64
	readyAt time.Time
	seq     uint64
}

// PriorityDependencySource exposes a peek()/consume() view over a
// DependencyGraph's ready tasks, ordered by effective priority (base
// priority plus an aging boost) with FIFO tiebreak by ready-time. It
// subscribes to the graph's ready event at construction, so every node that
// becomes ready — whether for the first time or via a failed retry — is
// enqueued automatically.
type PriorityDependencySource[K comparable] struct {
	graph        *DependencyGraph[K]
	basePriority PriorityFunc[K]
	agingRate    float64
	maxAgeBoost  float64

	mu      sync.Mutex
	queue   map[K]*queuedTask[K]
	nextSeq uint64
	signal  *wait.WaitObject[struct{}]
}

// NewPriorityDependencySource constructs a source over graph. agingRate is
// the effective-priority boost accrued per millisecond of wait; maxAgeBoost caps
// that boost. A zero agingRate disables aging (matching the "no aging if
// omitted" default).
func NewPriorityDependencySource[K comparable](graph *DependencyGraph[K], basePriority PriorityFunc[K], agingRate, maxAgeBoost float64) *PriorityDependencySource[K] {
	s := &PriorityDependencySource[K]{
		graph:        graph,
		basePriority: basePriority,
		agingRate:    agingRate,
		maxAgeBoost:  maxAgeBoost,
		queue:        make(map[K]*queuedTask[K]),
		signal:       wait.New[struct{}](),
	}
	graph.OnReady(func(key K) {
		s.enqueue(key)
	})
	// Nodes that were already ready when this source was constructed (e.g.
	// dependency-free roots added before this source subscribed) are
	// picked up here so none are missed.
	for _, key := range graph.Ready() {
		s.enqueue(key)
	}
	return s
}

func (s *PriorityDependencySource[K]) enqueue(key K) {
	s.mu.Lock()
	if _, exists := s.queue[key]; exists {
		s.mu.Unlock()
		return
	}
	s.queue[key] = &queuedTask[K]{
		key:     key,
		base:    s.basePriority(key),
		readyAt: time.Now(),
		seq:     s.nextSeq,
	}
	s.nextSeq++
	s.mu.Unlock()
	s.signal.Resolve(struct{}{})
}

func (s *PriorityDependencySource[K]) effective(t *queuedTask[K], now time.Time) float64 {
	if s.agingRate <= 0 {
		return t.base
	}
	boost := s.agingRate * float64(now.Sub(t.readyAt)) / float64(time.Millisecond)
	if boost > s.maxAgeBoost {
		boost = s.maxAgeBoost
	}
	return t.base + boost
}

// Peek returns the key with the highest current effective priority among
// ready tasks, without removing it. Ties are broken by earliest ready-time,
// then by enqueue order. Returns false if no task is queued.
func (s *PriorityDependencySource[K]) Peek() (K, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero K
	var best *queuedTask[K]
	now := time.Now()
	var bestEff float64
	for _, t := range s.queue {
		eff := s.effective(t, now)
		if best == nil || eff > bestEff ||
			(eff == bestEff && t.readyAt.Before(best.readyAt)) ||
			(eff == bestEff && t.readyAt.Equal(best.readyAt) && t.seq < best.seq) {
			best, bestEff = t, eff
		}
	}
	if best == nil {
		return zero, false
	}
	return best.key, true
}

// Consume removes key from the ready queue; the caller has decided to start
// it.
func (s *PriorityDependencySource[K]) Consume(key K) {
	s.mu.Lock()
	delete(s.queue, key)
	s.mu.Unlock()
}

// Complete delegates to the underlying graph; any dependents it moves to
// ready are enqueued automatically via the subscribed ready event.
func (s *PriorityDependencySource[K]) Complete(key K) error {
	_, err := s.graph.Complete(key)
	return err
}

// Fail delegates to the underlying graph, which re-enters StateReady and is
// re-enqueued via the subscribed ready event.
func (s *PriorityDependencySource[K]) Fail(key K) error {
	return s.graph.Fail(key)
}

// Abort delegates to the underlying graph and removes every newly-aborted
// key from the ready queue (an aborted node must never be started).
func (s *PriorityDependencySource[K]) Abort(key K) ([]K, error) {
	aborted, err := s.graph.Abort(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, k := range aborted {
		delete(s.queue, k)
	}
	s.mu.Unlock()
	return aborted, nil
}

// IsDone delegates to the underlying graph.
func (s *PriorityDependencySource[K]) IsDone() bool { return s.graph.IsDone() }

// WaitForReady blocks until a task is enqueued (any task becoming ready), or
// ctx is done.
func (s *PriorityDependencySource[K]) WaitForReady(ctx context.Context) error {
	_, err := s.signal.Wait(ctx)
	return err
}

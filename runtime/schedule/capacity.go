package schedule

import (
	"context"
	"fmt"
	"sync"

	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/telemetry"
	"goa.design/flow/runtime/wait"
)

// Cost names resource quantities by resource name, e.g. {"capacity": 1,
// "memory_gb": 4}. A resource named in a cost that a source does not track
// is treated as unconstrained by that source (only resources the source
// itself was constructed with are checked).
type Cost map[string]int

// ResourceCapacitySource enforces atomic multi-resource acquisition with
// optional hierarchical aggregation: a child source with a parent must also
// clear the parent's (and the parent's parent's, and so on) capacity check
// before an acquisition succeeds, and every level's counters move together.
type ResourceCapacitySource struct {
	mu        sync.Mutex
	capacity  Cost
	available Cost
	parent    *ResourceCapacitySource
	signal    *wait.WaitObject[struct{}]

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// CapacityOption configures a ResourceCapacitySource at construction time.
type CapacityOption func(*ResourceCapacitySource)

// WithCapacityLogger attaches a logger called on every acquire and release.
func WithCapacityLogger(l telemetry.Logger) CapacityOption {
	return func(r *ResourceCapacitySource) { r.logger = l }
}

// WithCapacityMetrics attaches a metrics sink recording acquire/release
// activity and current availability.
func WithCapacityMetrics(m telemetry.Metrics) CapacityOption {
	return func(r *ResourceCapacitySource) { r.metrics = m }
}

// NewResourceCapacitySource constructs a source with the given total
// capacity per resource name, optionally aggregating into parent (nil for a
// root source).
func NewResourceCapacitySource(capacity Cost, parent *ResourceCapacitySource, opts ...CapacityOption) *ResourceCapacitySource {
	available := make(Cost, len(capacity))
	for name, amount := range capacity {
		available[name] = amount
	}
	r := &ResourceCapacitySource{
		capacity:  capacity,
		available: available,
		parent:    parent,
		signal:    wait.New[struct{}](),
		logger:    telemetry.NewNoopLogger(),
		metrics:   telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// chain returns this source followed by every ancestor, root last.
func (r *ResourceCapacitySource) chain() []*ResourceCapacitySource {
	chain := []*ResourceCapacitySource{r}
	for n := r.parent; n != nil; n = n.parent {
		chain = append(chain, n)
	}
	return chain
}

func (r *ResourceCapacitySource) canAcquireLocked(cost Cost) bool {
	for name, amount := range cost {
		if r.available[name] < amount {
			return false
		}
	}
	return true
}

// CanAcquire is a pure, synchronous check: true iff this source and every
// ancestor currently has at least the amount requested for every resource
// named in cost.
func (r *ResourceCapacitySource) CanAcquire(cost Cost) bool {
	for _, n := range r.chain() {
		n.mu.Lock()
		ok := n.canAcquireLocked(cost)
		n.mu.Unlock()
		if !ok {
			return false
		}
	}
	return true
}

// AcquireImmediate atomically decrements cost across this source and every
// ancestor. The check-then-decrement sequence across the whole chain is
// all-or-nothing: if any level lacks capacity, nothing is decremented
// anywhere and a KindCapacity error is returned.
func (r *ResourceCapacitySource) AcquireImmediate(cost Cost) error {
	chain := r.chain()
	for _, n := range chain {
		n.mu.Lock()
	}
	defer func() {
		for _, n := range chain {
			n.mu.Unlock()
		}
	}()
	for _, n := range chain {
		if !n.canAcquireLocked(cost) {
			r.metrics.IncCounter("schedule.capacity.denied", 1)
			return errs.Capacity(fmt.Sprintf("schedule: insufficient resources for cost %v", cost))
		}
	}
	for _, n := range chain {
		for name, amount := range cost {
			n.available[name] -= amount
		}
	}
	r.logger.Debug(context.Background(), "schedule: capacity acquired", "cost", cost)
	r.metrics.IncCounter("schedule.capacity.acquired", 1)
	return nil
}

// Release atomically increments cost across this source and every ancestor,
// then signals each level's WaitObject so a scheduler blocked on a
// capacity-release wakes up.
func (r *ResourceCapacitySource) Release(cost Cost) {
	for _, n := range r.chain() {
		n.mu.Lock()
		for name, amount := range cost {
			n.available[name] += amount
		}
		n.mu.Unlock()
		n.signal.Resolve(struct{}{})
	}
	r.logger.Debug(context.Background(), "schedule: capacity released", "cost", cost)
	r.metrics.IncCounter("schedule.capacity.released", 1)
}

// WaitForRelease blocks until this source's next Release call, or ctx is
// done. Intended for a scheduler loop retrying a capacity check after
// observing CanAcquire return false.
func (r *ResourceCapacitySource) WaitForRelease(ctx context.Context) error {
	_, err := r.signal.Wait(ctx)
	return err
}

// Available returns a snapshot of this source's current per-resource
// available amounts (not including ancestor constraints).
func (r *ResourceCapacitySource) Available() Cost {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Cost, len(r.available))
	for name, amount := range r.available {
		out[name] = amount
	}
	return out
}

package schedule

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestResourceBoundProperty verifies the scheduler's resource bound
// invariant: AcquireImmediate never leaves a source's available amount
// negative, regardless of the sequence of capacities and costs tried
// against it.
func TestResourceBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("available never goes negative after an acquire attempt", prop.ForAll(
		func(capacity, cost int) bool {
			c := NewResourceCapacitySource(Cost{"capacity": capacity}, nil)
			_ = c.AcquireImmediate(Cost{"capacity": cost})
			return c.Available()["capacity"] >= 0
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 100),
	))

	properties.Property("a successful acquire plus its matching release restores availability", prop.ForAll(
		func(capacity, cost int) bool {
			if cost > capacity {
				return true // not acquirable; nothing to check
			}
			c := NewResourceCapacitySource(Cost{"capacity": capacity}, nil)
			if err := c.AcquireImmediate(Cost{"capacity": cost}); err != nil {
				return false
			}
			c.Release(Cost{"capacity": cost})
			return c.Available()["capacity"] == capacity
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// TestHierarchyRespectProperty verifies that a child source's acquisition
// is bounded by its parent's availability even when the child's own
// capacity is far larger — the all-or-nothing chain check must reject at
// the parent level.
func TestHierarchyRespectProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("child acquire never exceeds parent availability", prop.ForAll(
		func(parentCapacity, cost int) bool {
			parent := NewResourceCapacitySource(Cost{"memory_gb": parentCapacity}, nil)
			child := NewResourceCapacitySource(Cost{"memory_gb": 1_000_000}, parent)

			err := child.AcquireImmediate(Cost{"memory_gb": cost})
			if cost > parentCapacity {
				return err != nil && parent.Available()["memory_gb"] == parentCapacity
			}
			return err == nil && parent.Available()["memory_gb"] == parentCapacity-cost
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

package schedule

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPriorityObedienceProperty verifies that, with aging disabled, Peek
// always returns a key whose base priority is the maximum among every key
// currently queued — no lower-priority task is ever chosen while a
// higher-priority one is waiting.
func TestPriorityObedienceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("peek returns a maximal-priority key", prop.ForAll(
		func(priorities []int) bool {
			if len(priorities) == 0 {
				return true
			}
			g := NewDependencyGraph[string]()
			base := make(map[string]float64, len(priorities))
			maxP := priorities[0]
			for i, p := range priorities {
				key := fmt.Sprintf("task-%d", i)
				base[key] = float64(p)
				if p > maxP {
					maxP = p
				}
				if err := g.AddNode(key); err != nil {
					return false
				}
			}
			s := NewPriorityDependencySource[string](g, func(k string) float64 { return base[k] }, 0, 0)
			key, ok := s.Peek()
			if !ok {
				return false
			}
			return base[key] == float64(maxP)
		},
		gen.SliceOfN(8, gen.IntRange(-10, 10)),
	))

	properties.TestingRun(t)
}

// TestPeekConsumeAtomicityProperty verifies that repeatedly peeking without
// consuming never mutates the queue, and that a peek immediately followed
// by a consume removes exactly the key that was peeked, leaving every
// other queued key untouched.
func TestPeekConsumeAtomicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("peek is read-only and consume removes exactly one key", prop.ForAll(
		func(n int) bool {
			g := NewDependencyGraph[string]()
			for i := 0; i < n; i++ {
				if err := g.AddNode(fmt.Sprintf("task-%d", i)); err != nil {
					return false
				}
			}
			s := NewPriorityDependencySource[string](g, func(k string) float64 { return 1 }, 0, 0)

			first, ok := s.Peek()
			if n == 0 {
				return !ok
			}
			if !ok {
				return false
			}
			second, _ := s.Peek()
			if first != second {
				return false
			}
			s.Consume(first)
			third, stillOk := s.Peek()
			if stillOk && third == first {
				return false
			}
			return true
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

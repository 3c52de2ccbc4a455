package profile

import (
	"math/rand"
	"sort"

	"github.com/wesleyorama2/trackload/internal/performance/operation"
)

// Selector picks operations with probability weight_i / sum(weight_j) over
// selectable entries. It holds no state between picks and is safe for
// concurrent use; the random source is supplied per call.
type Selector struct {
	ops        []operation.Operation
	cumulative []int
	total      int
}

// NewSelector precomputes cumulative weights for catalog.
func NewSelector(catalog []operation.Operation) *Selector {
	s := &Selector{}
	for _, op := range catalog {
		if !op.Selectable() {
			continue
		}
		s.total += op.Weight
		s.ops = append(s.ops, op)
		s.cumulative = append(s.cumulative, s.total)
	}
	return s
}

// Pick returns the chosen operation, or false when nothing is selectable.
// A false result is an idle tick, not an error.
func (s *Selector) Pick(rng *rand.Rand) (operation.Operation, bool) {
	if s.total == 0 {
		return operation.Operation{}, false
	}
	r := rng.Intn(s.total)
	i := sort.Search(len(s.cumulative), func(i int) bool { return s.cumulative[i] > r })
	return s.ops[i], true
}

// Total is the sum of selectable weights.
func (s *Selector) Total() int {
	return s.total
}

// Package profile bundles operation weights and pacing into named behavior
// profiles and picks operations from them by weight.
package profile

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/wesleyorama2/trackload/internal/performance/operation"
	"github.com/wesleyorama2/trackload/internal/tracker"
)

// Pacing is the uniform wait range between a user's cycles.
type Pacing struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// Validate checks 0 <= Min <= Max.
func (p Pacing) Validate() error {
	if p.Min < 0 || p.Max < 0 {
		return fmt.Errorf("pacing must not be negative (min %v, max %v)", p.Min, p.Max)
	}
	if p.Min > p.Max {
		return fmt.Errorf("pacing min %v exceeds max %v", p.Min, p.Max)
	}
	return nil
}

// Next draws a wait uniformly from [Min, Max]. When Min == Max the wait is
// exactly Min.
func (p Pacing) Next(rng *rand.Rand) time.Duration {
	span := p.Max - p.Min
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(rng.Int63n(int64(span)+1))
}

// BehaviorProfile is an immutable bundle of catalog and pacing.
type BehaviorProfile struct {
	Name    string
	Pacing  Pacing
	Queries tracker.QuerySet

	catalog []operation.Operation
}

// New builds a profile. The catalog is copied.
func New(name string, pacing Pacing, catalog []operation.Operation) (BehaviorProfile, error) {
	if name == "" {
		return BehaviorProfile{}, fmt.Errorf("profile name is required")
	}
	if err := pacing.Validate(); err != nil {
		return BehaviorProfile{}, fmt.Errorf("profile %q: %w", name, err)
	}

	seen := make(map[string]bool, len(catalog))
	for _, op := range catalog {
		if seen[op.Name] {
			return BehaviorProfile{}, fmt.Errorf("profile %q: duplicate operation %q", name, op.Name)
		}
		if op.Weight < 0 {
			return BehaviorProfile{}, fmt.Errorf("profile %q: operation %q has negative weight", name, op.Name)
		}
		seen[op.Name] = true
	}

	return BehaviorProfile{
		Name:    name,
		Pacing:  pacing,
		catalog: append([]operation.Operation(nil), catalog...),
	}, nil
}

// Catalog returns a copy of the profile's operations in catalog order.
func (p BehaviorProfile) Catalog() []operation.Operation {
	return append([]operation.Operation(nil), p.catalog...)
}

// Operation returns the catalog entry with the given name.
func (p BehaviorProfile) Operation(name string) (operation.Operation, bool) {
	for _, op := range p.catalog {
		if op.Name == name {
			return op, true
		}
	}
	return operation.Operation{}, false
}

// Weights maps operation names to effective weights; disabled entries are 0.
func (p BehaviorProfile) Weights() map[string]int {
	out := make(map[string]int, len(p.catalog))
	for _, op := range p.catalog {
		if op.Selectable() {
			out[op.Name] = op.Weight
		} else {
			out[op.Name] = 0
		}
	}
	return out
}

// Override changes one catalog entry. Nil fields keep the base value.
type Override struct {
	Weight  *int
	Enabled *bool
}

// Derive returns a new profile based on p. Overrides for operations absent
// from p's catalog append them, enabled unless stated otherwise. The receiver
// is not modified.
func (p BehaviorProfile) Derive(name string, pacing *Pacing, overrides map[string]Override) (BehaviorProfile, error) {
	catalog := p.Catalog()

	names := make([]string, 0, len(overrides))
	for opName := range overrides {
		names = append(names, opName)
	}
	sort.Strings(names)

	for _, opName := range names {
		ov := overrides[opName]
		idx := -1
		for i := range catalog {
			if catalog[i].Name == opName {
				idx = i
				break
			}
		}
		if idx < 0 {
			weight := 0
			if ov.Weight != nil {
				weight = *ov.Weight
			}
			op, err := operation.New(opName, weight)
			if err != nil {
				return BehaviorProfile{}, fmt.Errorf("profile %q: %w", name, err)
			}
			catalog = append(catalog, op)
			idx = len(catalog) - 1
		}
		if ov.Weight != nil {
			catalog[idx].Weight = *ov.Weight
		}
		if ov.Enabled != nil {
			catalog[idx].Enabled = *ov.Enabled
		}
	}

	pc := p.Pacing
	if pacing != nil {
		pc = *pacing
	}

	derived, err := New(name, pc, catalog)
	if err != nil {
		return BehaviorProfile{}, err
	}
	derived.Queries = p.Queries
	return derived, nil
}

// NewSelector returns a selector over this profile's catalog.
func (p BehaviorProfile) NewSelector() *Selector {
	return NewSelector(p.catalog)
}

package profile

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/trackload/internal/config"
)

// MixEntry is a profile and its share of the population.
type MixEntry struct {
	Profile BehaviorProfile
	Weight  int
}

// Mix assigns profiles to users.
type Mix struct {
	entries []MixEntry
	total   int
}

// NewMix validates entries. Entries with weight 0 never receive users.
func NewMix(entries []MixEntry) (*Mix, error) {
	m := &Mix{}
	for _, e := range entries {
		if e.Weight < 0 {
			return nil, fmt.Errorf("profile %q: negative population weight", e.Profile.Name)
		}
		m.total += e.Weight
		m.entries = append(m.entries, e)
	}
	if m.total == 0 {
		return nil, fmt.Errorf("profile mix has no positive weight")
	}
	return m, nil
}

// Assign returns one profile per user using smooth weighted round-robin, so
// counts are proportional to weight and profiles are interleaved through
// the ramp-up.
func (m *Mix) Assign(users int) []BehaviorProfile {
	out := make([]BehaviorProfile, 0, users)
	current := make([]int, len(m.entries))

	for u := 0; u < users; u++ {
		best := -1
		for i, e := range m.entries {
			current[i] += e.Weight
			if best < 0 || current[i] > current[best] {
				best = i
			}
		}
		current[best] -= m.total
		out = append(out, m.entries[best].Profile)
	}
	return out
}

// Entries returns the configured entries.
func (m *Mix) Entries() []MixEntry {
	return append([]MixEntry(nil), m.entries...)
}

// FromWorkload resolves workload profile specs into a mix. An empty spec
// list yields the default profile alone.
func FromWorkload(specs []config.ProfileSpec, conn config.ConnectionDescriptor) (*Mix, error) {
	if len(specs) == 0 {
		p, err := Builtin(Default, conn)
		if err != nil {
			return nil, err
		}
		return NewMix([]MixEntry{{Profile: p, Weight: 1}})
	}

	entries := make([]MixEntry, 0, len(specs))
	for _, spec := range specs {
		p, err := Resolve(spec, conn)
		if err != nil {
			return nil, err
		}
		weight := spec.Weight
		if weight == 0 && len(specs) == 1 {
			weight = 1
		}
		entries = append(entries, MixEntry{Profile: p, Weight: weight})
	}
	return NewMix(entries)
}

// Resolve builds one profile from a spec. Base defaults to the spec's own
// name, which must then be a built-in.
func Resolve(spec config.ProfileSpec, conn config.ConnectionDescriptor) (BehaviorProfile, error) {
	baseName := spec.Base
	if baseName == "" {
		baseName = spec.Name
	}
	base, err := Builtin(baseName, conn)
	if err != nil {
		return BehaviorProfile{}, fmt.Errorf("profile %q: %w", spec.Name, err)
	}

	if spec.Pacing == nil && len(spec.Operations) == 0 && spec.Name == baseName {
		return base, nil
	}

	var pacing *Pacing
	if spec.Pacing != nil {
		pacing = &Pacing{Min: time.Duration(spec.Pacing.Min), Max: time.Duration(spec.Pacing.Max)}
	}
	overrides := make(map[string]Override, len(spec.Operations))
	for name, op := range spec.Operations {
		overrides[name] = Override{Weight: op.Weight, Enabled: op.Enabled}
	}
	return base.Derive(spec.Name, pacing, overrides)
}

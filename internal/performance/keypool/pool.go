// Package keypool holds the entity keys a single virtual user knows about.
package keypool

import (
	"math/rand"
	"time"
)

// Pool is an unordered set of entity keys owned by exactly one virtual user.
//
// A Pool is not safe for concurrent use. Each virtual user owns its pool and
// only touches it from its own goroutine, so no locking is needed.
type Pool struct {
	keys  []string
	index map[string]struct{}
	rng   *rand.Rand
}

// New creates an empty pool with its own random source.
func New() *Pool {
	return NewWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand creates an empty pool that samples with rng.
func NewWithRand(rng *rand.Rand) *Pool {
	return &Pool{
		keys:  make([]string, 0, 16),
		index: make(map[string]struct{}),
		rng:   rng,
	}
}

// Add inserts key if it is not already present. Empty keys are ignored.
// Returns true if the key was new.
func (p *Pool) Add(key string) bool {
	if key == "" {
		return false
	}
	if _, exists := p.index[key]; exists {
		return false
	}
	p.index[key] = struct{}{}
	p.keys = append(p.keys, key)
	return true
}

// Merge adds every key not already present and returns how many were new.
func (p *Pool) Merge(keys []string) int {
	added := 0
	for _, k := range keys {
		if p.Add(k) {
			added++
		}
	}
	return added
}

// Sample returns a uniformly random key. The boolean is false when the pool is empty.
func (p *Pool) Sample() (string, bool) {
	if len(p.keys) == 0 {
		return "", false
	}
	return p.keys[p.rng.Intn(len(p.keys))], true
}

// Contains reports whether key is in the pool.
func (p *Pool) Contains(key string) bool {
	_, ok := p.index[key]
	return ok
}

// Len returns the number of known keys.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Keys returns a copy of the known keys in insertion order.
func (p *Pool) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Release drops all keys. Called when the owning user terminates.
func (p *Pool) Release() {
	p.keys = nil
	p.index = make(map[string]struct{})
}

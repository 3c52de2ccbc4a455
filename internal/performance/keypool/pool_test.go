package keypool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AddIsIdempotent(t *testing.T) {
	p := New()

	assert.True(t, p.Add("OPS-1"))
	assert.False(t, p.Add("OPS-1"))
	assert.Equal(t, 1, p.Len())
}

func TestPool_AddIgnoresEmptyKey(t *testing.T) {
	p := New()
	assert.False(t, p.Add(""))
	assert.Equal(t, 0, p.Len())
}

func TestPool_SampleEmpty(t *testing.T) {
	p := New()

	key, ok := p.Sample()
	assert.False(t, ok)
	assert.Empty(t, key)
}

func TestPool_Merge(t *testing.T) {
	p := New()
	p.Add("A-1")

	added := p.Merge([]string{"A-1", "A-2", "A-3", "A-2", ""})
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"A-1", "A-2", "A-3"}, p.Keys())
}

func TestPool_SampleReturnsKnownKeys(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(7)))
	p.Merge([]string{"A-1", "A-2", "A-3", "A-4"})

	seen := make(map[string]int)
	for i := 0; i < 4000; i++ {
		key, ok := p.Sample()
		require.True(t, ok)
		require.True(t, p.Contains(key))
		seen[key]++
	}

	// Uniform: each key expected ~1000 times.
	for key, n := range seen {
		assert.InDelta(t, 1000, n, 150, "key %s sampled %d times", key, n)
	}
	assert.Len(t, seen, 4)
}

func TestPool_Release(t *testing.T) {
	p := New()
	p.Merge([]string{"A-1", "A-2"})
	p.Release()

	assert.Equal(t, 0, p.Len())
	_, ok := p.Sample()
	assert.False(t, ok)
	assert.True(t, p.Add("A-1"))
}

package profile

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/trackload/internal/config"
	"github.com/wesleyorama2/trackload/internal/performance/operation"
)

func testConn(t *testing.T) config.ConnectionDescriptor {
	t.Helper()
	conn, _, err := config.NewConnection(config.ConnectionSettings{
		BaseURL:  "https://tracker.example.com",
		Username: "u",
		APIToken: "t",
		Project:  "SOC",
		MinWait:  "1",
		MaxWait:  "5",
	})
	require.NoError(t, err)
	return conn
}

func TestSelector_FrequencyMatchesWeights(t *testing.T) {
	catalog := []operation.Operation{
		operation.MustNew(operation.CreateEntity, 5),
		operation.MustNew(operation.AddNote, 3),
		operation.MustNew(operation.FetchDetail, 2),
		operation.MustNew(operation.Search, 1),
		operation.MustNew(operation.UpdateField, 1),
	}
	sel := NewSelector(catalog)
	require.Equal(t, 12, sel.Total())

	rng := rand.New(rand.NewSource(11))
	const n = 120000
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		op, ok := sel.Pick(rng)
		require.True(t, ok)
		counts[op.Name]++
	}

	for _, op := range catalog {
		want := float64(op.Weight) / 12
		got := float64(counts[op.Name]) / n
		assert.InDelta(t, want, got, 0.01, op.Name)
	}
}

func TestSelector_ZeroAndDisabledNeverPicked(t *testing.T) {
	disabled := operation.MustNew(operation.AddNote, 50)
	disabled.Enabled = false
	catalog := []operation.Operation{
		operation.MustNew(operation.CreateEntity, 0),
		disabled,
		operation.MustNew(operation.Search, 1),
	}
	sel := NewSelector(catalog)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		op, ok := sel.Pick(rng)
		require.True(t, ok)
		require.Equal(t, operation.Search, op.Name)
	}
}

func TestSelector_IdleTick(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	_, ok := NewSelector(nil).Pick(rng)
	assert.False(t, ok)

	disabled := operation.MustNew(operation.Search, 3)
	disabled.Enabled = false
	_, ok = NewSelector([]operation.Operation{operation.MustNew(operation.CreateEntity, 0), disabled}).Pick(rng)
	assert.False(t, ok)
}

func TestPacing_Degenerate(t *testing.T) {
	p := Pacing{Min: time.Second, Max: time.Second}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		require.Equal(t, time.Second, p.Next(rng))
	}
	assert.Equal(t, time.Duration(0), Pacing{}.Next(rng))
}

func TestPacing_WithinBounds(t *testing.T) {
	p := Pacing{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	rng := rand.New(rand.NewSource(2))

	var sum time.Duration
	const n = 10000
	for i := 0; i < n; i++ {
		d := p.Next(rng)
		require.GreaterOrEqual(t, d, p.Min)
		require.LessOrEqual(t, d, p.Max)
		sum += d
	}
	assert.InDelta(t, float64(200*time.Millisecond), float64(sum/n), float64(5*time.Millisecond))
}

func TestPacing_Validate(t *testing.T) {
	assert.NoError(t, Pacing{Min: time.Second, Max: time.Second}.Validate())
	assert.Error(t, Pacing{Min: 2 * time.Second, Max: time.Second}.Validate())
	assert.Error(t, Pacing{Min: -time.Second, Max: time.Second}.Validate())
}

func TestNew_Errors(t *testing.T) {
	_, err := New("", Pacing{}, nil)
	assert.Error(t, err)

	_, err = New("dup", Pacing{}, []operation.Operation{
		operation.MustNew(operation.Search, 1),
		operation.MustNew(operation.Search, 2),
	})
	assert.Error(t, err)
}

func TestBuiltins(t *testing.T) {
	conn := testConn(t)

	def, err := Builtin(Default, conn)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		operation.CreateEntity: 5,
		operation.AddNote:      3,
		operation.FetchDetail:  2,
		operation.Search:       1,
		operation.UpdateField:  1,
	}, def.Weights())
	assert.Equal(t, Pacing{Min: time.Second, Max: 5 * time.Second}, def.Pacing)

	heavy, err := Builtin(Heavy, conn)
	require.NoError(t, err)
	assert.Equal(t, 10, heavy.Weights()[operation.CreateBatch])
	assert.Equal(t, 500*time.Millisecond, heavy.Pacing.Min)

	ro, err := Builtin(ReadOnly, conn)
	require.NoError(t, err)
	w := ro.Weights()
	assert.Zero(t, w[operation.CreateEntity])
	assert.Zero(t, w[operation.AddNote])
	assert.Zero(t, w[operation.UpdateField])
	assert.Equal(t, 8, w[operation.FetchDetail])
	assert.Equal(t, 5, w[operation.Search])

	soc, err := Builtin(SOCTriage, conn)
	require.NoError(t, err)
	assert.NotNil(t, soc.Queries)
	assert.Equal(t, 4, soc.Weights()[operation.CreateAlert])

	_, err = Builtin("nope", conn)
	assert.Error(t, err)
	assert.Equal(t, []string{Default, Heavy, ReadOnly, SOCTriage}, BuiltinNames())
	assert.NotEmpty(t, Describe(Heavy))
}

func TestDerive_DoesNotAlterBase(t *testing.T) {
	base, err := Builtin(Default, testConn(t))
	require.NoError(t, err)

	off := false
	derived, err := base.Derive("no-notes", nil, map[string]Override{operation.AddNote: {Enabled: &off}})
	require.NoError(t, err)

	assert.Zero(t, derived.Weights()[operation.AddNote])
	assert.Equal(t, 3, base.Weights()[operation.AddNote])
	assert.Equal(t, base.Pacing, derived.Pacing)

	_, err = base.Derive("bad", nil, map[string]Override{"Delete": {}})
	assert.Error(t, err)
}

func TestMix_Assign(t *testing.T) {
	conn := testConn(t)
	def, _ := Builtin(Default, conn)
	ro, _ := Builtin(ReadOnly, conn)

	mix, err := NewMix([]MixEntry{{Profile: def, Weight: 3}, {Profile: ro, Weight: 1}, {Profile: ro, Weight: 0}})
	require.NoError(t, err)

	assigned := mix.Assign(8)
	require.Len(t, assigned, 8)
	counts := map[string]int{}
	for _, p := range assigned {
		counts[p.Name]++
	}
	assert.Equal(t, 6, counts[Default])
	assert.Equal(t, 2, counts[ReadOnly])

	_, err = NewMix([]MixEntry{{Profile: def, Weight: 0}})
	assert.Error(t, err)
}

func TestFromWorkload(t *testing.T) {
	conn := testConn(t)

	mix, err := FromWorkload(nil, conn)
	require.NoError(t, err)
	require.Len(t, mix.Entries(), 1)
	assert.Equal(t, Default, mix.Entries()[0].Profile.Name)

	one := 1
	mix, err = FromWorkload([]config.ProfileSpec{
		{Name: Heavy, Weight: 1},
		{
			Name:       "creator",
			Base:       Default,
			Weight:     2,
			Pacing:     &config.PacingSpec{Min: config.Duration(time.Second), Max: config.Duration(time.Second)},
			Operations: map[string]config.OperationSpec{operation.Search: {Weight: &one}, operation.AddNote: {Weight: new(int)}},
		},
	}, conn)
	require.NoError(t, err)

	entries := mix.Entries()
	require.Len(t, entries, 2)
	creator := entries[1].Profile
	assert.Equal(t, "creator", creator.Name)
	assert.Equal(t, Pacing{Min: time.Second, Max: time.Second}, creator.Pacing)
	assert.Zero(t, creator.Weights()[operation.AddNote])

	_, err = FromWorkload([]config.ProfileSpec{{Name: "custom"}}, conn)
	assert.Error(t, err)
}

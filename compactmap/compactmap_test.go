package compactmap

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkRepresentation asserts that the layout matches Count().
func checkRepresentation[K comparable, V any](t *testing.T, m *Map[K, V]) {
	t.Helper()
	switch n := m.Count(); {
	case n == 0:
		require.Nil(t, m.list, "empty map must not hold a list")
		require.Equal(t, entry[K, V]{}, m.single, "empty map must have a zero inline slot")
	case n == 1:
		require.True(t, m.inline(), "single entry must be inline")
	default:
		require.Len(t, m.list, n)
		require.Equal(t, entry[K, V]{}, m.single, "inline slot must be cleared once promoted")
	}
}

func TestMap_ZeroValue(t *testing.T) {
	var m Map[string, int]
	assert.Equal(t, 0, m.Count())
	_, ok := m.Get("a")
	assert.False(t, ok)
	assert.False(t, m.Remove("a"))
	checkRepresentation(t, &m)
}

func TestMap_SingleEntry(t *testing.T) {
	var m Map[string, int]
	m.Set("a", 1)
	checkRepresentation(t, &m)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	m.Set("a", 2)
	assert.Equal(t, 1, m.Count())
	v, _ = m.Get("a")
	assert.Equal(t, 2, v)

	_, ok = m.Get("b")
	assert.False(t, ok)
	assert.False(t, m.Remove("b"))
	assert.Equal(t, 1, m.Count())
}

func TestMap_PromoteAndDemote(t *testing.T) {
	var m Map[int, string]
	m.Set(1, "one")
	m.Set(2, "two")
	checkRepresentation(t, &m)
	assert.Equal(t, 2, m.Count())

	m.Set(3, "three")
	checkRepresentation(t, &m)

	require.True(t, m.Remove(2))
	checkRepresentation(t, &m)
	require.True(t, m.Remove(1))
	checkRepresentation(t, &m)
	assert.True(t, m.inline())

	v, ok := m.Get(3)
	require.True(t, ok)
	assert.Equal(t, "three", v)
	assert.Equal(t, 3, m.KeyAt(0))
}

func TestMap_DemotedBehavesLikeFresh(t *testing.T) {
	var demoted Map[int, int]
	for i := 0; i < 5; i++ {
		demoted.Set(i, i*10)
	}
	for i := 0; i < 4; i++ {
		require.True(t, demoted.Remove(i))
	}

	var fresh Map[int, int]
	fresh.Set(4, 40)

	assert.Equal(t, fresh, demoted)

	// Same follow-up sequence yields identical state.
	for _, m := range []*Map[int, int]{&fresh, &demoted} {
		m.Set(9, 90)
		m.Remove(4)
	}
	assert.Equal(t, fresh, demoted)
	checkRepresentation(t, &demoted)
}

func TestMap_Enumeration(t *testing.T) {
	var m Map[string, int]
	m.Set("x", 1)
	m.Set("y", 2)
	m.Set("z", 3)

	got := map[string]int{}
	for i := 0; i < m.Count(); i++ {
		k, v := m.At(i)
		assert.Equal(t, k, m.KeyAt(i))
		got[k] = v
	}
	assert.Equal(t, map[string]int{"x": 1, "y": 2, "z": 3}, got)

	seen := 0
	for k, v := range m.All() {
		assert.Equal(t, got[k], v)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)

	assert.Panics(t, func() { m.At(3) })
	assert.Panics(t, func() { m.At(-1) })
}

func TestMap_Clear(t *testing.T) {
	var m Map[int, int]
	m.Set(1, 1)
	m.Set(2, 2)
	m.Clear()
	assert.Equal(t, 0, m.Count())
	checkRepresentation(t, &m)
}

func TestMap_RandomSequencesMatchBuiltinMap(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for round := 0; round < 200; round++ {
		var m Map[int, int]
		ref := map[int]int{}
		keys := 1 + rng.IntN(6)

		for step := 0; step < 60; step++ {
			k := rng.IntN(keys)
			if rng.IntN(3) == 0 {
				_, had := ref[k]
				delete(ref, k)
				require.Equal(t, had, m.Remove(k))
			} else {
				v := rng.Int()
				ref[k] = v
				m.Set(k, v)
			}

			require.Equal(t, len(ref), m.Count())
			checkRepresentation(t, &m)
			for rk, rv := range ref {
				v, ok := m.Get(rk)
				require.True(t, ok, "key %d missing", rk)
				require.Equal(t, rv, v)
			}
		}
	}
}

func BenchmarkMap_SingleEntry(b *testing.B) {
	for i := 0; i < b.N; i++ {
		var m Map[int, uint32]
		m.Set(1, 7)
		_, _ = m.Get(1)
		m.Remove(1)
	}
}

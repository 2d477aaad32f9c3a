package bench

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeySpaceShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ks := NewKeySpace(rng, 1000, 100, 200)

	require.Len(t, ks.Keys, 1000)
	assert.Equal(t, 100, ks.HotspotCount)
	assert.Equal(t, 200, ks.MediumCount)
	assert.Equal(t, 700, ks.TailCount)

	for _, k := range ks.Keys {
		assert.Regexp(t, `^0x[0-9a-f]{40}#slot\d+$`, string(k))
	}
}

func TestHotspotUpdateIndicesStayInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ks := NewKeySpace(rng, 1000, 100, 200)

	indices := ks.HotspotUpdateIndices(rng, 500)
	assert.Len(t, indices, 500)
	for _, idx := range indices {
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, len(ks.Keys))
	}
}

func TestRandomValuesAreUniqueAnd32Bytes(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ks := NewKeySpace(rng, 10, 1, 2)

	values := ks.RandomValues(50)
	seen := make(map[string]bool, 50)
	for _, v := range values {
		require.Len(t, v, 32)
		assert.False(t, seen[string(v)], "value repeated")
		seen[string(v)] = true
	}
}

func TestRandomValueAdvancesCounter(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	ks := NewKeySpace(rng, 10, 1, 2)

	v1 := ks.RandomValue()
	v2 := ks.RandomValue()
	assert.NotEqual(t, v1, v2)
}

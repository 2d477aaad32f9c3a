package rangekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectVersionKeyOrdering(t *testing.T) {
	addr := AddrSlot("0xabc#slot1")
	k1 := DirectVersionKey(addr, 100)
	k2 := DirectVersionKey(addr, 200)
	assert.Less(t, string(k1), string(k2))
}

func TestVersionFromDirectVersionKey(t *testing.T) {
	addr := AddrSlot("0xabc#slot1")
	for _, v := range []uint64{0, 1, 255, 1 << 40} {
		key := DirectVersionKey(addr, v)
		assert.Equal(t, v, VersionFromDirectVersionKey(key))
	}
}

func TestDataKeyOrderingAcrossMagnitudes(t *testing.T) {
	addr := AddrSlot("0xdef#slot9")
	// Fixed-width big-endian encoding must sort R=2 after R=9 numerically
	// is false (9 > 2); the point is that R=10 sorts after R=9, which
	// decimal zero-padding-free encoding would get backwards.
	k9 := DataKey(9, addr, 1)
	k10 := DataKey(10, addr, 1)
	assert.Less(t, string(k9), string(k10))
}

func TestVersionFromDataKey(t *testing.T) {
	addr := AddrSlot("0xdef#slot9")
	key := DataKey(3, addr, 123456789)
	assert.Equal(t, uint64(123456789), VersionFromDataKey(key))
}

func TestRangeListInsertSortedDedup(t *testing.T) {
	var rl RangeList
	assert.True(t, rl.Insert(5))
	assert.True(t, rl.Insert(1))
	assert.True(t, rl.Insert(3))
	assert.False(t, rl.Insert(3))
	assert.Equal(t, RangeList{1, 3, 5}, rl)
}

func TestRangeListMaxAndFloorBefore(t *testing.T) {
	rl := RangeList{1, 3, 5, 9}
	max, ok := rl.Max()
	require.True(t, ok)
	assert.Equal(t, uint32(9), max)

	floor, ok := rl.FloorBefore(5)
	require.True(t, ok)
	assert.Equal(t, uint32(3), floor)

	_, ok = rl.FloorBefore(1)
	assert.False(t, ok)
}

func TestRangeListContains(t *testing.T) {
	rl := RangeList{1, 3, 5}
	assert.True(t, rl.Contains(3))
	assert.False(t, rl.Contains(4))
}

func TestRangeListSerializeRoundTrip(t *testing.T) {
	rl := RangeList{0, 1, 2, 1000, 1 << 20}
	decoded, err := DeserializeRangeList(rl.Serialize())
	require.NoError(t, err)
	assert.Equal(t, rl, decoded)
}

func TestDeserializeRangeListCorrupt(t *testing.T) {
	_, err := DeserializeRangeList([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptRangeList)
}

func TestRangeID(t *testing.T) {
	assert.Equal(t, uint32(0), RangeID(0, 10000))
	assert.Equal(t, uint32(1), RangeID(10000, 10000))
	assert.Equal(t, uint32(1), RangeID(19999, 10000))
	assert.Equal(t, uint32(2), RangeID(20000, 10000))
}

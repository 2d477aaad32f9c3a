package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUint64Decimal(t *testing.T) {
	v, ok := ParseUint64("12345")
	assert.True(t, ok)
	assert.Equal(t, uint64(12345), v)
}

func TestParseUint64Hex(t *testing.T) {
	v, ok := ParseUint64("0x3e8")
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), v)
}

func TestParseUint64Empty(t *testing.T) {
	v, ok := ParseUint64("")
	assert.True(t, ok)
	assert.Equal(t, uint64(0), v)
}

func TestParseUint64Invalid(t *testing.T) {
	_, ok := ParseUint64("not-a-number")
	assert.False(t, ok)
}

func TestMustParseUint64Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseUint64("nope") })
}

func TestSafeAddNoOverflow(t *testing.T) {
	sum, overflowed := SafeAdd(10, 20)
	assert.False(t, overflowed)
	assert.Equal(t, uint64(30), sum)
}

func TestSafeAddOverflow(t *testing.T) {
	_, overflowed := SafeAdd(math.MaxUint64, 1)
	assert.True(t, overflowed)
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, CeilDiv(7, 3))
	assert.Equal(t, 2, CeilDiv(6, 3))
	assert.Equal(t, 0, CeilDiv(5, 0))
}

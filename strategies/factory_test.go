package strategies

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatchesByName(t *testing.T) {
	for _, name := range Names() {
		s, err := New(name, Params{
			DBPath:           filepath.Join(t.TempDir(), "db"),
			RangeSize:        1000,
			MaxPendingBlocks: 10,
			MaxPendingBytes:  1 << 20,
		})
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
		require.NoError(t, s.Cleanup())
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New("bogus", Params{DBPath: filepath.Join(t.TempDir(), "db")})
	assert.ErrorIs(t, err, ErrStrategyUnknown)
}

func TestNewIsCaseInsensitive(t *testing.T) {
	s, err := New("DIRECT_VERSION", Params{DBPath: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	assert.Equal(t, "direct_version", s.Name())
	require.NoError(t, s.Cleanup())
}

package directversion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/histkv/rangekey"
)

func newTestStrategy(t *testing.T) *Strategy {
	t.Helper()
	s, err := New(Params{
		DBPath:           filepath.Join(t.TempDir(), "direct_version"),
		MaxPendingBlocks: 1000,
		MaxPendingBytes:  1 << 30,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Cleanup() })
	return s
}

// writeOne submits a single-record block, for tests that only care about
// write-then-query behavior and not block/batch boundaries.
func writeOne(ctx context.Context, s *Strategy, addr rangekey.AddrSlot, version uint64, value string) error {
	return s.WriteBatch(ctx, []rangekey.WriteRecord{{Addr: addr, Version: version, Value: []byte(value)}})
}

func TestQueryLatestAfterSequentialWrites(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()
	addr := rangekey.AddrSlot("a01")

	require.NoError(t, writeOne(ctx, s, addr, 1, "v1"))
	require.NoError(t, writeOne(ctx, s, addr, 2, "v2"))
	require.NoError(t, writeOne(ctx, s, addr, 3, "v3"))
	require.NoError(t, s.FlushAll())

	rec, ok, err := s.QueryLatest(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v3", string(rec.Value))
	require.Equal(t, uint64(3), rec.Version)
}

func TestQueryHistoricalBeforeFirstWriteIsNotFound(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()
	addr := rangekey.AddrSlot("a01")

	require.NoError(t, writeOne(ctx, s, addr, 10, "v10"))
	require.NoError(t, s.FlushAll())

	_, ok, err := s.QueryHistorical(ctx, addr, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestInterRangeHistoryScenario mirrors spec.md §8 scenario 2: "direct-version
// same semantics" as the dual-store inter-range history scenario.
func TestInterRangeHistoryScenario(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()
	addr := rangekey.AddrSlot("a01")

	writes := []struct {
		version uint64
		value   string
	}{
		{100, "v100"},
		{500, "v500"},
		{15000, "v15000"},
		{16000, "v16000"},
		{25000, "v25000"},
		{26000, "v26000"},
	}
	for _, w := range writes {
		require.NoError(t, writeOne(ctx, s, addr, w.version, w.value))
	}
	require.NoError(t, s.FlushAll())

	cases := []struct {
		target   uint64
		expected string
		found    bool
	}{
		{200, "v100", true},
		{500, "v500", true},
		{1000, "v500", true},
		{15500, "v15000", true},
		{20000, "v16000", true},
		{25500, "v25000", true},
		{30000, "v26000", true},
		{50, "", false},
	}
	for _, c := range cases {
		rec, ok, err := s.QueryHistorical(ctx, addr, c.target)
		require.NoError(t, err)
		require.Equal(t, c.found, ok, "target=%d", c.target)
		if c.found {
			require.Equal(t, c.expected, string(rec.Value), "target=%d", c.target)
		}
	}
}

func TestQueryLatestUnknownAddrNotFound(t *testing.T) {
	s := newTestStrategy(t)
	_, ok, err := s.QueryLatest(context.Background(), rangekey.AddrSlot("nope"))
	require.NoError(t, err)
	require.False(t, ok)
}

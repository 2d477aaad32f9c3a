package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/histkv/kv"
)

func TestImmediateModeFlushesAtBlockThreshold(t *testing.T) {
	var flushCount int
	var lastOps []kv.Op

	c := New(3, 1<<30, false)
	c.RegisterHandle("h", func(ops []kv.Op) error {
		flushCount++
		lastOps = ops
		return nil
	})

	require.NoError(t, c.AddOp("h", kv.Op{Key: []byte("k1"), Value: []byte("v1")}))
	require.NoError(t, c.EndBlock())
	require.NoError(t, c.AddOp("h", kv.Op{Key: []byte("k2"), Value: []byte("v2")}))
	require.NoError(t, c.EndBlock())
	assert.Equal(t, 0, flushCount)

	require.NoError(t, c.AddOp("h", kv.Op{Key: []byte("k3"), Value: []byte("v3")}))
	require.NoError(t, c.EndBlock())
	assert.Equal(t, 1, flushCount)
	assert.Len(t, lastOps, 3)
	assert.Equal(t, 0, c.PendingBlocks())
}

func TestDeferredModeOnlyFlushesOnExplicitCall(t *testing.T) {
	var flushCount int

	c := New(2, 1<<30, true)
	c.RegisterHandle("h", func(ops []kv.Op) error {
		flushCount++
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, c.AddOp("h", kv.Op{Key: []byte{byte(i)}, Value: []byte("v")}))
		require.NoError(t, c.EndBlock())
	}
	assert.Equal(t, 0, flushCount)
	assert.Equal(t, 5, c.PendingBlocks())

	require.NoError(t, c.Flush())
	assert.Equal(t, 1, flushCount)
	assert.Equal(t, 0, c.PendingBlocks())
}

// TestDeferredModeKBlocksThenFlushYieldsOneFlush: in deferred mode reaching
// max_blocks=K does not trigger a flush, so after K and after K+1 blocks no
// flush has occurred, and one explicit Flush then writes all K+1 blocks in a
// single flush. A "block" here is one AddOp+EndBlock pair, not one op.
func TestDeferredModeKBlocksThenFlushYieldsOneFlush(t *testing.T) {
	var flushCount int
	const k = 4

	c := New(k, 1<<30, true)
	c.RegisterHandle("h", func(ops []kv.Op) error {
		flushCount++
		return nil
	})

	for i := 0; i < k; i++ {
		require.NoError(t, c.AddOp("h", kv.Op{Key: []byte{byte(i)}, Value: nil}))
		require.NoError(t, c.EndBlock())
	}
	assert.Equal(t, 0, flushCount, "deferred mode must not auto-flush")

	require.NoError(t, c.AddOp("h", kv.Op{Key: []byte{byte(k)}, Value: nil}))
	require.NoError(t, c.EndBlock())
	assert.Equal(t, 0, flushCount)

	require.NoError(t, c.Flush())
	assert.Equal(t, 1, flushCount)
}

// TestImmediateModeBlockThresholdCountsCallsNotRecords matches spec.md §8
// scenario 4: 50 blocks of 10 records each, max_blocks=3, yielding 17
// flushes (ceil(50/3)): 16 threshold flushes plus one final Flush for the 2
// leftover blocks -- a "block" is one EndBlock call, however many records
// (AddOp calls) it carries.
func TestImmediateModeBlockThresholdCountsCallsNotRecords(t *testing.T) {
	var flushCount int
	c := New(3, 1<<30, false)
	c.RegisterHandle("h", func(ops []kv.Op) error {
		flushCount++
		return nil
	})

	for b := 0; b < 50; b++ {
		for r := 0; r < 10; r++ {
			require.NoError(t, c.AddOp("h", kv.Op{Key: []byte{byte(b), byte(r)}, Value: []byte("v")}))
		}
		require.NoError(t, c.EndBlock())
	}
	require.NoError(t, c.Flush())

	assert.Equal(t, 17, flushCount)
}

func TestFlushOrdersHandlesByRegistration(t *testing.T) {
	var order []string

	c := New(100, 1<<30, false)
	c.RegisterHandle("range-index", func(ops []kv.Op) error {
		order = append(order, "range-index")
		return nil
	})
	c.RegisterHandle("data", func(ops []kv.Op) error {
		order = append(order, "data")
		return nil
	})

	require.NoError(t, c.AddOp("data", kv.Op{Key: []byte("k"), Value: []byte("v")}))
	require.NoError(t, c.AddOp("range-index", kv.Op{Key: []byte("k"), Value: []byte("v")}))
	require.NoError(t, c.Flush())

	assert.Equal(t, []string{"range-index", "data"}, order)
}

func TestBytesThresholdTriggersFlush(t *testing.T) {
	var flushCount int
	c := New(1000, 50, false)
	c.RegisterHandle("h", func(ops []kv.Op) error {
		flushCount++
		return nil
	})

	require.NoError(t, c.AddOp("h", kv.Op{Key: make([]byte, 10), Value: make([]byte, 10)}))
	require.NoError(t, c.EndBlock())
	assert.Equal(t, 1, flushCount, "per-op overhead plus 20 bytes should already exceed the 50-byte threshold")
}

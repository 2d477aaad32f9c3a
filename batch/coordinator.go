// Package batch implements the batching coordinator described in spec.md
// §4.4, ported from the original's per-strategy pending_blocks/pending_bytes
// accounting (src/strategies/direct_version_strategy.{hpp,cpp}).
package batch

import (
	"fmt"
	"sync"

	"github.com/erigontech/histkv/kv"
	"github.com/erigontech/histkv/numeric"
)

// perOpOverhead approximates RocksDB/Pebble's internal per-entry bookkeeping
// cost (sequence number, key/value length varints, WAL record framing), used
// when estimating a batch's pending byte size the way the original's
// PendingBatchInfo::estimated_size_bytes() does.
const perOpOverhead = 100

// FlushFunc applies a fully-accumulated set of ops to a single underlying
// kv.Store handle.
type FlushFunc func(ops []kv.Op) error

// Coordinator accumulates writes across calls and flushes them once either
// threshold is crossed, or on an explicit Flush. One Coordinator wraps one or
// more named handles (e.g. dual-store's "range-index" and "data" handles),
// flushed in the order handles were registered -- range-index before data,
// per spec.md §4.4 invariant on ordered multi-handle flush.
//
// A "block" is one call to a strategy's WriteBatch/WriteInitialLoadBatch,
// regardless of how many records it carries (spec.md §4.4/GLOSSARY): callers
// stage every op belonging to one block via AddOp, then call EndBlock
// exactly once to count the block and, in immediate mode, trigger a
// threshold-crossing flush.
type Coordinator struct {
	mu sync.Mutex

	maxPendingBlocks int
	maxPendingBytes  int64

	handles       []string
	pending       map[string][]kv.Op
	flushFuncs    map[string]FlushFunc
	pendingBytes  int64
	pendingBlocks int
	deferred      bool
}

// New builds a Coordinator. maxPendingBlocks and maxPendingBytes are the
// thresholds from spec.md §6 (--batch-size-blocks, --max-batch-size-bytes); deferred selects
// the initial-load flush mode, where flushes only happen on an explicit call
// to Flush (spec.md §4.4 "deferred (initial-load) flush mode").
func New(maxPendingBlocks int, maxPendingBytes int64, deferred bool) *Coordinator {
	return &Coordinator{
		maxPendingBlocks: maxPendingBlocks,
		maxPendingBytes:  maxPendingBytes,
		pending:          make(map[string][]kv.Op),
		flushFuncs:       make(map[string]FlushFunc),
		deferred:         deferred,
	}
}

// RegisterHandle adds a named flush target. Handles flush in registration
// order, so callers should register "range-index" before "data" for the
// dual-store strategy.
func (c *Coordinator) RegisterHandle(name string, flush FlushFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles = append(c.handles, name)
	c.flushFuncs[name] = flush
	c.pending[name] = nil
}

// AddOp stages one op against handle, accumulating the pending byte count.
// It does not count as a block and never triggers a flush by itself -- the
// caller stages every op belonging to one block (possibly across several
// handles) via AddOp, then calls EndBlock exactly once.
func (c *Coordinator) AddOp(handle string, op kv.Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[handle] = append(c.pending[handle], op)

	opBytes := uint64(len(op.Key)+len(op.Value)) + perOpOverhead
	sum, overflowed := numeric.SafeAdd(uint64(c.pendingBytes), opBytes)
	if overflowed {
		return fmt.Errorf("batch: pending byte counter overflow on handle %q: %w", handle, numeric.ErrOverflow)
	}
	c.pendingBytes = int64(sum)
	return nil
}

// EndBlock counts one block as staged and, if the coordinator is not in
// deferred mode and either threshold is now crossed, flushes synchronously.
func (c *Coordinator) EndBlock() error {
	c.mu.Lock()
	c.pendingBlocks++
	shouldFlush := !c.deferred &&
		(c.pendingBlocks >= c.maxPendingBlocks || c.pendingBytes >= c.maxPendingBytes)
	c.mu.Unlock()

	if shouldFlush {
		return c.Flush()
	}
	return nil
}

// Flush applies every handle's pending ops, in registration order, and
// clears the pending state. It is always called at the end of an initial
// load (deferred mode) and whenever a threshold trips in immediate mode.
func (c *Coordinator) Flush() error {
	c.mu.Lock()
	handles := append([]string(nil), c.handles...)
	batches := make(map[string][]kv.Op, len(handles))
	for _, h := range handles {
		batches[h] = c.pending[h]
		c.pending[h] = nil
	}
	c.pendingBlocks = 0
	c.pendingBytes = 0
	c.mu.Unlock()

	for _, h := range handles {
		ops := batches[h]
		if len(ops) == 0 {
			continue
		}
		if err := c.flushFuncs[h](ops); err != nil {
			return err
		}
	}
	return nil
}

// PendingBlocks returns the number of blocks staged since the last flush.
func (c *Coordinator) PendingBlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingBlocks
}

// PendingBytes returns the estimated pending byte size, including per-op
// overhead, since the last flush.
func (c *Coordinator) PendingBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingBytes
}

package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/erigontech/histkv/rangekey"
)

// numSegments matches the original's fixed segment count; it is a power of
// two so segmentFor can use a mask instead of a modulo.
const numSegments = 16

// Cache is the segmented LRU with single-flight fill described in spec.md
// §4.6. Each historical-lookup strategy owns one Cache per logical value
// kind it wants to memoize (e.g. the dual-store strategy's range-list cache).
type Cache struct {
	segments [numSegments]*segment
	gcStop   chan struct{}
	gcOnce   sync.Once
}

// New builds a Cache whose total capacity is perSegmentCapacity*numSegments,
// and starts the background goroutine that reaps stale in-flight calls every
// inflightGCAge, per spec.md §4.6.
func New(perSegmentCapacity int) *Cache {
	c := &Cache{gcStop: make(chan struct{})}
	for i := range c.segments {
		c.segments[i] = newSegment(perSegmentCapacity)
	}
	go c.gcLoop()
	return c
}

func (c *Cache) gcLoop() {
	ticker := time.NewTicker(inflightGCAge)
	defer ticker.Stop()
	for {
		select {
		case <-c.gcStop:
			return
		case now := <-ticker.C:
			for _, s := range c.segments {
				s.gcStaleInflight(now)
			}
		}
	}
}

// Close stops the background GC goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.gcOnce.Do(func() { close(c.gcStop) })
}

// addrHash combines a FNV-1a hash of addr with slot into a single uint64,
// replicating optimized_addr_hash's addr_hash XOR (slot_hash << 16) combiner
// from the original so that lookups for the same (addr, slot) always land in
// the same segment and the same cache line.
func addrHash(addr rangekey.AddrSlot, slot uint32) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(addr))
	addrH := h.Sum64()
	slotH := uint64(slot) * 0x9E3779B185EBCA87 // golden-ratio multiplicative mix
	return addrH ^ (slotH << 16)
}

func (c *Cache) segmentFor(key uint64) *segment {
	return c.segments[key&(numSegments-1)]
}

// Fill is called by a single-flight leader to compute the value for a miss.
type Fill func(ctx context.Context) (any, error)

// GetOrFill returns the cached value for (addr, slot), or runs fill exactly
// once among all concurrent callers for that key and caches the result. A
// follower that has waited longer than inflightWaitTimeout gives up on the
// leader and runs fill itself instead, per spec.md §4.6 -- correctness
// preserving since fill is idempotent.
func (c *Cache) GetOrFill(ctx context.Context, addr rangekey.AddrSlot, slot uint32, fill Fill) (any, error) {
	key := addrHash(addr, slot)
	seg := c.segmentFor(key)

	if v, ok := seg.get(key); ok {
		return v, nil
	}

	seg.inflightMu.Lock()
	if c, ok := seg.inflight[key]; ok {
		seg.inflightMu.Unlock()
		return waitForCall(ctx, key, seg, c, fill)
	}
	leader := &call{done: make(chan struct{}), started: time.Now()}
	seg.inflight[key] = leader
	seg.inflightMu.Unlock()

	leader.value, leader.err = fill(ctx)
	leader.ok = leader.err == nil
	close(leader.done)

	seg.inflightMu.Lock()
	delete(seg.inflight, key)
	seg.inflightMu.Unlock()

	if leader.err != nil {
		return nil, leader.err
	}
	seg.put(key, leader.value)
	return leader.value, nil
}

// waitForCall waits for the in-flight leader call to finish. If it doesn't
// finish within inflightWaitTimeout, the follower stops waiting and runs
// fill on its own rather than blocking indefinitely behind a slow or stuck
// leader; fill is required to be idempotent so this is always safe.
func waitForCall(ctx context.Context, key uint64, seg *segment, c *call, fill Fill) (any, error) {
	timer := time.NewTimer(inflightWaitTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		if c.err != nil {
			return nil, c.err
		}
		return c.value, nil
	case <-timer.C:
		value, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		seg.put(key, value)
		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops any cached value for (addr, slot); callers use this after
// a write that changes the range list for addr.
func (c *Cache) Invalidate(addr rangekey.AddrSlot, slot uint32) {
	key := addrHash(addr, slot)
	c.segmentFor(key).invalidate(key)
}

// Len returns the total number of cached entries across all segments, for
// tests and stats reporting.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.segments {
		total += s.len()
	}
	return total
}

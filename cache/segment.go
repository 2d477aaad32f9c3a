// Package cache implements the segmented LRU with per-key single-flight
// de-duplication described in spec.md §4.6, ported from the original's
// SimpleLRUSegment / SimpleSingleFlightCache (src/strategies/simple_lru_cache.hpp).
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// segment is one shard of the cache: its own mutex, its own LRU (from
// hashicorp/golang-lru/v2's simplelru, the same eviction list shape as
// simple_lru_cache.hpp's intrusive list), and its own table of in-flight
// single-flight calls. Sharding by key hash is what lets concurrent lookups
// on different keys proceed without contending on a single global mutex,
// mirroring the original's per-segment design.
type segment struct {
	mu sync.Mutex
	ll *simplelru.LRU[uint64, any]

	inflightMu sync.Mutex
	inflight   map[uint64]*call
}

// call is a single in-flight fill, shared by every goroutine that misses the
// cache for the same key concurrently. It is the hand-rolled equivalent of
// golang.org/x/sync/singleflight.Group, except it also supports the wait
// timeout and background GC spec.md §4.6 requires -- properties the x/sync
// singleflight group does not expose, which is why it is not used here.
type call struct {
	done    chan struct{}
	value   any
	ok      bool
	err     error
	started time.Time
}

func newSegment(capacity int) *segment {
	if capacity < 1 {
		capacity = 1
	}
	ll, _ := simplelru.NewLRU[uint64, any](capacity, nil)
	return &segment{
		ll:       ll,
		inflight: make(map[uint64]*call),
	}
}

// get returns (value, true) on a hit and promotes key to most-recently-used.
func (s *segment) get(key uint64) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Get(key)
}

// put inserts or updates key, evicting the least-recently-used entry if the
// segment is at capacity.
func (s *segment) put(key uint64, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Add(key, value)
}

func (s *segment) invalidate(key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Remove(key)
}

func (s *segment) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// inflightWaitTimeout bounds how long a follower waits on a leader's fill
// before giving up and issuing its own (spec.md §4.6). A var, not a const,
// so tests can shrink it rather than block for the full production value.
var inflightWaitTimeout = 10 * time.Second

// inflightGCAge is how old an in-flight call must be before gcStaleInflight
// reaps it, guarding against a leaked call entry from a goroutine that
// panicked before closing done.
const inflightGCAge = 30 * time.Second

func (s *segment) gcStaleInflight(now time.Time) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	for k, c := range s.inflight {
		select {
		case <-c.done:
			delete(s.inflight, k)
		default:
			if now.Sub(c.started) > inflightGCAge {
				delete(s.inflight, k)
			}
		}
	}
}

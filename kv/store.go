// Package kv defines the L0 engine façade: an ordered byte-string store with
// atomic batched writes, prefix-capable iteration, bloom filters, and basic
// statistics. It is the only contract the strategies and the DB manager have
// with the embedded engine; see kv/pebblekv for the concrete binding.
package kv

import "errors"

// ErrNotFound names the not-found outcome. Store.Get does not return it: a
// miss is reported as (nil, false, nil), since not found is not a failure.
var ErrNotFound = errors.New("kv: key not found")

// Compression enumerates the portable compression settings a Store accepts.
// The core only ever requests CompressionNone (spec.md §6).
type Compression int

const (
	CompressionNone Compression = iota
)

// Options mirrors the engine configuration knobs named in spec.md §4.1/§6.
type Options struct {
	CreateIfMissing bool
	Compression     Compression
	// BloomBitsPerKey configures a bloom filter with this many bits per key.
	// Zero disables the filter.
	BloomBitsPerKey int
	StatisticsEnabled               bool
	OptimizeFiltersForHits          bool
	LevelCompactionDynamicLevelBytes bool
}

// DefaultOptions returns the portable configuration spec.md §6 pins: no
// compression, a 10-bits-per-key bloom filter, statistics on, point-lookup
// hints on.
func DefaultOptions() Options {
	return Options{
		CreateIfMissing:                  true,
		Compression:                      CompressionNone,
		BloomBitsPerKey:                  10,
		StatisticsEnabled:                true,
		OptimizeFiltersForHits:           true,
		LevelCompactionDynamicLevelBytes: true,
	}
}

// Op is a single staged mutation for WriteBatch.
type Op struct {
	Key   []byte
	Value []byte
}

// Stats exposes the engine counters spec.md §4.1/§4.5/§6 requires.
type Stats struct {
	BloomUseful         uint64
	BloomFullPositive   uint64
	CompactBytesRead    uint64
	CompactBytesWritten uint64
}

// Store is the ordered byte-string store the core strategies are built on.
// Implementations must provide read-your-writes consistency within a single
// handle and must make WriteBatch atomic.
type Store interface {
	Put(key, value []byte) error
	// Get returns (value, true, nil) on a hit, (nil, false, nil) on a miss,
	// and a non-nil error only on an engine I/O failure.
	Get(key []byte) ([]byte, bool, error)
	// WriteBatch applies ops atomically. sync controls fsync durability;
	// the core always passes false in steady state (spec.md §4.1).
	WriteBatch(ops []Op, sync bool) error
	NewIterator() (Iterator, error)
	Stats() Stats
	Close() error
}

// Iterator walks a Store in key order. SeekForPrev positions the iterator at
// the last key <= target, which is the primitive every historical lookup in
// this core is built on (spec.md §9 "Sentinel vs. seek-for-prev").
type Iterator interface {
	Seek(key []byte) bool
	SeekForPrev(key []byte) bool
	SeekToLast() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Next() bool
	Prev() bool
	Close() error
}

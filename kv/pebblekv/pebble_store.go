// Package pebblekv binds kv.Store to github.com/cockroachdb/pebble, the L0
// embedded engine chosen for this core (see SPEC_FULL.md §2: erigon's own
// mdbx-go is a B+Tree with no bloom-filter/compaction-stats surface to match).
package pebblekv

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"

	"github.com/erigontech/histkv/kv"
)

// Store wraps a single *pebble.DB.
type Store struct {
	db   *pebble.DB
	path string
}

// Open creates or opens a pebble database at path using opts.
func Open(path string, opts kv.Options) (*Store, error) {
	popts := &pebble.Options{}
	// Compression is pinned to none per SPEC_FULL.md §2/spec.md §6: the
	// benchmark cares about raw engine throughput, not disk footprint.
	lvl := pebble.LevelOptions{Compression: pebble.NoCompression}
	if opts.BloomBitsPerKey > 0 {
		lvl.FilterPolicy = bloom.FilterPolicy(opts.BloomBitsPerKey)
	}
	popts.Levels = []pebble.LevelOptions{lvl}
	popts.EnsureDefaults()

	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, fmt.Errorf("pebblekv: open %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Put(key, value []byte) error {
	if err := s.db.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("pebblekv: put: %w", err)
	}
	return nil
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebblekv: get: %w", err)
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

// WriteBatch applies ops atomically via pebble's own Batch, which is the
// primitive the batching coordinator (batch.Coordinator) flushes through.
func (s *Store) WriteBatch(ops []kv.Op, sync bool) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, op := range ops {
		if op.Value == nil {
			if err := b.Delete(op.Key, nil); err != nil {
				return fmt.Errorf("pebblekv: batch delete: %w", err)
			}
			continue
		}
		if err := b.Set(op.Key, op.Value, nil); err != nil {
			return fmt.Errorf("pebblekv: batch set: %w", err)
		}
	}
	writeOpts := pebble.NoSync
	if sync {
		writeOpts = pebble.Sync
	}
	if err := s.db.Apply(b, writeOpts); err != nil {
		return fmt.Errorf("pebblekv: batch apply: %w", err)
	}
	return nil
}

func (s *Store) NewIterator() (kv.Iterator, error) {
	it, err := s.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("pebblekv: new iterator: %w", err)
	}
	return &iterator{it: it}, nil
}

// Stats maps pebble.Metrics onto the portable kv.Stats shape.
func (s *Store) Stats() kv.Stats {
	m := s.db.Metrics()
	var read, written uint64
	for _, l := range m.Levels {
		read += uint64(l.BytesRead)
		written += uint64(l.BytesCompacted)
	}
	return kv.Stats{
		BloomUseful:         sumBloomUseful(m),
		BloomFullPositive:   sumBloomFullPositive(m),
		CompactBytesRead:    read,
		CompactBytesWritten: written,
	}
}

func sumBloomUseful(m *pebble.Metrics) uint64 {
	var total uint64
	for _, l := range m.Levels {
		total += l.BloomFilter.Hits
	}
	return total
}

func sumBloomFullPositive(m *pebble.Metrics) uint64 {
	var total uint64
	for _, l := range m.Levels {
		total += l.BloomFilter.Misses
	}
	return total
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pebblekv: close: %w", err)
	}
	return nil
}

// iterator adapts *pebble.Iterator to kv.Iterator. Pebble has no native
// SeekForPrev, so it is built from SeekGE followed by Prev/Last, per
// spec.md §9's "Sentinel vs. seek-for-prev" design note.
type iterator struct {
	it *pebble.Iterator
}

func (i *iterator) Seek(key []byte) bool { return i.it.SeekGE(key) }

func (i *iterator) SeekForPrev(key []byte) bool {
	if i.it.SeekGE(key) {
		if string(i.it.Key()) == string(key) {
			return true
		}
		return i.it.Prev()
	}
	// No key >= target exists; the last key in the store, if any, is <= target.
	return i.it.Last()
}

func (i *iterator) SeekToLast() bool { return i.it.Last() }
func (i *iterator) Valid() bool      { return i.it.Valid() }
func (i *iterator) Key() []byte      { return i.it.Key() }
func (i *iterator) Value() []byte    { return i.it.Value() }
func (i *iterator) Next() bool       { return i.it.Next() }
func (i *iterator) Prev() bool       { return i.it.Prev() }
func (i *iterator) Close() error     { return i.it.Close() }

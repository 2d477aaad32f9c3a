// Package strategies defines the pluggable storage-strategy contract from
// spec.md §4.2/§4.3 and a factory that dispatches to the concrete
// implementations, ported from the original's IStorageStrategy interface
// and strategy_factory (src/core/storage_strategy.hpp,
// src/strategies/strategy_factory.{hpp,cpp}).
package strategies

import (
	"context"
	"errors"

	"github.com/erigontech/histkv/rangekey"
)

// Record is an alias for rangekey.Record, kept so callers of this package
// don't need to import rangekey just to name the result of a query.
type Record = rangekey.Record

// WriteRecord is an alias for rangekey.WriteRecord, the element type of the
// block passed to WriteBatch/WriteInitialLoadBatch.
type WriteRecord = rangekey.WriteRecord

// Strategy is the contract both the direct-version and dual-store storage
// layouts implement.
type Strategy interface {
	// Name returns the canonical, lowercase strategy identifier used by
	// --strategy and in log output.
	Name() string
	Description() string

	// WriteBatch applies one block: a set of (addr, version, value) records
	// submitted together in a single call, staged through the batching
	// coordinator. One call is one block regardless of how many records it
	// carries -- the coordinator counts blocks (calls), not records.
	WriteBatch(ctx context.Context, records []WriteRecord) error

	// WriteInitialLoadBatch is like WriteBatch but used during bulk initial
	// load, where the coordinator runs in deferred flush mode.
	WriteInitialLoadBatch(ctx context.Context, records []WriteRecord) error

	// FlushAll forces any pending batched writes to the underlying store(s).
	FlushAll() error

	// QueryLatest returns the most recent value written for addr at or
	// before the strategy's notion of "now", or (Record{}, false, nil) if
	// addr has never been written.
	QueryLatest(ctx context.Context, addr rangekey.AddrSlot) (Record, bool, error)

	// QueryHistorical returns the value in effect for addr at asOfVersion:
	// the latest write with Version <= asOfVersion, or (Record{}, false, nil)
	// if none exists.
	QueryHistorical(ctx context.Context, addr rangekey.AddrSlot, asOfVersion uint64) (Record, bool, error)

	// Cleanup releases the strategy's underlying store handle(s).
	Cleanup() error
}

// ErrStrategyUnknown is returned by New for an unrecognized strategy name.
var ErrStrategyUnknown = errors.New("strategies: unknown strategy name")

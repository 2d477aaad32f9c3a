// Package dbmanager implements the DB manager of spec.md §4.5, ported from
// the original's StrategyDBManager (src/core/strategy_db_manager.{hpp,cpp}):
// it owns the on-disk path, an advisory lock guarding against a second
// process opening the same path, exactly one Strategy, and pass-through
// engine statistics.
package dbmanager

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/erigontech/histkv/config"
	"github.com/erigontech/histkv/kv"
	"github.com/erigontech/histkv/rangekey"
	"github.com/erigontech/histkv/strategies"
)

// ErrAlreadyOpen is returned by Open when the manager's handle is already
// open in this process, or the on-disk lock is held by another process.
var ErrAlreadyOpen = errors.New("dbmanager: database already open")

// ErrNotOpen is returned by any operation attempted before a successful Open.
var ErrNotOpen = errors.New("dbmanager: database not open")

// Manager owns one strategy's lifecycle and statistics.
type Manager struct {
	dbPath   string
	cfg      config.Config
	strategy strategies.Strategy
	lock     *flock.Flock
	log      *zap.Logger
	isOpen   bool
}

// New records the configuration for the strategy named in cfg.Strategy. The
// strategy's store(s) are not opened until Open succeeds, so that a
// force_clean request removes the directory before anything holds it open.
func New(cfg config.Config, log *zap.Logger) (*Manager, error) {
	return &Manager{
		dbPath: cfg.DBPath,
		cfg:    cfg,
		lock:   flock.New(cfg.DBPath + ".lock"),
		log:    log,
	}, nil
}

// Open optionally force-cleans the on-disk directory, acquires the advisory
// lock, then opens the L0 store(s) and initializes the strategy. Matches
// StrategyDBManager::open.
func (m *Manager) Open(forceClean bool) error {
	if m.isOpen {
		if m.log != nil {
			m.log.Warn("database is already open")
		}
		return ErrAlreadyOpen
	}

	if forceClean {
		if err := m.cleanData(); err != nil {
			return fmt.Errorf("dbmanager: clean data: %w", err)
		}
	}

	locked, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("dbmanager: acquire lock: %w", err)
	}
	if !locked {
		return ErrAlreadyOpen
	}

	s, err := strategies.New(m.cfg.Strategy, strategies.Params{
		DBPath:           m.cfg.DBPath,
		RangeSize:        m.cfg.RangeSize,
		MaxPendingBlocks: m.cfg.BatchSizeBlocks,
		MaxPendingBytes:  m.cfg.MaxBatchSizeBytes,
		BloomBitsPerKey:  m.cfg.BloomBitsPerKey,
		CacheSegmentSize: m.cfg.CacheSegmentSize,
		Logger:           m.log,
	})
	if err != nil {
		_ = m.lock.Unlock()
		return fmt.Errorf("dbmanager: open strategy: %w", err)
	}

	m.strategy = s
	m.isOpen = true
	if m.log != nil {
		m.log.Info("database opened",
			zap.String("path", m.dbPath),
			zap.String("strategy", m.strategy.Description()))
	}
	return nil
}

func (m *Manager) cleanData() error {
	if _, err := os.Stat(m.dbPath); err == nil {
		if err := os.RemoveAll(m.dbPath); err != nil {
			return err
		}
		if m.log != nil {
			m.log.Info("removed existing data directory", zap.String("path", m.dbPath))
		}
	}
	return nil
}

// Close flushes any pending writes, releases the strategy's store handles,
// and releases the advisory lock. Matches StrategyDBManager::close, which
// guarantees flush_all runs before close on every exit path.
func (m *Manager) Close() error {
	if !m.isOpen {
		return nil
	}

	var errs []error
	if err := m.strategy.FlushAll(); err != nil {
		errs = append(errs, fmt.Errorf("flush all: %w", err))
	}
	if err := m.strategy.Cleanup(); err != nil {
		errs = append(errs, fmt.Errorf("strategy cleanup: %w", err))
	}
	if err := m.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	m.isOpen = false
	if m.log != nil {
		m.log.Info("database closed", zap.String("path", m.dbPath))
	}
	return errors.Join(errs...)
}

// WriteBatch applies one block -- a set of records submitted together in a
// single call -- regardless of how many records it carries.
func (m *Manager) WriteBatch(ctx context.Context, records []rangekey.WriteRecord) error {
	if !m.isOpen {
		return ErrNotOpen
	}
	return m.strategy.WriteBatch(ctx, records)
}

func (m *Manager) WriteInitialLoadBatch(ctx context.Context, records []rangekey.WriteRecord) error {
	if !m.isOpen {
		return ErrNotOpen
	}
	return m.strategy.WriteInitialLoadBatch(ctx, records)
}

func (m *Manager) FlushAll() error {
	if !m.isOpen {
		return ErrNotOpen
	}
	return m.strategy.FlushAll()
}

func (m *Manager) QueryLatest(ctx context.Context, addr rangekey.AddrSlot) (rangekey.Record, bool, error) {
	if !m.isOpen {
		return rangekey.Record{}, false, ErrNotOpen
	}
	return m.strategy.QueryLatest(ctx, addr)
}

func (m *Manager) QueryHistorical(ctx context.Context, addr rangekey.AddrSlot, asOfVersion uint64) (rangekey.Record, bool, error) {
	if !m.isOpen {
		return rangekey.Record{}, false, ErrNotOpen
	}
	return m.strategy.QueryHistorical(ctx, addr, asOfVersion)
}

// Stats is the pass-through engine statistics spec.md §4.5/§4.1/§6 exposes:
// bloom-useful, bloom-full-positive, and compaction bytes read/written.
type Stats = kv.Stats

// Statser is implemented by both storage strategies to report their
// underlying store(s)' engine statistics.
type Statser interface {
	Stats() kv.Stats
}

func (m *Manager) Stats() kv.Stats {
	if s, ok := m.strategy.(Statser); ok {
		return s.Stats()
	}
	return kv.Stats{}
}

package strategies

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/erigontech/histkv/strategies/directversion"
	"github.com/erigontech/histkv/strategies/dualstore"
)

// Params carries everything a strategy constructor needs. DBPath is the
// directory the strategy opens its kv.Store handle(s) under; RangeSize only
// matters to the dual-store strategy.
type Params struct {
	DBPath           string
	RangeSize        uint32
	MaxPendingBlocks int
	MaxPendingBytes  int64
	BloomBitsPerKey  int
	CacheSegmentSize int
	Logger           *zap.Logger
}

// New builds the named strategy, matching the original's
// StrategyFactory::create_strategy case-insensitive dispatch. Recognized
// names are "direct_version" and "dual_rocksdb_adaptive".
func New(name string, p Params) (Strategy, error) {
	switch strings.ToLower(name) {
	case "direct_version":
		return directversion.New(directversion.Params{
			DBPath:           p.DBPath,
			MaxPendingBlocks: p.MaxPendingBlocks,
			MaxPendingBytes:  p.MaxPendingBytes,
			BloomBitsPerKey:  p.BloomBitsPerKey,
			Logger:           p.Logger,
		})
	case "dual_rocksdb_adaptive":
		return dualstore.New(dualstore.Params{
			DBPath:           p.DBPath,
			RangeSize:        p.RangeSize,
			MaxPendingBlocks: p.MaxPendingBlocks,
			MaxPendingBytes:  p.MaxPendingBytes,
			BloomBitsPerKey:  p.BloomBitsPerKey,
			CacheSegmentSize: p.CacheSegmentSize,
			Logger:           p.Logger,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrStrategyUnknown, name)
	}
}

// Names returns the canonical strategy names, for --help and validation.
func Names() []string {
	return []string{"direct_version", "dual_rocksdb_adaptive"}
}

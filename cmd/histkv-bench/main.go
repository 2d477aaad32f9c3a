// Command histkv-bench is the thin CLI entrypoint for the concurrent
// read/write benchmark harness, spec.md §6. Flag wiring is ported from the
// original's BenchmarkConfig::from_args (src/core/config.cpp), using
// urfave/cli/v2 in place of CLI11.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/erigontech/histkv/bench"
	"github.com/erigontech/histkv/config"
	"github.com/erigontech/histkv/dbmanager"
	"github.com/erigontech/histkv/numeric"
	"github.com/erigontech/histkv/strategies"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.Default()

	app := &cli.App{
		Name:  "histkv-bench",
		Usage: "historical-versioned key-value store benchmark harness",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Value: cfg.Strategy,
				Usage: fmt.Sprintf("storage strategy (%v)", strategies.Names())},
			&cli.StringFlag{Name: "db-path", Aliases: []string{"d"}, Value: cfg.DBPath,
				Usage: "database path"},
			&cli.StringFlag{Name: "total-keys", Aliases: []string{"k"}, Value: fmt.Sprintf("%d", cfg.TotalKeys),
				Usage: "total number of keys for testing (decimal or 0x-prefixed hex)"},
			&cli.Uint64Flag{Name: "duration", Aliases: []string{"t"}, Value: cfg.DurationMinutes,
				Usage: "test duration in minutes"},
			&cli.UintFlag{Name: "range-size", Value: uint(cfg.RangeSize),
				Usage: "range size for dual_rocksdb_adaptive"},
			&cli.IntFlag{Name: "batch-size-blocks", Value: cfg.BatchSizeBlocks,
				Usage: "number of blocks per write batch"},
			&cli.Int64Flag{Name: "max-batch-size-bytes", Value: cfg.MaxBatchSizeBytes,
				Usage: "maximum batch size in bytes"},
			&cli.BoolFlag{Name: "clean-data", Aliases: []string{"c"},
				Usage: "clean existing data before starting"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"},
				Usage: "enable verbose logging"},
			&cli.BoolFlag{Name: "disable-bloom-filter",
				Usage: "disable the bloom filter (enabled by default)"},
		},
		Action: func(c *cli.Context) error {
			cfg.Strategy = c.String("strategy")
			cfg.DBPath = c.String("db-path")
			totalKeys, ok := numeric.ParseUint64(c.String("total-keys"))
			if !ok {
				return fmt.Errorf("invalid --total-keys %q", c.String("total-keys"))
			}
			cfg.TotalKeys = totalKeys
			cfg.DurationMinutes = c.Uint64("duration")
			cfg.RangeSize = uint32(c.Uint("range-size"))
			cfg.BatchSizeBlocks = c.Int("batch-size-blocks")
			cfg.MaxBatchSizeBytes = c.Int64("max-batch-size-bytes")
			cfg.CleanExistingData = c.Bool("clean-data")
			cfg.Verbose = c.Bool("verbose")
			if c.Bool("disable-bloom-filter") {
				cfg.BloomBitsPerKey = 0
			}
			return runBenchmark(cfg)
		},
	}

	return app.Run(args)
}

func runBenchmark(cfg config.Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "config error:", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	log := newLogger(cfg.Verbose)
	defer log.Sync()

	log.Info("starting histkv-bench",
		zap.String("strategy", cfg.Strategy),
		zap.String("db_path", cfg.DBPath),
		zap.Uint64("total_keys", cfg.TotalKeys),
		zap.Uint64("duration_minutes", cfg.DurationMinutes))

	mgr, err := dbmanager.New(cfg, log)
	if err != nil {
		return fmt.Errorf("build db manager: %w", err)
	}
	if err := mgr.Open(cfg.CleanExistingData); err != nil {
		return fmt.Errorf("open db manager: %w", err)
	}
	defer mgr.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	keys := bench.NewKeySpace(rng, int(cfg.TotalKeys), 0, 0)

	driver := bench.NewDriver(mgr, keys, time.Duration(cfg.DurationMinutes)*time.Minute,
		2*runtime.NumCPU(), log)

	ctx := context.Background()
	if err := driver.RunInitialLoad(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	writeStats, queryStats, err := driver.Run(ctx)
	if err != nil {
		return fmt.Errorf("concurrent run: %w", err)
	}

	bench.PrintSummary(writeStats, queryStats)
	return nil
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

package bench

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/histkv/dbmanager"
	"github.com/erigontech/histkv/rangekey"
)

// writeBatchSize is the number of records in one writer block, matching
// test_concurrent_read_write.cpp's hard-coded 10000.
const writeBatchSize = 10000

// writeSleep is the pause between writer blocks (spec.md §4.7
// write_sleep_seconds default).
const writeSleep = 3 * time.Second

// warmup is how long the driver waits after starting the writer before
// starting readers (spec.md §4.7 "Duration discipline").
const warmup = 1 * time.Second

// Driver runs spec.md §4.7's one-writer/M-reader coordinator over a fixed
// wall-clock duration.
type Driver struct {
	mgr      *dbmanager.Manager
	keys     *KeySpace
	log      *zap.Logger
	duration time.Duration
	readers  int

	stateMu        sync.Mutex
	currentMaxBlk  uint64
	initialLoadEnd uint64

	writeMu        sync.Mutex
	writeLatencies []time.Duration
	writeCount     int

	queryMu          sync.Mutex
	queryLatencies   []time.Duration
	successfulQuerys int
}

// NewDriver builds a Driver. readers is M, the reader thread count; callers
// typically pass 2*runtime.NumCPU() per spec.md §4.7.
func NewDriver(mgr *dbmanager.Manager, keys *KeySpace, duration time.Duration, readers int, log *zap.Logger) *Driver {
	return &Driver{mgr: mgr, keys: keys, log: log, duration: duration, readers: readers}
}

// RunInitialLoad writes ks.Keys once each at block 0 via the initial-load
// fast path in a single block, then flushes, establishing
// initial_load_end_block.
func (d *Driver) RunInitialLoad(ctx context.Context) error {
	const block = uint64(0)
	values := d.keys.RandomValues(len(d.keys.Keys))
	records := make([]rangekey.WriteRecord, len(d.keys.Keys))
	for i, addr := range d.keys.Keys {
		records[i] = rangekey.WriteRecord{Addr: addr, Version: block, Value: values[i]}
	}
	if err := d.mgr.WriteInitialLoadBatch(ctx, records); err != nil {
		return err
	}
	if err := d.mgr.FlushAll(); err != nil {
		return err
	}
	d.stateMu.Lock()
	d.initialLoadEnd = block + 1
	d.currentMaxBlk = block
	d.stateMu.Unlock()
	if d.log != nil {
		d.log.Info("initial load complete", zap.Int("keys", len(d.keys.Keys)))
	}
	return nil
}

// Run executes the concurrent writer+reader workload for d.duration and
// returns the aggregate write and query statistics.
func (d *Driver) Run(ctx context.Context) (writeStats, queryStats LatencyStats, err error) {
	runCtx, cancel := context.WithTimeout(ctx, d.duration+warmup)
	defer cancel()

	start := time.Now()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return d.writerLoop(gctx, d.duration)
	})

	select {
	case <-time.After(warmup):
	case <-runCtx.Done():
	}

	for i := 0; i < d.readers; i++ {
		i := i
		g.Go(func() error {
			return d.readerLoop(gctx, i, start.Add(warmup+d.duration))
		})
	}

	if err := g.Wait(); err != nil {
		return LatencyStats{}, LatencyStats{}, err
	}

	actual := time.Since(start)
	writeStats = Summarize(d.writeLatencies, d.writeCount, actual)
	queryStats = Summarize(d.queryLatencies, d.successfulQuerys, actual)
	return writeStats, queryStats, nil
}

func (d *Driver) writerLoop(ctx context.Context, duration time.Duration) error {
	deadline := time.Now().Add(duration)

	d.stateMu.Lock()
	block := d.initialLoadEnd
	d.stateMu.Unlock()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for time.Now().Before(deadline) {
		batchSize := writeBatchSize
		if batchSize > len(d.keys.Keys) {
			batchSize = len(d.keys.Keys)
		}
		indices := d.keys.HotspotUpdateIndices(rng, batchSize)
		values := d.keys.RandomValues(len(indices))

		records := make([]rangekey.WriteRecord, 0, len(indices))
		for i, idx := range indices {
			if idx >= len(d.keys.Keys) {
				continue
			}
			records = append(records, rangekey.WriteRecord{Addr: d.keys.Keys[idx], Version: block, Value: values[i]})
		}

		writeStart := time.Now()
		if err := d.mgr.WriteBatch(ctx, records); err != nil {
			if d.log != nil {
				d.log.Error("writer thread failed to write batch", zap.Uint64("block", block), zap.Error(err))
			}
			return err
		}
		latency := time.Since(writeStart)

		d.writeMu.Lock()
		d.writeLatencies = append(d.writeLatencies, latency)
		d.writeCount++
		d.writeMu.Unlock()

		d.stateMu.Lock()
		d.currentMaxBlk = block
		d.stateMu.Unlock()

		block++

		select {
		case <-time.After(writeSleep):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (d *Driver) readerLoop(ctx context.Context, threadID int, deadline time.Time) error {
	local := &ThreadLocalLatencies{}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(threadID)))

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			d.mergeReaderResults(local)
			return nil
		default:
		}

		d.stateMu.Lock()
		maxBlock := d.currentMaxBlk
		minBlock := d.initialLoadEnd
		d.stateMu.Unlock()

		if maxBlock == 0 || len(d.keys.Keys) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		keyIdx := rng.Intn(len(d.keys.Keys))
		target := minBlock
		if maxBlock > minBlock {
			target += uint64(rng.Int63n(int64(maxBlock-minBlock) + 1))
		}

		queryStart := time.Now()
		_, ok, err := d.mgr.QueryHistorical(ctx, d.keys.Keys[keyIdx], target)
		latency := time.Since(queryStart)

		local.Record(latency, err == nil && ok)
	}

	d.mergeReaderResults(local)
	return nil
}

func (d *Driver) mergeReaderResults(local *ThreadLocalLatencies) {
	d.queryMu.Lock()
	defer d.queryMu.Unlock()
	d.queryLatencies = append(d.queryLatencies, local.Latencies...)
	d.successfulQuerys += local.SuccessCount
}

// PrintSummary renders the final human-readable table, the same role as
// print_performance_statistics, using go-pretty instead of raw log lines.
func PrintSummary(writeStats, queryStats LatencyStats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"metric", "write", "query"})
	t.AppendRow(table.Row{"count", writeStats.Count, queryStats.Count})
	t.AppendRow(table.Row{"avg", writeStats.Avg, queryStats.Avg})
	t.AppendRow(table.Row{"min", writeStats.Min, queryStats.Min})
	t.AppendRow(table.Row{"max", writeStats.Max, queryStats.Max})
	t.AppendRow(table.Row{"p50", writeStats.P50, queryStats.P50})
	t.AppendRow(table.Row{"p95", writeStats.P95, queryStats.P95})
	t.AppendRow(table.Row{"p99", writeStats.P99, queryStats.P99})
	t.AppendRow(table.Row{"ops/sec", writeStats.OpsPerSecond, queryStats.OpsPerSecond})
	t.AppendRow(table.Row{"success rate %", writeStats.SuccessRatePct, queryStats.SuccessRatePct})
	t.Render()
}

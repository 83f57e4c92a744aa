package writer

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/okx-data/internal/model"
)

// TableBuffer accumulates rows for one table. Appends and the flush swap
// share one mutex; sink I/O happens outside it. Rows reach the sink in
// append order, and ts_ingest_ms is fixed at append time under the same
// mutex, so committed rows never go backwards in ts_ingest_ms.
type TableBuffer struct {
	table     string
	batchSize int
	hardCap   int
	observer  Observer
	now       func() time.Time

	flushMu sync.Mutex // Serializes take..commit so batches commit in order

	mu         sync.Mutex
	space      *sync.Cond // Broadcast when rows leave the buffer or on close
	records    []model.Record
	pending    int // Rows handed to the sink and not yet committed
	waiters    int
	closed     bool
	failed     bool
	lastIngest int64 // Highest ts_ingest_ms appended
	metrics    WriterMetrics

	flushCh chan struct{} // Size trigger, capacity 1
}

func newTableBuffer(table string, cfg WriterConfig, observer Observer) *TableBuffer {
	b := &TableBuffer{
		table:     table,
		batchSize: cfg.BatchSize,
		hardCap:   cfg.HardCap,
		observer:  observer,
		now:       time.Now,
		records:   make([]model.Record, 0, cfg.BatchSize),
		flushCh:   make(chan struct{}, 1),
	}
	b.space = sync.NewCond(&b.mu)
	return b
}

// Append adds rec, blocking while the table is at its hard cap. It returns
// ErrBackpressure if ctx ends while blocked and ErrStopped after close.
//
// The row's ts_ingest_ms is raised to the table's last appended value if a
// concurrent appender stamped later but got here first; a zero stamp is
// filled from the clock.
func (b *TableBuffer) Append(ctx context.Context, rec model.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full() && !b.closed {
		stop := context.AfterFunc(ctx, func() {
			b.mu.Lock()
			b.space.Broadcast()
			b.mu.Unlock()
		})
		defer stop()

		b.waiters++
		if b.waiters == 1 {
			b.metrics.Backpressured = true
			b.observer.SetBackpressure(b.table, true)
		}
		for b.full() && !b.closed && ctx.Err() == nil {
			b.space.Wait()
		}
		b.waiters--
		if b.waiters == 0 {
			b.metrics.Backpressured = false
			b.observer.SetBackpressure(b.table, false)
		}

		if b.full() && !b.closed {
			return ErrBackpressure
		}
	}
	if b.closed {
		return ErrStopped
	}

	b.stamp(rec)
	b.records = append(b.records, rec)
	b.metrics.Appended++

	if len(b.records) >= b.batchSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *TableBuffer) stamp(rec model.Record) {
	ms := rec.IngestMs()
	if ms == 0 {
		ms = b.now().UnixMilli()
	}
	if ms < b.lastIngest {
		ms = b.lastIngest
	}
	b.lastIngest = ms
	rec.SetIngestMs(ms)
}

func (b *TableBuffer) full() bool {
	return len(b.records)+b.pending >= b.hardCap
}

// take swaps out up to batchSize rows and marks them pending.
func (b *TableBuffer) take() []model.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return nil
	}

	n := min(len(b.records), b.batchSize)
	batch := b.records[:n:n]
	rest := make([]model.Record, len(b.records)-n, max(b.batchSize, len(b.records)-n))
	copy(rest, b.records[n:])
	b.records = rest
	b.pending += n
	return batch
}

// commit records a successful write of n rows.
func (b *TableBuffer) commit(n int) {
	b.mu.Lock()
	b.pending -= n
	b.metrics.Inserted += int64(n)
	b.metrics.Flushes++
	b.space.Broadcast()
	b.mu.Unlock()
}

// requeue puts an unwritten batch back in front of newer rows.
func (b *TableBuffer) requeue(batch []model.Record) {
	b.mu.Lock()
	b.pending -= len(batch)
	merged := make([]model.Record, 0, len(batch)+len(b.records))
	merged = append(merged, batch...)
	merged = append(merged, b.records...)
	b.records = merged
	b.mu.Unlock()
}

func (b *TableBuffer) recordError() {
	b.mu.Lock()
	b.metrics.Errors++
	b.mu.Unlock()
}

// markFailed flags the table and reports whether this was the first failure.
func (b *TableBuffer) markFailed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	first := !b.failed
	b.failed = true
	b.metrics.Failed = true
	return first
}

func (b *TableBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.space.Broadcast()
	b.mu.Unlock()
}

// Len returns buffered rows, excluding in-flight ones.
func (b *TableBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Stats returns the table's counters.
func (b *TableBuffer) Stats() WriterMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metrics
	m.Buffered = len(b.records)
	m.Pending = b.pending
	return m
}

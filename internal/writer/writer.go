package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/okx-data/internal/model"
)

// Writer owns one TableBuffer and one flush goroutine per table.
type Writer struct {
	cfg      WriterConfig
	sink     Sink
	observer Observer
	fatal    FatalHandler
	logger   *slog.Logger

	tables map[string]*TableBuffer

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a Writer for the given tables. A nil observer or fatal
// handler is replaced by a no-op.
func NewWriter(
	cfg WriterConfig,
	tables []string,
	sink Sink,
	observer Observer,
	fatal FatalHandler,
	logger *slog.Logger,
) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if fatal == nil {
		fatal = func(string, error) {}
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.HardCap < cfg.BatchSize {
		cfg.HardCap = cfg.BatchSize
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}

	w := &Writer{
		cfg:      cfg,
		sink:     sink,
		observer: observer,
		fatal:    fatal,
		logger:   logger,
		tables:   make(map[string]*TableBuffer, len(tables)),
	}
	for _, t := range tables {
		w.tables[t] = newTableBuffer(t, cfg, observer)
	}
	return w
}

// Start launches a flush goroutine per table.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	for _, b := range w.tables {
		w.wg.Add(1)
		go w.flushLoop(b)
	}

	w.logger.Info("writer started",
		"tables", len(w.tables),
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"hard_cap", w.cfg.HardCap,
	)
	return nil
}

// Stop halts the flush loops, then drains every table with ctx bounding
// the final writes.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("writer flush loops stop timed out")
	}

	for _, b := range w.tables {
		b.close()
	}

	// Final flush
	var errs []error
	for name, b := range w.tables {
		if err := w.drain(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("final flush %s: %w", name, err))
			w.logger.Error("final flush failed", "table", name, "error", err, "rows_left", b.Len())
		}
	}

	w.logger.Info("writer stopped")
	return errors.Join(errs...)
}

// Append routes rec to its table's buffer.
func (w *Writer) Append(ctx context.Context, rec model.Record) error {
	b, ok := w.tables[rec.Table()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, rec.Table())
	}
	return b.Append(ctx, rec)
}

// AppendAll appends recs in order, stopping at the first error.
func (w *Writer) AppendAll(ctx context.Context, recs []model.Record) error {
	for _, rec := range recs {
		if err := w.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Table returns the buffer for a table, or nil.
func (w *Writer) Table(name string) *TableBuffer {
	return w.tables[name]
}

// Stats returns per-table metrics.
func (w *Writer) Stats() map[string]WriterMetrics {
	out := make(map[string]WriterMetrics, len(w.tables))
	for name, b := range w.tables {
		out[name] = b.Stats()
	}
	return out
}

// flushLoop flushes one table when it fills up, or once FlushInterval has
// passed since that table's last flush.
func (w *Writer) flushLoop(b *TableBuffer) {
	defer w.wg.Done()

	timer := time.NewTimer(w.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-timer.C:
			if err := w.drain(w.ctx, b); err != nil && w.ctx.Err() == nil {
				w.logger.Error("flush failed", "table", b.table, "error", err)
			}
		case <-b.flushCh:
			if err := w.flushFull(w.ctx, b); err != nil && w.ctx.Err() == nil {
				w.logger.Error("flush failed", "table", b.table, "error", err)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(w.cfg.FlushInterval)
	}
}

// flushFull writes full batches only; a partial tail waits for the ticker.
func (w *Writer) flushFull(ctx context.Context, b *TableBuffer) error {
	for b.Len() >= w.cfg.BatchSize {
		if err := w.flushOnce(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// drain writes batches until the table is empty.
func (w *Writer) drain(ctx context.Context, b *TableBuffer) error {
	for b.Len() > 0 {
		if err := w.flushOnce(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// flushOnce swaps out one batch and writes it with retries. On failure the
// batch goes back to the front of the buffer.
func (w *Writer) flushOnce(ctx context.Context, b *TableBuffer) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	batch := b.take()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := w.writeWithRetry(ctx, b, batch)
	if err != nil {
		b.requeue(batch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b.markFailed() {
			w.logger.Error("sink retries exhausted",
				"table", b.table,
				"rows", len(batch),
				"attempts", w.cfg.MaxRetries,
				"error", err,
			)
			w.fatal(b.table, err)
		}
		return err
	}

	b.commit(len(batch))
	w.observer.ObserveFlush(b.table, len(batch), time.Since(start))
	w.logger.Debug("flushed batch",
		"table", b.table,
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

func (w *Writer) writeWithRetry(ctx context.Context, b *TableBuffer, batch []model.Record) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.RetryBaseDelay
	bo.MaxInterval = w.cfg.RetryMaxDelay

	op := func() (struct{}, error) {
		err := w.sink.WriteBatch(ctx, b.table, batch)
		if err != nil {
			b.recordError()
			w.observer.ObserveFlushError(b.table)
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(w.cfg.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logger.Warn("sink write failed, retrying",
				"table", b.table,
				"rows", len(batch),
				"error", err,
				"retry_in", next,
			)
		}),
	)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
	}
	return err
}

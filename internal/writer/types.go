package writer

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/okx-data/internal/model"
)

// Errors returned by the writer.
var (
	ErrBackpressure     = errors.New("writer: table at hard cap")
	ErrStopped          = errors.New("writer: stopped")
	ErrUnknownTable     = errors.New("writer: unknown table")
	ErrRetriesExhausted = errors.New("writer: sink retries exhausted")
)

// Sink persists one batch for one table. A nil error means every row was
// accepted; any error means none were.
type Sink interface {
	WriteBatch(ctx context.Context, table string, rows []model.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, table string, rows []model.Record) error

// WriteBatch calls f.
func (f SinkFunc) WriteBatch(ctx context.Context, table string, rows []model.Record) error {
	return f(ctx, table, rows)
}

// FatalHandler is called once per table when a batch cannot be written
// after all retries.
type FatalHandler func(table string, err error)

// Observer receives writer events for metrics.
type Observer interface {
	ObserveFlush(table string, rows int, d time.Duration)
	ObserveFlushError(table string)
	SetBackpressure(table string, active bool)
}

type nopObserver struct{}

func (nopObserver) ObserveFlush(string, int, time.Duration) {}
func (nopObserver) ObserveFlushError(string)                {}
func (nopObserver) SetBackpressure(string, bool)            {}

// WriterConfig contains configuration for the batch writer.
type WriterConfig struct {
	// BatchSize is the number of rows that triggers a flush, and the most
	// rows handed to the sink at once.
	BatchSize int

	// FlushInterval is the maximum time rows wait in a table's buffer.
	FlushInterval time.Duration

	// HardCap bounds buffered plus in-flight rows per table.
	HardCap int

	// MaxRetries is the number of sink attempts per batch.
	MaxRetries int

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:      5000,
		FlushInterval:  150 * time.Millisecond,
		HardCap:        100000,
		MaxRetries:     8,
		RetryBaseDelay: 250 * time.Millisecond,
		RetryMaxDelay:  10 * time.Second,
	}
}

// WriterMetrics holds counters for one table.
type WriterMetrics struct {
	Appended      int64
	Inserted      int64 // Rows accepted by the sink
	Flushes       int64
	Errors        int64 // Failed sink attempts
	Buffered      int
	Pending       int
	Backpressured bool
	Failed        bool
}

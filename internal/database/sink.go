package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/okx-data/internal/model"
)

// TxBeginner is the subset of *pgxpool.Pool the sink needs.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SinkStats holds row counters for the sink.
type SinkStats struct {
	Inserted  int64
	Conflicts int64
	Batches   int64
}

// TimescaleSink writes record batches in a single transaction per batch.
// Rows that collide with an existing primary key are skipped.
type TimescaleSink struct {
	db     TxBeginner
	logger *slog.Logger

	mu      sync.RWMutex
	queries map[string]string // table -> INSERT statement

	inserted  atomic.Int64
	conflicts atomic.Int64
	batches   atomic.Int64
}

// NewTimescaleSink creates a sink on top of a pool.
func NewTimescaleSink(db TxBeginner, logger *slog.Logger) *TimescaleSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimescaleSink{
		db:      db,
		logger:  logger.With("component", "timescale_sink"),
		queries: make(map[string]string),
	}
}

// WriteBatch inserts rows into table. Either every row is applied (or
// skipped as a duplicate) or the transaction is rolled back.
func (s *TimescaleSink) WriteBatch(ctx context.Context, table string, rows []model.Record) error {
	if len(rows) == 0 {
		return nil
	}

	query := s.query(table, rows[0].Columns())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s batch: %w", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.Table() != table {
			return fmt.Errorf("record for %s queued on %s", r.Table(), table)
		}
		batch.Queue(query, r.Values()...)
	}

	conflicts, err := execBatch(ctx, tx, batch, len(rows))
	if err != nil {
		return fmt.Errorf("insert %s batch: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s batch: %w", table, err)
	}

	s.inserted.Add(int64(len(rows) - conflicts))
	s.conflicts.Add(int64(conflicts))
	s.batches.Add(1)

	if conflicts > 0 {
		s.logger.Debug("duplicate rows skipped", "table", table, "conflicts", conflicts)
	}
	return nil
}

// Stats returns sink counters.
func (s *TimescaleSink) Stats() SinkStats {
	return SinkStats{
		Inserted:  s.inserted.Load(),
		Conflicts: s.conflicts.Load(),
		Batches:   s.batches.Load(),
	}
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) (conflicts int, err error) {
	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range n {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, results.Close()
}

func (s *TimescaleSink) query(table string, columns []string) string {
	s.mu.RLock()
	q, ok := s.queries[table]
	s.mu.RUnlock()
	if ok {
		return q
	}

	q = BuildInsert(table, columns)
	s.mu.Lock()
	s.queries[table] = q
	s.mu.Unlock()
	return q
}

// BuildInsert returns an INSERT statement for the given columns that skips
// rows conflicting with the table's primary key.
func BuildInsert(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{c}.Sanitize())
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(i + 1))
	}
	b.WriteString(") ON CONFLICT DO NOTHING")
	return b.String()
}

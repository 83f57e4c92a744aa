package database

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/okx-data/internal/database/migrations"
	"github.com/rickgao/okx-data/internal/model"
)

func TestBuildInsert(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "trades" ("instid", "tradeid", "px") VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		BuildInsert("trades", []string{"instid", "tradeid", "px"}))
}

// fakeResults reports one row affected per queued insert unless the
// statement index is listed in dupes.
type fakeResults struct {
	pgx.BatchResults
	n     int
	dupes map[int]bool
	err   error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	i := r.n
	r.n++
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	if r.dupes[i] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Close() error { return nil }

type fakeTx struct {
	pgx.Tx
	queued     []string
	args       [][]any
	results    *fakeResults
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		tx.queued = append(tx.queued, q.SQL)
		tx.args = append(tx.args, q.Arguments)
	}
	return tx.results
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx  *fakeTx
	err error
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if db.err != nil {
		return nil, db.err
	}
	return db.tx, nil
}

func trade(id string) model.Record {
	return &model.Trade{
		InstID:     "BTC-USDT-SWAP",
		TradeID:    id,
		Price:      decimal.RequireFromString("68000.5"),
		Size:       decimal.RequireFromString("0.01"),
		Side:       "buy",
		TsEventMs:  1700000000000,
		TsIngestMs: 1700000000005,
	}
}

func TestTimescaleSink_WriteBatch(t *testing.T) {
	tx := &fakeTx{results: &fakeResults{dupes: map[int]bool{1: true}}}
	sink := NewTimescaleSink(&fakeDB{tx: tx}, nil)

	rows := []model.Record{trade("1"), trade("2"), trade("3")}
	require.NoError(t, sink.WriteBatch(context.Background(), model.TableTrades, rows))

	assert.True(t, tx.committed)
	require.Len(t, tx.queued, 3)
	assert.True(t, strings.HasPrefix(tx.queued[0], `INSERT INTO "trades"`), tx.queued[0])
	assert.Equal(t, "3", tx.args[2][1])

	stats := sink.Stats()
	assert.Equal(t, int64(2), stats.Inserted)
	assert.Equal(t, int64(1), stats.Conflicts)
	assert.Equal(t, int64(1), stats.Batches)
}

func TestTimescaleSink_WriteBatchErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("begin fails", func(t *testing.T) {
		sink := NewTimescaleSink(&fakeDB{err: boom}, nil)
		err := sink.WriteBatch(ctx, model.TableTrades, []model.Record{trade("1")})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("exec fails rolls back", func(t *testing.T) {
		tx := &fakeTx{results: &fakeResults{err: boom}}
		sink := NewTimescaleSink(&fakeDB{tx: tx}, nil)
		err := sink.WriteBatch(ctx, model.TableTrades, []model.Record{trade("1")})
		assert.ErrorIs(t, err, boom)
		assert.False(t, tx.committed)
		assert.True(t, tx.rolledBack)
		assert.Zero(t, sink.Stats().Batches, "failed batch counted")
	})

	t.Run("mixed tables rejected", func(t *testing.T) {
		tx := &fakeTx{results: &fakeResults{}}
		sink := NewTimescaleSink(&fakeDB{tx: tx}, nil)
		rows := []model.Record{trade("1"), &model.OpenInterest{InstID: "BTC-USDT-SWAP"}}
		assert.Error(t, sink.WriteBatch(ctx, model.TableTrades, rows))
		assert.False(t, tx.committed, "mixed batch committed")
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		sink := NewTimescaleSink(&fakeDB{err: boom}, nil)
		assert.NoError(t, sink.WriteBatch(ctx, model.TableTrades, nil))
	})
}

func TestMigrationsCoverEveryTable(t *testing.T) {
	up, err := fs.ReadFile(migrations.Files, "000001_create_market_data.up.sql")
	require.NoError(t, err)
	down, err := fs.ReadFile(migrations.Files, "000001_create_market_data.down.sql")
	require.NoError(t, err)

	for _, table := range model.Tables {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table+" (")
		assert.Contains(t, string(up), "ON "+table+" (ts_ingest_ms)")
		assert.Contains(t, string(down), "DROP TABLE IF EXISTS "+table+";")
	}
}

func TestMigrationColumnsMatchRecords(t *testing.T) {
	up, err := fs.ReadFile(migrations.Files, "000001_create_market_data.up.sql")
	require.NoError(t, err)
	schema := string(up)

	records := []model.Record{
		&model.Trade{}, &model.BookSnapshotLevel{}, &model.BookUpdate{}, &model.Ticker{},
		&model.FundingRate{}, &model.MarkPrice{}, &model.OpenInterest{}, &model.IndexTicker{},
	}
	for _, r := range records {
		start := strings.Index(schema, "CREATE TABLE IF NOT EXISTS "+r.Table()+" (")
		if !assert.GreaterOrEqual(t, start, 0, "no table for %s", r.Table()) {
			continue
		}
		end := strings.Index(schema[start:], ");")
		body := schema[start : start+end]
		for _, col := range r.Columns() {
			assert.Contains(t, body, "\n    "+col+" ", "table %s column %s", r.Table(), col)
		}
	}
}

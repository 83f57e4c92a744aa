package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/okx-data/internal/codec"
	"github.com/rickgao/okx-data/internal/model"
	"github.com/rickgao/okx-data/internal/orderbook"
)

// steppedClock returns the given times in order, then repeats the last one.
func steppedClock(times ...time.Time) Clock {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestIngestMsMonotone(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	n := New(steppedClock(base, base.Add(5*time.Millisecond), base.Add(-time.Second), base.Add(6*time.Millisecond)))

	got := []int64{n.IngestMs(), n.IngestMs(), n.IngestMs(), n.IngestMs()}
	want := []int64{1700000000000, 1700000000005, 1700000000005, 1700000000006}
	assert.Equal(t, want, got, "a clock step backwards must not move ts_ingest_ms backwards")
}

func TestTrade(t *testing.T) {
	n := New(steppedClock(time.UnixMilli(1700000000123)))

	tr, err := n.Trade(codec.TradeData{
		InstID: "ETH-TEST", TradeID: "T1", Px: "3210.12", Sz: "0.5", Side: "sell", Ts: "1700000000100",
	})
	require.NoError(t, err)
	assert.Equal(t, "ETH-TEST", tr.InstID)
	assert.Equal(t, "T1", tr.TradeID)
	assert.True(t, tr.Price.Equal(decimal.RequireFromString("3210.12")))
	assert.Equal(t, int64(1700000000100), tr.TsEventMs)
	assert.Equal(t, int64(1700000000123), tr.TsIngestMs)
	assert.Equal(t, model.TableTrades, tr.Table())
}

func TestTradeMalformed(t *testing.T) {
	n := New(nil)
	tests := []struct {
		name string
		d    codec.TradeData
	}{
		{"missing id", codec.TradeData{InstID: "X", Px: "1", Sz: "1", Side: "buy", Ts: "1"}},
		{"bad side", codec.TradeData{InstID: "X", TradeID: "1", Px: "1", Sz: "1", Side: "long", Ts: "1"}},
		{"non numeric px", codec.TradeData{InstID: "X", TradeID: "1", Px: "abc", Sz: "1", Side: "buy", Ts: "1"}},
		{"missing ts", codec.TradeData{InstID: "X", TradeID: "1", Px: "1", Sz: "1", Side: "buy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Trade(tt.d)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestTickerOptionalFields(t *testing.T) {
	n := New(nil)
	tk, err := n.Ticker(codec.TickerData{InstID: "BTC-USDT-SWAP", Last: "64000.1", BidPx: "64000", Ts: "1700000000000"})
	require.NoError(t, err)
	assert.True(t, tk.AskPx.IsZero())
	assert.True(t, tk.Last.Equal(decimal.RequireFromString("64000.1")))
}

func TestFundingRateFallsBackToFundingTime(t *testing.T) {
	n := New(nil)
	f, err := n.FundingRate(codec.FundingRateData{
		InstID: "BTC-USDT-SWAP", FundingRate: "0.0001", FundingTime: "1700006400000", NextFundingTime: "1700035200000",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1700006400000), f.TsEventMs)
	assert.Equal(t, int64(1700035200000), f.NextFundingTimeMs)
}

func TestMarkOpenInterestIndex(t *testing.T) {
	n := New(nil)

	m, err := n.MarkPrice(codec.MarkPriceData{InstID: "BTC-USDT-SWAP", MarkPx: "64001.2", Ts: "1700000000000"})
	require.NoError(t, err)
	assert.True(t, m.IdxPx.IsZero())
	assert.Zero(t, m.IdxTsMs)

	_, err = n.MarkPrice(codec.MarkPriceData{InstID: "BTC-USDT-SWAP", Ts: "1700000000000"})
	assert.ErrorIs(t, err, ErrMalformed)

	o, err := n.OpenInterest(codec.OpenInterestData{InstID: "BTC-USDT-SWAP", OI: "5000", OICcy: "50", Ts: "1700000000000"})
	require.NoError(t, err)
	assert.True(t, o.OICcy.Equal(decimal.NewFromInt(50)))

	i, err := n.IndexTicker(codec.IndexTickerData{InstID: "BTC-USDT", IdxPx: "64000", SodUtc0: "63000", Ts: "1700000000000"})
	require.NoError(t, err)
	assert.Equal(t, model.TableIndexTickers, i.Table())
}

func TestBookSnapshotRows(t *testing.T) {
	n := New(steppedClock(time.UnixMilli(1700000000999)))
	lvl := func(px, sz string) codec.Level {
		return codec.Level{Price: decimal.RequireFromString(px), Size: decimal.RequireFromString(sz), Px: px, Sz: sz}
	}

	rows := n.BookSnapshot(&orderbook.Snapshot{
		InstID: "BTC-TEST",
		SeqID:  100,
		TsMs:   1700000000900,
		Bids:   []codec.Level{lvl("100", "1"), lvl("99", "2")},
		Asks:   []codec.Level{lvl("101", "3")},
	})
	require.Len(t, rows, 3)

	first := rows[0].(*model.BookSnapshotLevel)
	last := rows[2].(*model.BookSnapshotLevel)
	assert.Equal(t, first.SnapshotID, last.SnapshotID)
	assert.Equal(t, model.SideBid, first.Side)
	assert.Equal(t, int16(1), first.Level)
	assert.Equal(t, int16(2), rows[1].(*model.BookSnapshotLevel).Level)
	assert.Equal(t, model.SideAsk, last.Side)
	assert.Equal(t, int16(1), last.Level)
	for _, r := range rows {
		assert.Equal(t, int64(1700000000999), r.IngestMs())
		assert.Equal(t, int64(1700000000900), r.EventMs())
	}

	again := n.BookSnapshot(&orderbook.Snapshot{InstID: "BTC-TEST", Bids: []codec.Level{lvl("1", "1")}})
	assert.NotEqual(t, first.SnapshotID, again[0].(*model.BookSnapshotLevel).SnapshotID)
}

func TestBookUpdateRow(t *testing.T) {
	n := New(nil)
	u, err := n.BookUpdate(&codec.BookMessage{
		InstID:    "BTC-TEST",
		SeqID:     101,
		PrevSeqID: 100,
		Checksum:  -5,
		RawBids:   [][]string{{"100", "0", "0", "0"}},
		TsMs:      1700000000000,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[["100","0","0","0"]]`, string(u.BidsDelta))
	assert.Equal(t, "[]", string(u.AsksDelta))
	assert.Equal(t, int32(-5), u.Checksum)
	assert.Equal(t, int64(100), u.PrevSeqID)
}

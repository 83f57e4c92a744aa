package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Destination table names.
const (
	TableTrades             = "trades"
	TableOrderbookSnapshots = "orderbook_snapshots"
	TableOrderbookUpdates   = "orderbook_updates"
	TableTickers            = "tickers"
	TableFundingRates       = "funding_rates"
	TableMarkPrices         = "mark_prices"
	TableOpenInterest       = "open_interest"
	TableIndexTickers       = "index_tickers"
)

// Tables lists every destination table in a stable order.
var Tables = []string{
	TableTrades,
	TableOrderbookSnapshots,
	TableOrderbookUpdates,
	TableTickers,
	TableFundingRates,
	TableMarkPrices,
	TableOpenInterest,
	TableIndexTickers,
}

// Record is a normalized row bound for one destination table.
type Record interface {
	Table() string
	InstrumentID() string
	EventMs() int64
	IngestMs() int64
	SetIngestMs(ms int64)
	Columns() []string
	Values() []any
}

// Book side codes used in orderbook_snapshots.side.
const (
	SideBid int16 = 1
	SideAsk int16 = 2
)

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

// Trade represents an executed trade.
type Trade struct {
	InstID     string
	TradeID    string // Exchange trade id, unique per instrument
	Price      decimal.Decimal
	Size       decimal.Decimal
	Side       string // Taker side: "buy" or "sell"
	TsEventMs  int64
	TsIngestMs int64
}

var tradeColumns = []string{"instid", "tradeid", "px", "sz", "side", "ts_event_ms", "ts_ingest_ms"}

func (t *Trade) Table() string        { return TableTrades }
func (t *Trade) InstrumentID() string { return t.InstID }
func (t *Trade) EventMs() int64       { return t.TsEventMs }
func (t *Trade) IngestMs() int64      { return t.TsIngestMs }
func (t *Trade) SetIngestMs(ms int64) { t.TsIngestMs = ms }
func (t *Trade) Columns() []string    { return tradeColumns }
func (t *Trade) Values() []any {
	return []any{t.InstID, t.TradeID, t.Price, t.Size, t.Side, t.TsEventMs, t.TsIngestMs}
}

// -----------------------------------------------------------------------------
// Order books
// -----------------------------------------------------------------------------

// BookSnapshotLevel is one price level of a book snapshot. All levels of one
// snapshot share a SnapshotID.
type BookSnapshotLevel struct {
	SnapshotID uuid.UUID
	InstID     string
	Side       int16 // SideBid or SideAsk
	Price      decimal.Decimal
	Size       decimal.Decimal
	Level      int16 // 1-based, 1 = best price
	SeqID      int64
	TsEventMs  int64
	TsIngestMs int64
}

var bookSnapshotColumns = []string{"snapshot_id", "instid", "side", "price", "size", "level", "seq_id", "ts_event_ms", "ts_ingest_ms"}

func (b *BookSnapshotLevel) Table() string        { return TableOrderbookSnapshots }
func (b *BookSnapshotLevel) InstrumentID() string { return b.InstID }
func (b *BookSnapshotLevel) EventMs() int64       { return b.TsEventMs }
func (b *BookSnapshotLevel) IngestMs() int64      { return b.TsIngestMs }
func (b *BookSnapshotLevel) SetIngestMs(ms int64) { b.TsIngestMs = ms }
func (b *BookSnapshotLevel) Columns() []string    { return bookSnapshotColumns }
func (b *BookSnapshotLevel) Values() []any {
	return []any{b.SnapshotID, b.InstID, b.Side, b.Price, b.Size, b.Level, b.SeqID, b.TsEventMs, b.TsIngestMs}
}

// BookUpdate is one validated incremental book update. The deltas are the
// exchange's [price, size, ...] arrays re-encoded as JSON.
type BookUpdate struct {
	InstID     string
	SeqID      int64
	PrevSeqID  int64
	Checksum   int32
	BidsDelta  []byte // JSON
	AsksDelta  []byte // JSON
	TsEventMs  int64
	TsIngestMs int64
}

var bookUpdateColumns = []string{"instid", "seq_id", "prev_seq_id", "checksum", "bids_delta", "asks_delta", "ts_event_ms", "ts_ingest_ms"}

func (b *BookUpdate) Table() string        { return TableOrderbookUpdates }
func (b *BookUpdate) InstrumentID() string { return b.InstID }
func (b *BookUpdate) EventMs() int64       { return b.TsEventMs }
func (b *BookUpdate) IngestMs() int64      { return b.TsIngestMs }
func (b *BookUpdate) SetIngestMs(ms int64) { b.TsIngestMs = ms }
func (b *BookUpdate) Columns() []string    { return bookUpdateColumns }
func (b *BookUpdate) Values() []any {
	return []any{b.InstID, b.SeqID, b.PrevSeqID, b.Checksum, string(b.BidsDelta), string(b.AsksDelta), b.TsEventMs, b.TsIngestMs}
}

// -----------------------------------------------------------------------------
// Market state
// -----------------------------------------------------------------------------

// Ticker is a top-of-book and 24h statistics update.
type Ticker struct {
	InstID     string
	Last       decimal.Decimal
	LastSz     decimal.Decimal
	BidPx      decimal.Decimal
	BidSz      decimal.Decimal
	AskPx      decimal.Decimal
	AskSz      decimal.Decimal
	Open24h    decimal.Decimal
	High24h    decimal.Decimal
	Low24h     decimal.Decimal
	Vol24h     decimal.Decimal
	VolCcy24h  decimal.Decimal
	TsEventMs  int64
	TsIngestMs int64
}

var tickerColumns = []string{
	"instid", "last", "lastsz", "bidpx", "bidsz", "askpx", "asksz",
	"open24h", "high24h", "low24h", "vol24h", "volccy24h", "ts_event_ms", "ts_ingest_ms",
}

func (t *Ticker) Table() string        { return TableTickers }
func (t *Ticker) InstrumentID() string { return t.InstID }
func (t *Ticker) EventMs() int64       { return t.TsEventMs }
func (t *Ticker) IngestMs() int64      { return t.TsIngestMs }
func (t *Ticker) SetIngestMs(ms int64) { t.TsIngestMs = ms }
func (t *Ticker) Columns() []string    { return tickerColumns }
func (t *Ticker) Values() []any {
	return []any{
		t.InstID, t.Last, t.LastSz, t.BidPx, t.BidSz, t.AskPx, t.AskSz,
		t.Open24h, t.High24h, t.Low24h, t.Vol24h, t.VolCcy24h, t.TsEventMs, t.TsIngestMs,
	}
}

// FundingRate is a perpetual swap funding rate update.
type FundingRate struct {
	InstID            string
	Rate              decimal.Decimal
	FundingTimeMs     int64
	NextFundingTimeMs int64
	TsEventMs         int64
	TsIngestMs        int64
}

var fundingRateColumns = []string{"instid", "fundingrate", "fundingtime", "nextfundingtime", "ts_event_ms", "ts_ingest_ms"}

func (f *FundingRate) Table() string        { return TableFundingRates }
func (f *FundingRate) InstrumentID() string { return f.InstID }
func (f *FundingRate) EventMs() int64       { return f.TsEventMs }
func (f *FundingRate) IngestMs() int64      { return f.TsIngestMs }
func (f *FundingRate) SetIngestMs(ms int64) { f.TsIngestMs = ms }
func (f *FundingRate) Columns() []string    { return fundingRateColumns }
func (f *FundingRate) Values() []any {
	return []any{f.InstID, f.Rate, f.FundingTimeMs, f.NextFundingTimeMs, f.TsEventMs, f.TsIngestMs}
}

// MarkPrice is a mark price update. IdxPx and IdxTsMs are zero when the
// exchange omits them.
type MarkPrice struct {
	InstID     string
	MarkPx     decimal.Decimal
	IdxPx      decimal.Decimal
	IdxTsMs    int64
	TsEventMs  int64
	TsIngestMs int64
}

var markPriceColumns = []string{"instid", "markpx", "idxpx", "idxts", "ts_event_ms", "ts_ingest_ms"}

func (m *MarkPrice) Table() string        { return TableMarkPrices }
func (m *MarkPrice) InstrumentID() string { return m.InstID }
func (m *MarkPrice) EventMs() int64       { return m.TsEventMs }
func (m *MarkPrice) IngestMs() int64      { return m.TsIngestMs }
func (m *MarkPrice) SetIngestMs(ms int64) { m.TsIngestMs = ms }
func (m *MarkPrice) Columns() []string    { return markPriceColumns }
func (m *MarkPrice) Values() []any {
	return []any{m.InstID, m.MarkPx, m.IdxPx, m.IdxTsMs, m.TsEventMs, m.TsIngestMs}
}

// OpenInterest is an open interest update.
type OpenInterest struct {
	InstID     string
	OI         decimal.Decimal // Contracts
	OICcy      decimal.Decimal // Base currency
	TsEventMs  int64
	TsIngestMs int64
}

var openInterestColumns = []string{"instid", "oi", "oiccy", "ts_event_ms", "ts_ingest_ms"}

func (o *OpenInterest) Table() string        { return TableOpenInterest }
func (o *OpenInterest) InstrumentID() string { return o.InstID }
func (o *OpenInterest) EventMs() int64       { return o.TsEventMs }
func (o *OpenInterest) IngestMs() int64      { return o.TsIngestMs }
func (o *OpenInterest) SetIngestMs(ms int64) { o.TsIngestMs = ms }
func (o *OpenInterest) Columns() []string    { return openInterestColumns }
func (o *OpenInterest) Values() []any {
	return []any{o.InstID, o.OI, o.OICcy, o.TsEventMs, o.TsIngestMs}
}

// IndexTicker is an index price update (instId like "BTC-USDT").
type IndexTicker struct {
	InstID     string
	IdxPx      decimal.Decimal
	Open24h    decimal.Decimal
	High24h    decimal.Decimal
	Low24h     decimal.Decimal
	SodUtc0    decimal.Decimal
	SodUtc8    decimal.Decimal
	TsEventMs  int64
	TsIngestMs int64
}

var indexTickerColumns = []string{"instid", "idxpx", "open24h", "high24h", "low24h", "sodutc0", "sodutc8", "ts_event_ms", "ts_ingest_ms"}

func (i *IndexTicker) Table() string        { return TableIndexTickers }
func (i *IndexTicker) InstrumentID() string { return i.InstID }
func (i *IndexTicker) EventMs() int64       { return i.TsEventMs }
func (i *IndexTicker) IngestMs() int64      { return i.TsIngestMs }
func (i *IndexTicker) SetIngestMs(ms int64) { i.TsIngestMs = ms }
func (i *IndexTicker) Columns() []string    { return indexTickerColumns }
func (i *IndexTicker) Values() []any {
	return []any{i.InstID, i.IdxPx, i.Open24h, i.High24h, i.Low24h, i.SodUtc0, i.SodUtc8, i.TsEventMs, i.TsIngestMs}
}

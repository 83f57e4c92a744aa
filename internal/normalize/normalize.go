package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/okx-data/internal/codec"
	"github.com/rickgao/okx-data/internal/model"
	"github.com/rickgao/okx-data/internal/orderbook"
)

// ErrMalformed marks a message that passed decoding but cannot become a row.
var ErrMalformed = errors.New("malformed record")

// Clock returns the current time.
type Clock func() time.Time

// Normalizer stamps and converts records. Safe for concurrent use.
type Normalizer struct {
	clock    Clock
	lastMs   atomic.Int64
	validate *validator.Validate
}

// New creates a Normalizer. A nil clock uses time.Now.
func New(clock Clock) *Normalizer {
	if clock == nil {
		clock = time.Now
	}
	return &Normalizer{
		clock:    clock,
		validate: validator.New(),
	}
}

// IngestMs returns the current ingest timestamp, never smaller than any
// value returned before.
func (n *Normalizer) IngestMs() int64 {
	now := n.clock().UnixMilli()
	for {
		last := n.lastMs.Load()
		if now <= last {
			return last
		}
		if n.lastMs.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (n *Normalizer) check(kind string, v any) error {
	if err := n.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return nil
}

// Trade converts a trades element.
func (n *Normalizer) Trade(d codec.TradeData) (*model.Trade, error) {
	if err := n.check("trade", &d); err != nil {
		return nil, err
	}
	var p parser
	t := &model.Trade{
		InstID:    d.InstID,
		TradeID:   d.TradeID,
		Price:     p.decimal("px", d.Px),
		Size:      p.decimal("sz", d.Sz),
		Side:      d.Side,
		TsEventMs: p.millis("ts", d.Ts),
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: trade %s: %v", ErrMalformed, d.TradeID, p.err)
	}
	t.TsIngestMs = n.IngestMs()
	return t, nil
}

// Ticker converts a tickers element.
func (n *Normalizer) Ticker(d codec.TickerData) (*model.Ticker, error) {
	if err := n.check("ticker", &d); err != nil {
		return nil, err
	}
	var p parser
	t := &model.Ticker{
		InstID:    d.InstID,
		Last:      p.decimal("last", d.Last),
		LastSz:    p.decimal("lastSz", d.LastSz),
		BidPx:     p.decimal("bidPx", d.BidPx),
		BidSz:     p.decimal("bidSz", d.BidSz),
		AskPx:     p.decimal("askPx", d.AskPx),
		AskSz:     p.decimal("askSz", d.AskSz),
		Open24h:   p.decimal("open24h", d.Open24h),
		High24h:   p.decimal("high24h", d.High24h),
		Low24h:    p.decimal("low24h", d.Low24h),
		Vol24h:    p.decimal("vol24h", d.Vol24h),
		VolCcy24h: p.decimal("volCcy24h", d.VolCcy24h),
		TsEventMs: p.millis("ts", d.Ts),
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: ticker %s: %v", ErrMalformed, d.InstID, p.err)
	}
	t.TsIngestMs = n.IngestMs()
	return t, nil
}

// FundingRate converts a funding-rate element. Older payloads carry no ts;
// fundingTime is used as the event time then.
func (n *Normalizer) FundingRate(d codec.FundingRateData) (*model.FundingRate, error) {
	if err := n.check("funding rate", &d); err != nil {
		return nil, err
	}
	var p parser
	f := &model.FundingRate{
		InstID:            d.InstID,
		Rate:              p.decimal("fundingRate", d.FundingRate),
		FundingTimeMs:     p.millis("fundingTime", d.FundingTime),
		NextFundingTimeMs: p.millis("nextFundingTime", d.NextFundingTime),
		TsEventMs:         p.millis("ts", d.Ts),
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: funding rate %s: %v", ErrMalformed, d.InstID, p.err)
	}
	if f.TsEventMs == 0 {
		f.TsEventMs = f.FundingTimeMs
	}
	f.TsIngestMs = n.IngestMs()
	return f, nil
}

// MarkPrice converts a mark-price element.
func (n *Normalizer) MarkPrice(d codec.MarkPriceData) (*model.MarkPrice, error) {
	if err := n.check("mark price", &d); err != nil {
		return nil, err
	}
	var p parser
	m := &model.MarkPrice{
		InstID:    d.InstID,
		MarkPx:    p.decimal("markPx", d.MarkPx),
		IdxPx:     p.decimal("idxPx", d.IdxPx),
		IdxTsMs:   p.millis("idxTs", d.IdxTs),
		TsEventMs: p.millis("ts", d.Ts),
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: mark price %s: %v", ErrMalformed, d.InstID, p.err)
	}
	m.TsIngestMs = n.IngestMs()
	return m, nil
}

// OpenInterest converts an open-interest element.
func (n *Normalizer) OpenInterest(d codec.OpenInterestData) (*model.OpenInterest, error) {
	if err := n.check("open interest", &d); err != nil {
		return nil, err
	}
	var p parser
	o := &model.OpenInterest{
		InstID:    d.InstID,
		OI:        p.decimal("oi", d.OI),
		OICcy:     p.decimal("oiCcy", d.OICcy),
		TsEventMs: p.millis("ts", d.Ts),
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: open interest %s: %v", ErrMalformed, d.InstID, p.err)
	}
	o.TsIngestMs = n.IngestMs()
	return o, nil
}

// IndexTicker converts an index-tickers element.
func (n *Normalizer) IndexTicker(d codec.IndexTickerData) (*model.IndexTicker, error) {
	if err := n.check("index ticker", &d); err != nil {
		return nil, err
	}
	var p parser
	i := &model.IndexTicker{
		InstID:    d.InstID,
		IdxPx:     p.decimal("idxPx", d.IdxPx),
		Open24h:   p.decimal("open24h", d.Open24h),
		High24h:   p.decimal("high24h", d.High24h),
		Low24h:    p.decimal("low24h", d.Low24h),
		SodUtc0:   p.decimal("sodUtc0", d.SodUtc0),
		SodUtc8:   p.decimal("sodUtc8", d.SodUtc8),
		TsEventMs: p.millis("ts", d.Ts),
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: index ticker %s: %v", ErrMalformed, d.InstID, p.err)
	}
	i.TsIngestMs = n.IngestMs()
	return i, nil
}

// BookSnapshot expands a snapshot into one row per level sharing a fresh snapshot_id.
func (n *Normalizer) BookSnapshot(s *orderbook.Snapshot) []model.Record {
	id := uuid.New()
	ingest := n.IngestMs()
	rows := make([]model.Record, 0, len(s.Bids)+len(s.Asks))

	appendSide := func(side int16, levels []codec.Level) {
		for i, l := range levels {
			rows = append(rows, &model.BookSnapshotLevel{
				SnapshotID: id,
				InstID:     s.InstID,
				Side:       side,
				Price:      l.Price,
				Size:       l.Size,
				Level:      int16(i + 1),
				SeqID:      s.SeqID,
				TsEventMs:  s.TsMs,
				TsIngestMs: ingest,
			})
		}
	}
	appendSide(model.SideBid, s.Bids)
	appendSide(model.SideAsk, s.Asks)
	return rows
}

// BookUpdate converts a validated incremental update.
func (n *Normalizer) BookUpdate(m *codec.BookMessage) (*model.BookUpdate, error) {
	bids, err := codec.EncodeLevels(m.RawBids)
	if err != nil {
		return nil, fmt.Errorf("%w: book update %s bids: %v", ErrMalformed, m.InstID, err)
	}
	asks, err := codec.EncodeLevels(m.RawAsks)
	if err != nil {
		return nil, fmt.Errorf("%w: book update %s asks: %v", ErrMalformed, m.InstID, err)
	}
	return &model.BookUpdate{
		InstID:     m.InstID,
		SeqID:      m.SeqID,
		PrevSeqID:  m.PrevSeqID,
		Checksum:   m.Checksum,
		BidsDelta:  bids,
		AsksDelta:  asks,
		TsEventMs:  m.TsMs,
		TsIngestMs: n.IngestMs(),
	}, nil
}

// parser accumulates the first conversion error.
type parser struct {
	err error
}

func (p *parser) decimal(field, s string) decimal.Decimal {
	if s == "" || p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d
}

func (p *parser) millis(field, s string) int64 {
	if s == "" || p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%s %q: %w", field, s, err)
	}
	return v
}

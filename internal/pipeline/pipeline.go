package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/okx-data/internal/codec"
	"github.com/rickgao/okx-data/internal/dedup"
	"github.com/rickgao/okx-data/internal/metrics"
	"github.com/rickgao/okx-data/internal/model"
	"github.com/rickgao/okx-data/internal/normalize"
	"github.com/rickgao/okx-data/internal/orderbook"
	"github.com/rickgao/okx-data/internal/router"
)

// Pipeline builds one Lane per router lane and aggregates their stats.
type Pipeline struct {
	cfg      Config
	out      Appender
	norm     *normalize.Normalizer
	resyncer orderbook.Resyncer
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	lanes []*Lane
}

// New creates a Pipeline. resyncer is asked for a fresh snapshot whenever
// a book loses sync; observer may be nil.
func New(cfg Config, out Appender, norm *normalize.Normalizer, resyncer orderbook.Resyncer, observer Observer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if norm == nil {
		norm = normalize.New(nil)
	}
	return &Pipeline{
		cfg:      cfg,
		out:      out,
		norm:     norm,
		resyncer: resyncer,
		observer: observer,
		logger:   logger.With("component", "pipeline"),
		now:      time.Now,
	}
}

// Handler returns the handler for one lane. It matches the factory
// signature router.NewRouter expects.
func (p *Pipeline) Handler(lane int) router.Handler {
	l := &Lane{
		id:     lane,
		p:      p,
		books:  orderbook.NewArena(p.cfg.Books, p.resyncer, p.logger.With("lane", lane)),
		trades: dedup.New(p.cfg.Dedup),
	}
	p.mu.Lock()
	p.lanes = append(p.lanes, l)
	p.mu.Unlock()
	return l
}

// Stats sums the counters of every lane.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Stats
	for _, l := range p.lanes {
		s.Frames += l.frames.Load()
		s.Records += l.records.Load()
		s.Malformed += l.malformed.Load()
		s.Duplicates += l.duplicates.Load()
		s.Discarded += l.discarded.Load()
		s.Resyncs += l.resyncs.Load()
		s.AppendErrors += l.appendErrors.Load()
		s.Books += l.bookCount.Load()
		s.SyncedBooks += l.syncedCount.Load()
	}
	return s
}

// Lane processes the envelopes of one router lane. Its books and dedup
// window are touched only from that lane's goroutine; the counters are
// atomic so Stats can read them from anywhere.
type Lane struct {
	id     int
	p      *Pipeline
	books  *orderbook.Arena
	trades *dedup.Deduplicator

	frames       atomic.Int64
	records      atomic.Int64
	malformed    atomic.Int64
	duplicates   atomic.Int64
	discarded    atomic.Int64
	resyncs      atomic.Int64
	appendErrors atomic.Int64
	bookCount    atomic.Int64
	syncedCount  atomic.Int64
}

// Handle implements router.Handler.
func (l *Lane) Handle(ctx context.Context, env router.Envelope) {
	switch env.Kind {
	case router.KindReset:
		l.books.Reset(env.Args)
		l.p.logger.Debug("books reset", "lane", l.id, "count", len(env.Args))
	case router.KindSnapshot:
		for _, s := range l.books.Snapshots(l.p.cfg.Books.MaxDepth) {
			// No receipt time: periodic rows carry no feed latency.
			l.emit(ctx, codec.ChannelBooks, time.Time{}, l.p.norm.BookSnapshot(s)...)
		}
	case router.KindData:
		l.p.observer.StageLag(metrics.StageLane, l.p.now().Sub(env.At))
		l.handleFrame(ctx, env.Frame)
	}
	l.refreshBookCounts()
}

func (l *Lane) handleFrame(ctx context.Context, f codec.Frame) {
	l.frames.Add(1)
	l.p.observer.Event(f.Arg.Channel, f.Arg.InstID)

	var err error
	switch ch := f.Arg.Channel; {
	case codec.IsBookChannel(ch):
		err = l.handleBooks(ctx, f)
	case ch == codec.ChannelTrades:
		err = l.handleTrades(ctx, f)
	case ch == codec.ChannelTickers:
		err = convert(ctx, l, f, codec.ParseTickers, l.p.norm.Ticker)
	case ch == codec.ChannelFundingRate:
		err = convert(ctx, l, f, codec.ParseFundingRates, l.p.norm.FundingRate)
	case ch == codec.ChannelMarkPrice:
		err = convert(ctx, l, f, codec.ParseMarkPrices, l.p.norm.MarkPrice)
	case ch == codec.ChannelOpenInterest:
		err = convert(ctx, l, f, codec.ParseOpenInterest, l.p.norm.OpenInterest)
	case ch == codec.ChannelIndexTickers:
		err = convert(ctx, l, f, codec.ParseIndexTickers, l.p.norm.IndexTicker)
	default:
		l.p.logger.Debug("no handler for channel", "channel", ch)
		return
	}

	if err != nil {
		l.malformed.Add(1)
		l.p.observer.Malformed(f.Arg.Channel)
		l.p.logger.Warn("dropping malformed data",
			"channel", f.Arg.Channel,
			"inst_id", f.Arg.InstID,
			"error", err,
		)
	}
}

func (l *Lane) handleBooks(ctx context.Context, f codec.Frame) error {
	msgs, err := codec.ParseBooks(f)
	if err != nil {
		return err
	}

	for i := range msgs {
		m := &msgs[i]
		res := l.books.Get(m.Channel, m.InstID).Apply(m)

		switch res.Outcome {
		case orderbook.OutcomeSnapshot:
			l.emit(ctx, f.Arg.Channel, f.ReceivedAt, l.p.norm.BookSnapshot(res.Snapshot)...)
		case orderbook.OutcomeUpdate:
			rec, err := l.p.norm.BookUpdate(m)
			if err != nil {
				return err
			}
			l.emit(ctx, f.Arg.Channel, f.ReceivedAt, rec)
		case orderbook.OutcomeDiscarded:
			l.discarded.Add(1)
			l.p.observer.BookDiscarded(m.InstID)
			if res.Reason != "" {
				l.resyncs.Add(1)
				l.p.observer.Resync(m.InstID, res.Reason)
			}
		case orderbook.OutcomeResync:
			l.resyncs.Add(1)
			l.p.observer.Resync(m.InstID, res.Reason)
			if res.Snapshot != nil {
				l.emit(ctx, f.Arg.Channel, f.ReceivedAt, l.p.norm.BookSnapshot(res.Snapshot)...)
			}
		case orderbook.OutcomeHeartbeat:
		}
	}
	return nil
}

func (l *Lane) handleTrades(ctx context.Context, f codec.Frame) error {
	trades, err := codec.ParseTrades(f)
	if err != nil {
		return err
	}

	now := l.p.now()
	for _, d := range trades {
		if !l.trades.Accept(d.InstID, d.TradeID, now) {
			l.duplicates.Add(1)
			l.p.observer.DedupRejected(d.InstID)
			continue
		}
		rec, err := l.p.norm.Trade(d)
		if err != nil {
			return err
		}
		l.emit(ctx, f.Arg.Channel, f.ReceivedAt, rec)
	}
	return nil
}

// convert parses every element of f and emits one record per element.
// The first malformed element drops the rest of the frame.
func convert[D any, R model.Record](ctx context.Context, l *Lane, f codec.Frame, parse func(codec.Frame) ([]D, error), norm func(D) (R, error)) error {
	items, err := parse(f)
	if err != nil {
		return err
	}
	for _, d := range items {
		rec, err := norm(d)
		if err != nil {
			return err
		}
		l.emit(ctx, f.Arg.Channel, f.ReceivedAt, rec)
	}
	return nil
}

// emit appends records in order. Append blocks under writer backpressure.
func (l *Lane) emit(ctx context.Context, channel string, receivedAt time.Time, recs ...model.Record) {
	for _, rec := range recs {
		if ev := rec.EventMs(); ev > 0 && !receivedAt.IsZero() {
			lag := receivedAt.Sub(time.UnixMilli(ev))
			l.p.observer.StageLag(metrics.StageReceive, lag)
			l.p.observer.Staleness(channel, lag)
		}

		// The writer may raise ts_ingest_ms to keep its table ordered, so the
		// normalize lag is read after Append.
		if err := l.p.out.Append(ctx, rec); err != nil {
			l.appendErrors.Add(1)
			level := slog.LevelError
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				level = slog.LevelWarn
			}
			l.p.logger.Log(ctx, level, "record not appended",
				"table", rec.Table(),
				"inst_id", rec.InstrumentID(),
				"error", err,
			)
			continue
		}
		l.records.Add(1)
		if !receivedAt.IsZero() {
			l.p.observer.StageLag(metrics.StageNormalize, time.UnixMilli(rec.IngestMs()).Sub(receivedAt))
		}
	}
}

func (l *Lane) refreshBookCounts() {
	l.bookCount.Store(int64(l.books.Len()))
	l.syncedCount.Store(int64(l.books.Synced()))
}

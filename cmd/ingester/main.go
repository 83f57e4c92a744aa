package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/okx-data/internal/api"
	"github.com/rickgao/okx-data/internal/codec"
	"github.com/rickgao/okx-data/internal/config"
	"github.com/rickgao/okx-data/internal/connection"
	"github.com/rickgao/okx-data/internal/database"
	"github.com/rickgao/okx-data/internal/dedup"
	"github.com/rickgao/okx-data/internal/metrics"
	"github.com/rickgao/okx-data/internal/model"
	"github.com/rickgao/okx-data/internal/normalize"
	"github.com/rickgao/okx-data/internal/orderbook"
	"github.com/rickgao/okx-data/internal/pipeline"
	"github.com/rickgao/okx-data/internal/poller"
	"github.com/rickgao/okx-data/internal/router"
	"github.com/rickgao/okx-data/internal/version"
	"github.com/rickgao/okx-data/internal/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/ingester.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger = newLogger(cfg.Log).With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting ingester",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("ingester failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ingester stopped")
}

func run(cfg *config.IngesterConfig, logger *slog.Logger) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	// Database
	logger.Info("connecting to database", "target", database.RedactedTarget(cfg.Database.Timescale))
	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(cfg.Database.Timescale, logger); err != nil {
			return err
		}
	}
	sink := database.NewTimescaleSink(pool, logger)

	// Writer. A table that exhausts its retries stops the process; its rows
	// stay buffered and are never silently dropped.
	w := writer.NewWriter(
		writer.WriterConfig{
			BatchSize:      cfg.Writers.BatchSize,
			FlushInterval:  cfg.Writers.FlushInterval,
			HardCap:        cfg.Writers.HardCap,
			MaxRetries:     cfg.Writers.MaxRetries,
			RetryBaseDelay: cfg.Writers.RetryBaseDelay,
			RetryMaxDelay:  cfg.Writers.RetryMaxDelay,
		},
		model.Tables,
		sink,
		m,
		func(table string, err error) {
			m.SinkFailure(table)
			cancel(fmt.Errorf("sink failure on %s: %w", table, err))
		},
		logger,
	)

	indexes, err := resolveIndexes(ctx, cfg.Feed, logger)
	if err != nil {
		return err
	}

	// Session -> router -> lanes -> writer
	subs := subscriptions(cfg.Feed, indexes)
	sess := connection.NewSession(connection.SessionConfig{
		WSURL:              cfg.Feed.WSURL,
		Subscriptions:      subs,
		PingInterval:       cfg.Feed.PingInterval,
		HeartbeatTimeout:   cfg.Feed.HeartbeatTimeout,
		WriteTimeout:       connection.DefaultSessionConfig().WriteTimeout,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		HealthyPeriod:      cfg.Feed.HealthyPeriod,
		SubscribeRate:      cfg.Feed.SubscribeRate,
		MessageBufferSize:  cfg.Feed.MessageBufferSize,
	}, m, logger)

	pipe := pipeline.New(pipeline.Config{
		Books: orderbook.Config{
			MaxDepth:           cfg.Books.MaxDepth,
			VerifyChecksum:     cfg.Books.VerifyChecksum,
			Checksum:           orderbook.OKXChecksum,
			SnapshotTimeout:    cfg.Books.SnapshotTimeout,
			SnapshotMaxTimeout: cfg.Books.SnapshotMaxTimeout,
		},
		Dedup: dedup.Config{
			TTL:              cfg.Dedup.TTL,
			MaxPerInstrument: cfg.Dedup.MaxPerInstrument,
		},
	}, w, normalize.New(nil), sess, m, logger)

	rt := router.NewRouter(router.RouterConfig{
		Lanes:          cfg.Pipeline.Lanes,
		LaneBufferSize: cfg.Pipeline.LaneBufferSize,
		LaneMaxBuffer:  cfg.Pipeline.LaneMaxBuffer,
		Subscriptions:  subs,
	}, sess.Messages(), pipe.Handler, m, logger)

	snap := poller.New(poller.Config{Interval: cfg.Books.SnapshotInterval}, rt, logger)

	started := time.Now()
	srv := metrics.NewServer(cfg.Metrics, reg, func() (metrics.Health, bool) {
		return health(cfg.Instance.ID, started, sess.State(), pipe.Stats(), w.Stats())
	}, logger)

	// The writer and router outlive the signal so shutdown can drain them.
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := rt.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	if err := snap.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	logger.Info("ingester running",
		"subscriptions", len(subs),
		"lanes", cfg.Pipeline.Lanes,
		"metrics_port", cfg.Metrics.Port,
	)

	<-gctx.Done()
	logger.Info("shutting down...", "cause", context.Cause(gctx))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	errs := []error{
		snap.Stop(shutdownCtx),
		sess.Stop(shutdownCtx),
		rt.Stop(shutdownCtx),
		w.Stop(shutdownCtx),
		g.Wait(),
	}

	logger.Info("final stats",
		"pipeline", fmt.Sprintf("%+v", pipe.Stats()),
		"router", fmt.Sprintf("%+v", rt.Stats()),
		"sink", fmt.Sprintf("%+v", sink.Stats()),
	)

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		errs = append(errs, cause)
	}
	return errors.Join(errs...)
}

// resolveIndexes checks the configured instruments against the exchange's
// instrument list and returns each one's index. It returns an empty map
// when verification is off.
func resolveIndexes(ctx context.Context, feed config.FeedConfig, logger *slog.Logger) (map[string]string, error) {
	indexes := make(map[string]string)
	if !feed.VerifyInstruments {
		return indexes, nil
	}

	rest := api.NewClient(feed.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(10*time.Second),
		api.WithUserAgent(version.UserAgent()),
	)
	found, missing, err := rest.ResolveInstruments(ctx, feed.Instruments)
	if err != nil {
		return nil, fmt.Errorf("resolve instruments: %w", err)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownInstrument, strings.Join(missing, ", "))
	}
	for id, inst := range found {
		indexes[id] = inst.Index()
	}
	logger.Info("instruments verified", "count", len(found))
	return indexes, nil
}

// subscriptions expands the configured channels over the instruments.
// index-tickers is keyed by index, so an instrument subscribes to its
// underlying index there: the resolved one when known, else one derived
// from the id.
func subscriptions(feed config.FeedConfig, indexes map[string]string) []codec.Arg {
	seen := make(map[codec.Arg]bool)
	var out []codec.Arg
	for _, ch := range feed.Channels {
		for _, inst := range feed.Instruments {
			id := inst
			if ch == codec.ChannelIndexTickers {
				if idx, ok := indexes[inst]; ok {
					id = idx
				} else {
					id = indexOf(inst)
				}
			}
			arg := codec.Arg{Channel: ch, InstID: id}
			if seen[arg] {
				continue
			}
			seen[arg] = true
			out = append(out, arg)
		}
	}
	return out
}

// indexOf maps BTC-USDT-SWAP or BTC-USD-240628 to BTC-USDT / BTC-USD.
func indexOf(instID string) string {
	parts := strings.Split(instID, "-")
	if len(parts) < 2 {
		return instID
	}
	return parts[0] + "-" + parts[1]
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// health reports degraded while the session is not streaming or any table
// is backpressured or failed.
func health(instance string, started time.Time, state connection.State, ps pipeline.Stats, ws map[string]writer.WriterMetrics) (metrics.Health, bool) {
	h := metrics.Health{
		Status:       "ok",
		Instance:     instance,
		Version:      version.String(),
		SessionState: state.String(),
		Uptime:       time.Since(started).Truncate(time.Second).String(),
		Books: map[string]int{
			orderbook.Synced.String():           int(ps.SyncedBooks),
			orderbook.AwaitingSnapshot.String(): int(ps.Books - ps.SyncedBooks),
		},
		Tables: make(map[string]metrics.Table, len(ws)),
	}

	healthy := state == connection.StateStreaming
	for name, t := range ws {
		h.Tables[name] = metrics.Table{
			Buffered:      t.Buffered,
			Pending:       t.Pending,
			Inserted:      t.Inserted,
			Backpressured: t.Backpressured,
			Failed:        t.Failed,
		}
		if t.Backpressured || t.Failed {
			healthy = false
		}
	}
	if !healthy {
		h.Status = "degraded"
	}
	return h, healthy
}

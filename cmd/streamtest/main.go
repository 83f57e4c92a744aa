// streamtest connects to the OKX public WebSocket and prints normalized
// records to the console instead of writing them to the database.
// Usage: go run ./cmd/streamtest --config configs/ingester.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rickgao/okx-data/internal/codec"
	"github.com/rickgao/okx-data/internal/config"
	"github.com/rickgao/okx-data/internal/connection"
	"github.com/rickgao/okx-data/internal/model"
	"github.com/rickgao/okx-data/internal/pipeline"
	"github.com/rickgao/okx-data/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/ingester.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full record JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config; the database section is ignored
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var subs []codec.Arg
	for _, ch := range cfg.Feed.Channels {
		for _, inst := range cfg.Feed.Instruments {
			subs = append(subs, codec.Arg{Channel: ch, InstID: inst})
		}
	}

	sessCfg := connection.DefaultSessionConfig()
	sessCfg.WSURL = cfg.Feed.WSURL
	sessCfg.Subscriptions = subs
	sessCfg.MessageBufferSize = 10000
	sess := connection.NewSession(sessCfg, nil, logger)

	printer := &consolePrinter{out: os.Stdout, verbose: *verbose}
	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.Books.MaxDepth = 5
	pipe := pipeline.New(pipeCfg, printer, nil, sess, nil, logger)

	rtr := router.NewRouter(router.RouterConfig{
		Lanes:          2,
		LaneBufferSize: 1000,
		LaneMaxBuffer:  10000,
		Subscriptions:  subs,
	}, sess.Messages(), pipe.Handler, nil, logger)

	logger.Info("starting router")
	if err := rtr.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	logger.Info("starting session", "subscriptions", len(subs))
	if err := sess.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rs := rtr.Stats()
				ps := pipe.Stats()
				logger.Info("stats",
					"session_state", sess.State().String(),
					"router_received", rs.MessagesReceived,
					"router_routed", rs.MessagesRouted,
					"parse_errors", rs.ParseErrors,
					"records", ps.Records,
					"duplicates", ps.Duplicates,
					"resyncs", ps.Resyncs,
					"synced_books", ps.SyncedBooks,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	sess.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

// consolePrinter is a pipeline.Appender that writes one line per record.
type consolePrinter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

func (p *consolePrinter) Append(_ context.Context, rec model.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verbose {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "[%s] %s\n", rec.Table(), data)
		return err
	}

	_, err := fmt.Fprintf(p.out, "[%s] inst=%s event_ms=%d %s\n",
		rec.Table(), rec.InstrumentID(), rec.EventMs(), summary(rec))
	return err
}

func summary(rec model.Record) string {
	switch r := rec.(type) {
	case *model.Trade:
		return fmt.Sprintf("id=%s side=%s px=%s sz=%s", r.TradeID, r.Side, r.Price, r.Size)
	case *model.BookSnapshotLevel:
		return fmt.Sprintf("side=%d level=%d px=%s sz=%s seq=%d", r.Side, r.Level, r.Price, r.Size, r.SeqID)
	case *model.BookUpdate:
		return fmt.Sprintf("seq=%d prev=%d", r.SeqID, r.PrevSeqID)
	case *model.Ticker:
		return fmt.Sprintf("last=%s bid=%s ask=%s", r.Last, r.BidPx, r.AskPx)
	case *model.FundingRate:
		return fmt.Sprintf("rate=%s funding_time=%d", r.Rate, r.FundingTimeMs)
	case *model.MarkPrice:
		return fmt.Sprintf("mark=%s", r.MarkPx)
	case *model.OpenInterest:
		return fmt.Sprintf("oi=%s", r.OI)
	case *model.IndexTicker:
		return fmt.Sprintf("idx=%s", r.IdxPx)
	default:
		return ""
	}
}

package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/okx-data/internal/router"
)

// Broadcaster delivers an envelope to every lane. *router.Router implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, env router.Envelope) bool
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Time between snapshot markers (default: 30s)
	Timeout  time.Duration // Max time a broadcast may block on full lanes
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Ticks   int64
	Skipped int64 // Broadcasts that timed out or hit closed lanes
}

// Poller periodically asks every lane to snapshot its books.
type Poller struct {
	cfg    Config
	target Broadcaster
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ticks   atomic.Int64
	skipped atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, target Broadcaster, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:    cfg,
		target: target,
		logger: logger.With("component", "poller"),
	}
}

// Start begins the snapshot loop. A zero interval disables it.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if p.cfg.Interval <= 0 {
		p.logger.Info("periodic snapshots disabled")
		return nil
	}

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Ticks:   p.ticks.Load(),
		Skipped: p.skipped.Load(),
	}
}

// run is the main loop. The first marker goes out after one interval,
// once books have had time to sync.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case at := <-ticker.C:
			p.tick(at)
		}
	}
}

func (p *Poller) tick(at time.Time) {
	p.ticks.Add(1)

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	if !p.target.Broadcast(ctx, router.Envelope{Kind: router.KindSnapshot, At: at}) {
		p.skipped.Add(1)
		if p.ctx.Err() == nil {
			p.logger.Warn("snapshot marker not delivered to every lane", "timeout", p.cfg.Timeout)
		}
		return
	}
	p.logger.Debug("snapshot marker broadcast", "at", at)
}

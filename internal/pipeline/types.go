package pipeline

import (
	"context"
	"time"

	"github.com/rickgao/okx-data/internal/dedup"
	"github.com/rickgao/okx-data/internal/model"
	"github.com/rickgao/okx-data/internal/orderbook"
)

// Appender accepts normalized records. *writer.Writer implements it.
type Appender interface {
	Append(ctx context.Context, rec model.Record) error
}

// Observer receives per-event metrics. *metrics.Metrics implements it.
type Observer interface {
	Event(channel, instID string)
	Malformed(channel string)
	Resync(instID, reason string)
	DedupRejected(instID string)
	BookDiscarded(instID string)
	StageLag(stage string, d time.Duration)
	Staleness(channel string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) Event(string, string)            {}
func (nopObserver) Malformed(string)                {}
func (nopObserver) Resync(string, string)           {}
func (nopObserver) DedupRejected(string)            {}
func (nopObserver) BookDiscarded(string)            {}
func (nopObserver) StageLag(string, time.Duration)  {}
func (nopObserver) Staleness(string, time.Duration) {}

// Config holds per-lane component settings.
type Config struct {
	Books orderbook.Config
	Dedup dedup.Config
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Books: orderbook.DefaultConfig(),
		Dedup: dedup.DefaultConfig(),
	}
}

// Stats aggregates lane counters.
type Stats struct {
	Frames       int64
	Records      int64
	Malformed    int64
	Duplicates   int64
	Discarded    int64
	Resyncs      int64
	AppendErrors int64
	Books        int64 // Books tracked across lanes
	SyncedBooks  int64
}

package orderbook

import (
	"log/slog"
	"sort"

	"github.com/rickgao/okx-data/internal/codec"
)

// Arena holds the Reconstructors owned by one lane, keyed by subscription.
// Like Reconstructor it is confined to a single goroutine.
type Arena struct {
	cfg      Config
	resyncer Resyncer
	logger   *slog.Logger
	books    map[codec.Arg]*Reconstructor
}

// NewArena creates an empty arena.
func NewArena(cfg Config, resyncer Resyncer, logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arena{
		cfg:      cfg,
		resyncer: resyncer,
		logger:   logger,
		books:    make(map[codec.Arg]*Reconstructor),
	}
}

// Get returns the Reconstructor for (channel, instID), creating it on first use.
func (a *Arena) Get(channel, instID string) *Reconstructor {
	key := codec.Arg{Channel: channel, InstID: instID}
	r, ok := a.books[key]
	if !ok {
		r = NewReconstructor(channel, instID, a.cfg, a.resyncer, a.logger)
		a.books[key] = r
	}
	return r
}

// Reset puts the named books back into AwaitingSnapshot. Unknown books are
// created so that increments arriving before their snapshot are discarded.
func (a *Arena) Reset(args []codec.Arg) {
	for _, arg := range args {
		a.Get(arg.Channel, arg.InstID).Reset()
	}
}

// ResetAll puts every book back into AwaitingSnapshot.
func (a *Arena) ResetAll() {
	for _, r := range a.books {
		r.Reset()
	}
}

// Snapshots returns the top depth levels of every synced book, ordered by instrument.
func (a *Arena) Snapshots(depth int) []*Snapshot {
	out := make([]*Snapshot, 0, len(a.books))
	for _, r := range a.books {
		if s, ok := r.Snapshot(depth); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstID < out[j].InstID })
	return out
}

// Len returns the number of tracked books.
func (a *Arena) Len() int { return len(a.books) }

// Synced returns the number of books currently in the Synced state.
func (a *Arena) Synced() int {
	n := 0
	for _, r := range a.books {
		if r.state == Synced {
			n++
		}
	}
	return n
}

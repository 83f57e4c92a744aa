package orderbook

import (
	"slices"

	"github.com/rickgao/okx-data/internal/codec"
)

// Book holds both sides of an order book keyed by canonical price.
type Book struct {
	bids map[string]codec.Level
	asks map[string]codec.Level
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		bids: make(map[string]codec.Level),
		asks: make(map[string]codec.Level),
	}
}

// Reset removes every level.
func (b *Book) Reset() {
	clear(b.bids)
	clear(b.asks)
}

// Replace discards the book and loads the given levels.
func (b *Book) Replace(bids, asks []codec.Level) {
	b.Reset()
	b.Apply(bids, asks)
}

// Apply upserts levels; a zero size removes the level.
func (b *Book) Apply(bids, asks []codec.Level) {
	applySide(b.bids, bids)
	applySide(b.asks, asks)
}

func applySide(side map[string]codec.Level, levels []codec.Level) {
	for _, l := range levels {
		// "64000.10" and "64000.1" are the same level.
		key := l.Price.String()
		if l.Size.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = l
	}
}

// Bids returns up to depth bids, best (highest) first. depth <= 0 returns all.
func (b *Book) Bids(depth int) []codec.Level {
	return sortedLevels(b.bids, depth, true)
}

// Asks returns up to depth asks, best (lowest) first. depth <= 0 returns all.
func (b *Book) Asks(depth int) []codec.Level {
	return sortedLevels(b.asks, depth, false)
}

// Depth returns the number of bid and ask levels.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

// Equal reports whether both books hold the same prices with the same sizes.
func (b *Book) Equal(other *Book) bool {
	return sideEqual(b.bids, other.bids) && sideEqual(b.asks, other.asks)
}

func sideEqual(a, b map[string]codec.Level) bool {
	if len(a) != len(b) {
		return false
	}
	for k, l := range a {
		o, ok := b[k]
		if !ok || !o.Size.Equal(l.Size) {
			return false
		}
	}
	return true
}

func sortedLevels(side map[string]codec.Level, depth int, desc bool) []codec.Level {
	levels := make([]codec.Level, 0, len(side))
	for _, l := range side {
		levels = append(levels, l)
	}
	slices.SortFunc(levels, func(x, y codec.Level) int {
		if desc {
			return y.Price.Cmp(x.Price)
		}
		return x.Price.Cmp(y.Price)
	})
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

package dedup

import (
	"sync"
	"time"
)

// Config holds deduplication settings.
type Config struct {
	TTL              time.Duration // How long a tradeId is remembered. Default: 10m
	MaxPerInstrument int           // Hard cap on remembered ids per instrument. Default: 100000
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		TTL:              10 * time.Minute,
		MaxPerInstrument: 100000,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Accepted    int64
	Rejected    int64
	Evicted     int64
	Instruments int
	Tracked     int
}

type entry struct {
	id     string
	seenAt time.Time
}

// window is one instrument's seen set with a FIFO of insertion order.
type window struct {
	seen  map[string]time.Time
	queue []entry
	head  int
}

func (w *window) len() int { return len(w.queue) - w.head }

func (w *window) popFront() entry {
	e := w.queue[w.head]
	w.queue[w.head] = entry{}
	w.head++
	// Compact once the dead prefix dominates.
	if w.head > 1024 && w.head*2 > len(w.queue) {
		w.queue = append(w.queue[:0:0], w.queue[w.head:]...)
		w.head = 0
	}
	return e
}

// Deduplicator filters redelivered trades.
type Deduplicator struct {
	cfg Config

	mu       sync.Mutex
	windows  map[string]*window
	accepted int64
	rejected int64
	evicted  int64
}

// New creates a Deduplicator. Zero config fields take defaults.
func New(cfg Config) *Deduplicator {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxPerInstrument <= 0 {
		cfg.MaxPerInstrument = def.MaxPerInstrument
	}
	return &Deduplicator{
		cfg:     cfg,
		windows: make(map[string]*window),
	}
}

// Accept reports whether tradeID is new for instID. It returns true exactly
// once per pair while the pair stays in the window.
func (d *Deduplicator) Accept(instID, tradeID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.windows[instID]
	if !ok {
		w = &window{seen: make(map[string]time.Time)}
		d.windows[instID] = w
	}

	d.expire(w, now)

	if _, dup := w.seen[tradeID]; dup {
		d.rejected++
		return false
	}

	for w.len() >= d.cfg.MaxPerInstrument {
		e := w.popFront()
		delete(w.seen, e.id)
		d.evicted++
	}

	w.seen[tradeID] = now
	w.queue = append(w.queue, entry{id: tradeID, seenAt: now})
	d.accepted++
	return true
}

// expire drops entries older than the TTL from the front of the window.
func (d *Deduplicator) expire(w *window, now time.Time) {
	cutoff := now.Add(-d.cfg.TTL)
	for w.len() > 0 {
		front := w.queue[w.head]
		if !front.seenAt.Before(cutoff) {
			return
		}
		w.popFront()
		delete(w.seen, front.id)
		d.evicted++
	}
}

// Len returns the number of ids remembered for instID.
func (d *Deduplicator) Len(instID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.windows[instID]; ok {
		return len(w.seen)
	}
	return 0
}

// Stats returns current statistics.
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	tracked := 0
	for _, w := range d.windows {
		tracked += len(w.seen)
	}
	return Stats{
		Accepted:    d.accepted,
		Rejected:    d.rejected,
		Evicted:     d.evicted,
		Instruments: len(d.windows),
		Tracked:     tracked,
	}
}

package orderbook

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/okx-data/internal/codec"
)

// Reconstructor maintains one instrument's book from a books channel.
type Reconstructor struct {
	instID   string
	channel  string
	cfg      Config
	resyncer Resyncer
	logger   *slog.Logger

	book         *Book
	state        State
	lastSeqID    int64
	lastChecksum int32
	lastTsMs     int64

	// Snapshot wait; retry is nil when SnapshotTimeout is off.
	awaitSince time.Time
	awaitFor   time.Duration
	retry      *backoff.ExponentialBackOff

	snapshots int64
	updates   int64
	discarded int64
	resyncs   int64
}

// NewReconstructor creates a Reconstructor in AwaitingSnapshot.
func NewReconstructor(channel, instID string, cfg Config, resyncer Resyncer, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Checksum == nil {
		cfg.Checksum = OKXChecksum
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if resyncer == nil {
		resyncer = ResyncerFunc(func(string, string) {})
	}

	r := &Reconstructor{
		instID:   instID,
		channel:  channel,
		cfg:      cfg,
		resyncer: resyncer,
		logger:   logger.With("inst_id", instID, "channel", channel),
		book:     NewBook(),
	}
	if cfg.SnapshotTimeout > 0 {
		r.retry = backoff.NewExponentialBackOff()
		r.retry.InitialInterval = cfg.SnapshotTimeout
		r.retry.MaxInterval = max(cfg.SnapshotMaxTimeout, cfg.SnapshotTimeout)
		r.retry.Multiplier = 2
		r.retry.RandomizationFactor = 0
	}
	r.await()
	return r
}

// Apply feeds one message into the state machine.
func (r *Reconstructor) Apply(msg *codec.BookMessage) Result {
	// A snapshot is accepted in any state; the exchange resends one after
	// its own resets as well as after our resubscribes.
	if msg.IsSnapshot() {
		return r.applySnapshot(msg)
	}

	switch r.state {
	case Synced:
		return r.applyUpdate(msg)
	default:
		r.discarded++
		return r.checkAwait()
	}
}

// await enters AwaitingSnapshot and restarts the snapshot wait.
func (r *Reconstructor) await() {
	r.state = AwaitingSnapshot
	r.awaitSince = r.cfg.Now()
	if r.retry != nil {
		r.retry.Reset()
		r.awaitFor = r.retry.NextBackOff()
	}
}

// checkAwait asks for the snapshot again when increments are still arriving
// and none has come within the current wait. The wait doubles per request.
func (r *Reconstructor) checkAwait() Result {
	if r.retry == nil {
		return Result{Outcome: OutcomeDiscarded}
	}
	now := r.cfg.Now()
	waited := now.Sub(r.awaitSince)
	if waited < r.awaitFor {
		return Result{Outcome: OutcomeDiscarded}
	}

	r.resyncs++
	r.logger.Warn("no snapshot received, requesting again", "waited", waited, "discarded", r.discarded)
	r.resyncer.RequestResync(r.channel, r.instID)
	r.awaitSince = now
	r.awaitFor = r.retry.NextBackOff()

	return Result{Outcome: OutcomeDiscarded, Reason: ReasonSnapshotTimeout}
}

func (r *Reconstructor) applySnapshot(msg *codec.BookMessage) Result {
	r.book.Replace(msg.Bids, msg.Asks)
	r.lastSeqID = msg.SeqID
	r.lastChecksum = msg.Checksum
	r.lastTsMs = msg.TsMs
	r.snapshots++

	if r.state != Synced {
		r.logger.Info("book synced", "seq_id", msg.SeqID, "from", r.state.String())
	}
	r.state = Synced

	return Result{Outcome: OutcomeSnapshot, Snapshot: r.snapshot(r.cfg.MaxDepth)}
}

func (r *Reconstructor) applyUpdate(msg *codec.BookMessage) Result {
	if msg.PrevSeqID != r.lastSeqID {
		// The book is still consistent with lastSeqID, so keep a copy of it.
		last := r.snapshot(r.cfg.MaxDepth)
		res := r.resync(ReasonSeqGap, fmt.Errorf("%w: prevSeqId %d, last %d", ErrSeqGap, msg.PrevSeqID, r.lastSeqID))
		res.Snapshot = last
		return res
	}

	if msg.PrevSeqID == msg.SeqID && len(msg.Bids) == 0 && len(msg.Asks) == 0 {
		r.lastTsMs = msg.TsMs
		return Result{Outcome: OutcomeHeartbeat}
	}

	r.book.Apply(msg.Bids, msg.Asks)
	r.lastSeqID = msg.SeqID
	r.lastTsMs = msg.TsMs

	if r.cfg.VerifyChecksum && msg.HasChecksum {
		got := r.cfg.Checksum(r.book.Bids(ChecksumDepth), r.book.Asks(ChecksumDepth))
		if got != msg.Checksum {
			return r.resync(ReasonChecksum, fmt.Errorf("%w: computed %d, exchange %d at seqId %d", ErrChecksumMismatch, got, msg.Checksum, msg.SeqID))
		}
	}
	r.lastChecksum = msg.Checksum
	r.updates++

	return Result{Outcome: OutcomeUpdate}
}

// resync passes through Resyncing: clear, request a fresh snapshot, await it.
func (r *Reconstructor) resync(reason string, err error) Result {
	r.state = Resyncing
	r.resyncs++
	r.logger.Warn("book resync", "reason", reason, "error", err)

	r.clear()
	r.resyncer.RequestResync(r.channel, r.instID)
	r.await()

	return Result{Outcome: OutcomeResync, Reason: reason, Err: err}
}

// Reset puts the book back into AwaitingSnapshot without requesting a resync.
// Used when the session (re)subscribes and a snapshot is already on its way.
func (r *Reconstructor) Reset() {
	r.clear()
	r.await()
}

func (r *Reconstructor) clear() {
	r.book.Reset()
	r.lastSeqID = 0
	r.lastChecksum = 0
}

// Snapshot returns the top depth levels of a synced book.
func (r *Reconstructor) Snapshot(depth int) (*Snapshot, bool) {
	if r.state != Synced {
		return nil, false
	}
	return r.snapshot(depth), true
}

func (r *Reconstructor) snapshot(depth int) *Snapshot {
	return &Snapshot{
		InstID: r.instID,
		SeqID:  r.lastSeqID,
		TsMs:   r.lastTsMs,
		Bids:   r.book.Bids(depth),
		Asks:   r.book.Asks(depth),
	}
}

// State returns the current sync state.
func (r *Reconstructor) State() State { return r.state }

// LastSeqID returns the seqId of the last applied message.
func (r *Reconstructor) LastSeqID() int64 { return r.lastSeqID }

// LastChecksum returns the exchange checksum of the last applied message.
func (r *Reconstructor) LastChecksum() int32 { return r.lastChecksum }

// Book exposes the underlying book for inspection.
func (r *Reconstructor) Book() *Book { return r.book }

// InstID returns the instrument this book tracks.
func (r *Reconstructor) InstID() string { return r.instID }

// Channel returns the books channel this book is fed from.
func (r *Reconstructor) Channel() string { return r.channel }

// Stats returns current counters.
func (r *Reconstructor) Stats() Stats {
	bids, asks := r.book.Depth()
	return Stats{
		State:     r.state,
		LastSeqID: r.lastSeqID,
		BidLevels: bids,
		AskLevels: asks,
		Snapshots: r.snapshots,
		Updates:   r.updates,
		Discarded: r.discarded,
		Resyncs:   r.resyncs,
	}
}

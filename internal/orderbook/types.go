package orderbook

import (
	"errors"
	"time"

	"github.com/rickgao/okx-data/internal/codec"
)

// State is the sync state of one instrument's book.
type State int

const (
	AwaitingSnapshot State = iota
	Synced
	Resyncing
)

func (s State) String() string {
	switch s {
	case AwaitingSnapshot:
		return "awaiting_snapshot"
	case Synced:
		return "synced"
	case Resyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// Outcome describes what Apply did with a message.
type Outcome int

const (
	// OutcomeSnapshot: the book was replaced. Result.Snapshot holds the new top levels.
	OutcomeSnapshot Outcome = iota
	// OutcomeUpdate: the increment passed validation and was applied.
	OutcomeUpdate
	// OutcomeHeartbeat: prevSeqId == seqId with no deltas; nothing changed.
	OutcomeHeartbeat
	// OutcomeDiscarded: an increment arrived while awaiting a snapshot.
	OutcomeDiscarded
	// OutcomeResync: validation failed, state was cleared and a fresh snapshot requested.
	OutcomeResync
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSnapshot:
		return "snapshot"
	case OutcomeUpdate:
		return "update"
	case OutcomeHeartbeat:
		return "heartbeat"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeResync:
		return "resync"
	default:
		return "unknown"
	}
}

// Resync reasons, used as metric labels.
const (
	ReasonSeqGap   = "seq_gap"
	ReasonChecksum = "checksum"

	// ReasonSnapshotTimeout marks a repeated request for a snapshot that
	// never arrived. It comes with OutcomeDiscarded.
	ReasonSnapshotTimeout = "snapshot_timeout"
)

// Errors reported in Result.Err.
var (
	ErrSeqGap           = errors.New("prevSeqId does not match last seqId")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Snapshot is a point-in-time copy of the top of a book.
type Snapshot struct {
	InstID string
	SeqID  int64
	TsMs   int64
	Bids   []codec.Level // Best first (descending)
	Asks   []codec.Level // Best first (ascending)
}

// Result is returned by Reconstructor.Apply.
type Result struct {
	Outcome Outcome
	Reason  string // Set on OutcomeResync, and on OutcomeDiscarded when the snapshot was requested again
	Err     error  // Set on OutcomeResync

	// Snapshot is set on OutcomeSnapshot, and on OutcomeResync after a
	// sequence gap, where it holds the last consistent book before it was cleared.
	Snapshot *Snapshot
}

// Resyncer requests a fresh snapshot for one (channel, instrument) subscription.
// Implementations must not block.
type Resyncer interface {
	RequestResync(channel, instID string)
}

// ResyncerFunc adapts a function to Resyncer.
type ResyncerFunc func(channel, instID string)

// RequestResync calls f.
func (f ResyncerFunc) RequestResync(channel, instID string) { f(channel, instID) }

// Config holds reconstruction settings shared by every book.
type Config struct {
	MaxDepth       int          // Levels kept in emitted snapshots
	VerifyChecksum bool         // Compare Checksum against the exchange's value
	Checksum       ChecksumFunc // Defaults to OKXChecksum

	// SnapshotTimeout is how long a book awaits its snapshot before it is
	// requested again; later requests back off up to SnapshotMaxTimeout.
	// Zero disables re-requests.
	SnapshotTimeout    time.Duration
	SnapshotMaxTimeout time.Duration

	Now func() time.Time // Defaults to time.Now
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxDepth:           50,
		VerifyChecksum:     false,
		Checksum:           OKXChecksum,
		SnapshotTimeout:    5 * time.Second,
		SnapshotMaxTimeout: time.Minute,
	}
}

// Stats contains per-book counters.
type Stats struct {
	State     State
	LastSeqID int64
	BidLevels int
	AskLevels int
	Snapshots int64
	Updates   int64
	Discarded int64
	Resyncs   int64
}

package router

import (
	"context"
	"time"

	"github.com/rickgao/okx-data/internal/codec"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	Lanes          int         // Number of ordered lanes. Default: 8
	LaneBufferSize int         // Initial queue capacity per lane. Default: 1024
	LaneMaxBuffer  int         // Queue limit per lane. Default: 65536
	Subscriptions  []codec.Arg // Frames for other (channel, instId) pairs are counted as unknown
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Lanes:          8,
		LaneBufferSize: 1024,
		LaneMaxBuffer:  65536,
	}
}

// Kind classifies a lane envelope.
type Kind int

const (
	KindData     Kind = iota // Decoded data frame
	KindReset                // Drop book state for Args
	KindSnapshot             // Emit periodic book snapshots
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindReset:
		return "reset"
	case KindSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Envelope is one unit of lane work.
type Envelope struct {
	Kind  Kind
	Frame codec.Frame // KindData
	Args  []codec.Arg // KindReset: the args owned by this lane
	At    time.Time   // Receive time, or tick time for KindSnapshot
}

// Handler processes the envelopes of one lane. Handle is only called from
// that lane's goroutine, so lane state needs no locking.
type Handler interface {
	Handle(ctx context.Context, env Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, env Envelope) { f(ctx, env) }

// Observer receives router data-quality events.
type Observer interface {
	Malformed(channel string)
	Unknown(channel string)
}

type nopObserver struct{}

func (nopObserver) Malformed(string) {}
func (nopObserver) Unknown(string)   {}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	Resets           int64
	Lanes            []BufferStats
}

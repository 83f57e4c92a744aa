package connection

import (
	"errors"
	"time"

	"github.com/rickgao/okx-data/internal/codec"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no inbound traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a message from the Session to the router. A message with a
// non-empty Reset carries no data: it tells the books for those args to
// drop their state before anything that follows is applied.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
	Reset      []codec.Arg
}

// IsReset reports whether m is a book reset marker.
func (m RawMessage) IsReset() bool {
	return len(m.Reset) > 0
}

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Observer receives session events for metrics.
type Observer interface {
	Reconnect()
	SetSessionState(state int)
}

type nopObserver struct{}

func (nopObserver) Reconnect()          {}
func (nopObserver) SetSessionState(int) {}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ws.okx.com:8443/ws/v5/public)
	PingInterval     time.Duration // Text "ping" cadence
	HeartbeatTimeout time.Duration // Max time without inbound traffic before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     20 * time.Second,
		HeartbeatTimeout: 30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// SessionConfig configures the Session.
type SessionConfig struct {
	WSURL              string
	Subscriptions      []codec.Arg
	PingInterval       time.Duration
	HeartbeatTimeout   time.Duration
	WriteTimeout       time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	HealthyPeriod      time.Duration // Streaming this long resets the reconnect backoff
	SubscribeRate      float64       // Subscribe/unsubscribe requests per second
	MessageBufferSize  int           // Buffer size for the output message channel
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		WSURL:              "wss://ws.okx.com:8443/ws/v5/public",
		PingInterval:       20 * time.Second,
		HeartbeatTimeout:   30 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  30 * time.Second,
		HealthyPeriod:      60 * time.Second,
		SubscribeRate:      5,
		MessageBufferSize:  100000,
	}
}

// SessionStats provides statistics about the session.
type SessionStats struct {
	State         State
	Subscriptions int
	Connects      int64
	Reconnects    int64
	Resubscribes  int64
	Forwarded     int64
	EventErrors   int64 // event:error frames received
}

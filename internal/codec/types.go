package codec

import (
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Errors returned by the codec.
var (
	ErrMalformed     = errors.New("malformed message")
	ErrUnknownAction = errors.New("unknown book action")
)

// Public channel names.
const (
	ChannelTrades       = "trades"
	ChannelBooks        = "books"
	ChannelBooksL2TBT   = "books-l2-tbt"
	ChannelBooks50L2TBT = "books50-l2-tbt"
	ChannelBooks5       = "books5"
	ChannelTickers      = "tickers"
	ChannelFundingRate  = "funding-rate"
	ChannelMarkPrice    = "mark-price"
	ChannelOpenInterest = "open-interest"
	ChannelIndexTickers = "index-tickers"
)

// Operations, events and book actions.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	EventError            = "error"
	EventNotice           = "notice"
	EventChannelConnCount = "channel-conn-count"

	ActionSnapshot = "snapshot"
	ActionUpdate   = "update"
)

// MaxArgsPerRequest caps the args of one subscribe request.
const MaxArgsPerRequest = 20

// IsBookChannel reports whether channel carries seqId-sequenced book data.
func IsBookChannel(channel string) bool {
	switch channel {
	case ChannelBooks, ChannelBooksL2TBT, ChannelBooks50L2TBT, ChannelBooks5:
		return true
	}
	return false
}

// IsSnapshotOnly reports whether every push on channel replaces the whole
// book. books5 pushes carry no action and no prevSeqId.
func IsSnapshotOnly(channel string) bool {
	return channel == ChannelBooks5
}

// Arg identifies one subscription: a channel and an instrument.
type Arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
}

// Key returns the "channel|instId" key used for subscription bookkeeping.
func (a Arg) Key() string {
	return a.Channel + "|" + a.InstID
}

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	FrameData  FrameKind = iota // Channel push with a data array
	FrameEvent                  // subscribe/unsubscribe/error/notice acknowledgements
	FramePong                   // Text "pong" keepalive reply
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameEvent:
		return "event"
	case FramePong:
		return "pong"
	default:
		return "unknown"
	}
}

// Frame is a decoded envelope. Data is left raw for the Parse functions.
type Frame struct {
	Kind       FrameKind
	Event      string
	Code       string
	Msg        string
	Arg        Arg
	Action     string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// request is the wire format for subscribe/unsubscribe operations.
type request struct {
	Op   string `json:"op"`
	Args []Arg  `json:"args"`
}

// envelopeWire is the wire format shared by every server frame.
type envelopeWire struct {
	Event  string          `json:"event"`
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	Arg    Arg             `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// -----------------------------------------------------------------------------
// Channel payloads
// -----------------------------------------------------------------------------

// TradeData is one element of a trades push.
type TradeData struct {
	InstID  string `json:"instId" validate:"required"`
	TradeID string `json:"tradeId" validate:"required"`
	Px      string `json:"px" validate:"required,numeric"`
	Sz      string `json:"sz" validate:"required,numeric"`
	Side    string `json:"side" validate:"required,oneof=buy sell"`
	Ts      string `json:"ts" validate:"required,numeric"`
}

// TickerData is one element of a tickers push.
type TickerData struct {
	InstID    string `json:"instId" validate:"required"`
	Last      string `json:"last" validate:"omitempty,numeric"`
	LastSz    string `json:"lastSz" validate:"omitempty,numeric"`
	BidPx     string `json:"bidPx" validate:"omitempty,numeric"`
	BidSz     string `json:"bidSz" validate:"omitempty,numeric"`
	AskPx     string `json:"askPx" validate:"omitempty,numeric"`
	AskSz     string `json:"askSz" validate:"omitempty,numeric"`
	Open24h   string `json:"open24h" validate:"omitempty,numeric"`
	High24h   string `json:"high24h" validate:"omitempty,numeric"`
	Low24h    string `json:"low24h" validate:"omitempty,numeric"`
	Vol24h    string `json:"vol24h" validate:"omitempty,numeric"`
	VolCcy24h string `json:"volCcy24h" validate:"omitempty,numeric"`
	Ts        string `json:"ts" validate:"required,numeric"`
}

// FundingRateData is one element of a funding-rate push.
type FundingRateData struct {
	InstID          string `json:"instId" validate:"required"`
	FundingRate     string `json:"fundingRate" validate:"required,numeric"`
	FundingTime     string `json:"fundingTime" validate:"required,numeric"`
	NextFundingTime string `json:"nextFundingTime" validate:"omitempty,numeric"`
	Ts              string `json:"ts" validate:"omitempty,numeric"`
}

// MarkPriceData is one element of a mark-price push.
type MarkPriceData struct {
	InstID string `json:"instId" validate:"required"`
	MarkPx string `json:"markPx" validate:"required,numeric"`
	IdxPx  string `json:"idxPx" validate:"omitempty,numeric"`
	IdxTs  string `json:"idxTs" validate:"omitempty,numeric"`
	Ts     string `json:"ts" validate:"required,numeric"`
}

// OpenInterestData is one element of an open-interest push.
type OpenInterestData struct {
	InstID string `json:"instId" validate:"required"`
	OI     string `json:"oi" validate:"required,numeric"`
	OICcy  string `json:"oiCcy" validate:"omitempty,numeric"`
	Ts     string `json:"ts" validate:"required,numeric"`
}

// IndexTickerData is one element of an index-tickers push.
type IndexTickerData struct {
	InstID  string `json:"instId" validate:"required"`
	IdxPx   string `json:"idxPx" validate:"required,numeric"`
	Open24h string `json:"open24h" validate:"omitempty,numeric"`
	High24h string `json:"high24h" validate:"omitempty,numeric"`
	Low24h  string `json:"low24h" validate:"omitempty,numeric"`
	SodUtc0 string `json:"sodUtc0" validate:"omitempty,numeric"`
	SodUtc8 string `json:"sodUtc8" validate:"omitempty,numeric"`
	Ts      string `json:"ts" validate:"required,numeric"`
}

// bookWire is one element of a books push. Levels are
// ["price", "size", "deprecated", "orderCount"].
type bookWire struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	Checksum  *int64     `json:"checksum"`
	SeqID     *int64     `json:"seqId"`
	PrevSeqID *int64     `json:"prevSeqId"`
}

// Level is a parsed price level. Px and Sz keep the exchange's exact strings,
// which the checksum is computed over.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Px    string
	Sz    string
}

// BookMessage is a parsed snapshot or incremental update for one instrument.
type BookMessage struct {
	InstID      string
	Channel     string
	Action      string // ActionSnapshot or ActionUpdate
	SeqID       int64
	PrevSeqID   int64 // -1 on snapshots
	Checksum    int32
	HasChecksum bool
	TsMs        int64
	Bids        []Level
	Asks        []Level
	RawBids     [][]string
	RawAsks     [][]string
	ReceivedAt  time.Time
}

// IsSnapshot reports whether the message replaces the book.
func (m *BookMessage) IsSnapshot() bool {
	return m.Action == ActionSnapshot
}

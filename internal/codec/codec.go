package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

var (
	pingFrame = []byte("ping")
	pongFrame = []byte("pong")
)

// Ping returns the text keepalive frame.
func Ping() []byte {
	return pingFrame
}

// EncodeRequest builds a subscribe or unsubscribe request.
func EncodeRequest(op string, args []Arg) ([]byte, error) {
	if op != OpSubscribe && op != OpUnsubscribe {
		return nil, fmt.Errorf("unsupported op %q", op)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s request without args", op)
	}
	if len(args) > MaxArgsPerRequest {
		return nil, fmt.Errorf("%s request has %d args, max %d", op, len(args), MaxArgsPerRequest)
	}
	return json.Marshal(request{Op: op, Args: args})
}

// ChunkArgs splits args into groups of at most size.
func ChunkArgs(args []Arg, size int) [][]Arg {
	if size < 1 {
		size = MaxArgsPerRequest
	}
	chunks := make([][]Arg, 0, (len(args)+size-1)/size)
	for start := 0; start < len(args); start += size {
		end := min(start+size, len(args))
		chunks = append(chunks, args[start:end])
	}
	return chunks
}

// Decode reads the envelope of a raw frame.
func Decode(raw []byte, receivedAt time.Time) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, pongFrame) {
		return Frame{Kind: FramePong, ReceivedAt: receivedAt}, nil
	}

	var wire envelopeWire
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	f := Frame{
		Event:      wire.Event,
		Code:       wire.Code,
		Msg:        wire.Msg,
		Arg:        wire.Arg,
		Action:     wire.Action,
		Data:       wire.Data,
		ReceivedAt: receivedAt,
	}

	if wire.Event != "" {
		f.Kind = FrameEvent
		return f, nil
	}
	if wire.Arg.Channel == "" || len(wire.Data) == 0 {
		return Frame{}, fmt.Errorf("%w: frame without event, channel or data", ErrMalformed)
	}
	f.Kind = FrameData
	return f, nil
}

// parseData decodes the data array of f into a slice of T.
func parseData[T any](f Frame) ([]T, error) {
	var out []T
	if err := json.Unmarshal(f.Data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, f.Arg.Channel, err)
	}
	return out, nil
}

// ParseTrades decodes a trades push.
func ParseTrades(f Frame) ([]TradeData, error) { return parseData[TradeData](f) }

// ParseTickers decodes a tickers push.
func ParseTickers(f Frame) ([]TickerData, error) { return parseData[TickerData](f) }

// ParseFundingRates decodes a funding-rate push.
func ParseFundingRates(f Frame) ([]FundingRateData, error) { return parseData[FundingRateData](f) }

// ParseMarkPrices decodes a mark-price push.
func ParseMarkPrices(f Frame) ([]MarkPriceData, error) { return parseData[MarkPriceData](f) }

// ParseOpenInterest decodes an open-interest push.
func ParseOpenInterest(f Frame) ([]OpenInterestData, error) { return parseData[OpenInterestData](f) }

// ParseIndexTickers decodes an index-tickers push.
func ParseIndexTickers(f Frame) ([]IndexTickerData, error) { return parseData[IndexTickerData](f) }

// ParseBooks decodes a books push into snapshot or update messages.
func ParseBooks(f Frame) ([]BookMessage, error) {
	if IsSnapshotOnly(f.Arg.Channel) {
		f.Action = ActionSnapshot
	}
	if f.Action != ActionSnapshot && f.Action != ActionUpdate {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
	}

	wires, err := parseData[bookWire](f)
	if err != nil {
		return nil, err
	}

	msgs := make([]BookMessage, 0, len(wires))
	for i := range wires {
		msg, err := parseBook(f, &wires[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func parseBook(f Frame, w *bookWire) (BookMessage, error) {
	if w.SeqID == nil {
		return BookMessage{}, fmt.Errorf("%w: book %s missing seqId", ErrMalformed, f.Arg.InstID)
	}

	msg := BookMessage{
		InstID:     f.Arg.InstID,
		Channel:    f.Arg.Channel,
		Action:     f.Action,
		SeqID:      *w.SeqID,
		PrevSeqID:  -1,
		RawBids:    w.Bids,
		RawAsks:    w.Asks,
		ReceivedAt: f.ReceivedAt,
	}
	if w.PrevSeqID != nil {
		msg.PrevSeqID = *w.PrevSeqID
	}
	if w.Checksum != nil {
		msg.Checksum = int32(*w.Checksum)
		msg.HasChecksum = true
	}
	if w.Ts != "" {
		ts, err := strconv.ParseInt(w.Ts, 10, 64)
		if err != nil {
			return BookMessage{}, fmt.Errorf("%w: book %s ts %q", ErrMalformed, f.Arg.InstID, w.Ts)
		}
		msg.TsMs = ts
	}

	var err error
	if msg.Bids, err = parseLevels(w.Bids); err != nil {
		return BookMessage{}, fmt.Errorf("%w: book %s bids: %v", ErrMalformed, f.Arg.InstID, err)
	}
	if msg.Asks, err = parseLevels(w.Asks); err != nil {
		return BookMessage{}, fmt.Errorf("%w: book %s asks: %v", ErrMalformed, f.Arg.InstID, err)
	}
	return msg, nil
}

// parseLevels converts [["64000.1", "2", "0", "3"], ...] to []Level.
func parseLevels(raw [][]string) ([]Level, error) {
	levels := make([]Level, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level %v has %d fields", entry, len(entry))
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", entry[0], err)
		}
		size, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", entry[1], err)
		}
		if size.IsNegative() {
			return nil, fmt.Errorf("negative size %q", entry[1])
		}
		levels = append(levels, Level{Price: price, Size: size, Px: entry[0], Sz: entry[1]})
	}
	return levels, nil
}

// EncodeLevels re-encodes raw levels for storage as JSON.
func EncodeLevels(raw [][]string) ([]byte, error) {
	if raw == nil {
		raw = [][]string{}
	}
	return json.Marshal(raw)
}

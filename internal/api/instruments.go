package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Instrument types accepted by /api/v5/public/instruments.
const (
	InstTypeSpot    = "SPOT"
	InstTypeSwap    = "SWAP"
	InstTypeFutures = "FUTURES"
	InstTypeOption  = "OPTION"
)

// ErrUnknownInstrument is returned when a configured instrument is not listed.
var ErrUnknownInstrument = errors.New("instrument not listed")

// Instrument is one element of GET /api/v5/public/instruments.
type Instrument struct {
	InstType   string `json:"instType"`
	InstID     string `json:"instId"`
	Uly        string `json:"uly"`
	InstFamily string `json:"instFamily"`
	BaseCcy    string `json:"baseCcy"`
	QuoteCcy   string `json:"quoteCcy"`
	SettleCcy  string `json:"settleCcy"`
	CtVal      string `json:"ctVal"`
	TickSz     string `json:"tickSz"`
	LotSz      string `json:"lotSz"`
	State      string `json:"state"`
}

// Live reports whether the instrument is currently trading.
func (i Instrument) Live() bool { return i.State == "live" }

// Index returns the index an index-tickers subscription for this
// instrument uses: the underlying for derivatives, the pair itself for spot.
func (i Instrument) Index() string {
	if i.Uly != "" {
		return i.Uly
	}
	if i.BaseCcy != "" && i.QuoteCcy != "" {
		return i.BaseCcy + "-" + i.QuoteCcy
	}
	return i.InstID
}

// InstTypeOf infers the instrument type from an OKX instrument id:
// BTC-USDT (spot), BTC-USDT-SWAP, BTC-USD-240628 (futures),
// BTC-USD-240628-60000-C (option).
func InstTypeOf(instID string) string {
	parts := strings.Split(instID, "-")
	switch {
	case len(parts) >= 5:
		return InstTypeOption
	case len(parts) == 3 && parts[2] == "SWAP":
		return InstTypeSwap
	case len(parts) == 3:
		return InstTypeFutures
	default:
		return InstTypeSpot
	}
}

// GetInstruments lists every instrument of one type.
func (c *Client) GetInstruments(ctx context.Context, instType string) ([]Instrument, error) {
	query := url.Values{}
	query.Set("instType", instType)

	var out []Instrument
	if err := c.get(ctx, "/api/v5/public/instruments", query, &out); err != nil {
		return nil, fmt.Errorf("get instruments %s: %w", instType, err)
	}
	return out, nil
}

// ResolveInstruments looks up every id, one request per instrument type.
// Ids that are not listed or not live are returned in missing; the error is
// reserved for transport and API failures.
func (c *Client) ResolveInstruments(ctx context.Context, instIDs []string) (found map[string]Instrument, missing []string, err error) {
	byType := make(map[string][]string)
	for _, id := range instIDs {
		t := InstTypeOf(id)
		byType[t] = append(byType[t], id)
	}

	found = make(map[string]Instrument, len(instIDs))
	for instType, ids := range byType {
		list, err := c.GetInstruments(ctx, instType)
		if err != nil {
			return nil, nil, err
		}
		listed := make(map[string]Instrument, len(list))
		for _, inst := range list {
			listed[inst.InstID] = inst
		}
		for _, id := range ids {
			inst, ok := listed[id]
			if !ok || !inst.Live() {
				missing = append(missing, id)
				continue
			}
			found[id] = inst
		}
	}

	if len(missing) > 0 {
		c.logger.Warn("instruments not live", "missing", missing)
	}
	return found, missing, nil
}

// Package codec translates OKX public websocket frames to and from typed messages.
//
// Decoding happens in two steps. Decode reads only the envelope (event, arg,
// action) so the router can pick a lane without touching the payload; the
// Parse functions then decode the data array for one channel inside the lane.
// Prices and sizes stay as the exchange's strings on the wire structs and are
// parsed to shopspring decimals where the order book needs them.
package codec

// Package metrics exposes Prometheus series for the ingester and serves
// them next to a JSON health endpoint.
//
// Key series:
//   - events by channel and instrument, malformed and unknown frames
//   - reconnects, session state and per-channel event staleness
//   - order book resyncs and trade duplicate rejections
//   - writer rows, flush errors, backpressure and sink failures
//   - per-stage lag histograms
package metrics

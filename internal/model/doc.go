// Package model defines the normalized row types written by the ingester.
//
// Every row implements Record so the writer and sink can batch and insert
// rows without knowing their concrete type. Column order in Columns matches
// the value order in Values and the schema in internal/database/migrations.
//
// Conventions:
//   - Prices and sizes: shopspring decimal, parsed from the exchange's strings without float rounding
//   - Timestamps: int64 milliseconds since Unix epoch
//   - ts_event_ms is the exchange timestamp, ts_ingest_ms is assigned once at normalization
//   - Instruments: exchange instId strings (e.g., "BTC-USDT-SWAP")
package model

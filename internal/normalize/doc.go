// Package normalize maps parsed feed messages to model rows.
//
// Normalization is pure apart from the ingest clock: each row gets its
// ts_ingest_ms exactly once, here. The clock never runs backwards within a
// process, so ts_ingest_ms can serve as a replication watermark.
package normalize

// Package database provides the TimescaleDB connection pool, schema
// migrations and the batch sink used by the writer.
//
// Every table is append-only with ON CONFLICT DO NOTHING on its natural key,
// so a batch replayed after a partial failure is harmless. Each table is
// indexed on ts_ingest_ms, the watermark downstream consumers read by.
package database

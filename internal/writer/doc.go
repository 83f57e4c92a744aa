// Package writer implements the batch buffer and flush engine.
//
// Every destination table has its own TableBuffer and its own flush
// goroutine. A table flushes when it holds BatchSize rows or when its
// FlushInterval ticks, whichever comes first.
//
// A flush swaps the rows out under the table lock and writes them outside
// it, so appends never wait on the database. A failed write is retried with
// exponential backoff while the rows stay accounted as pending; when retries
// run out the FatalHandler is called. Rows are never dropped: once buffered
// plus pending rows reach HardCap, Append blocks until the sink catches up.
package writer

// Package pipeline turns routed frames into normalized records.
//
// Each router lane gets its own Lane, which owns the order books and the
// trade dedup window for the instruments hashed to it. Book frames go
// through the reconstructor, trades through the deduplicator, and every
// other channel straight to the normalizer. Records are appended to the
// writer in the order their frames arrived.
package pipeline

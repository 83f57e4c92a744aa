// Package orderbook reconstructs per-instrument order books from snapshot and
// incremental messages.
//
// Each Reconstructor is a small state machine:
//
//	AwaitingSnapshot --snapshot--> Synced
//	Synced --update, prevSeqId == lastSeqId--> Synced
//	Synced --seq gap or checksum mismatch--> Resyncing --> AwaitingSnapshot
//	AwaitingSnapshot --update after SnapshotTimeout--> AwaitingSnapshot (requested again)
//
// A book left waiting, because the answering snapshot was malformed or the
// resubscribe was rejected, asks again while increments keep arriving, with
// the wait doubling up to SnapshotMaxTimeout.
//
// A Reconstructor is not safe for concurrent use. The pipeline assigns every
// instrument to exactly one lane and only that lane's goroutine touches its
// Reconstructor, which is what keeps updates in wire order.
package orderbook

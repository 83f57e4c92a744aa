// Package dedup implements the trade Deduplicator.
//
// The Deduplicator:
//   - Keeps one window per instrument mapping tradeId to the time it was first seen
//   - Accepts a (instrument, tradeId) pair exactly once while it is in the window
//   - Evicts by age (TTL) and, past a hard per-instrument cap, oldest first
//
// The exchange redelivers recent trades after every resubscribe, so the TTL
// must cover a reconnect plus the replay that follows it.
package dedup

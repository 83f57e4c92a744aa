// Package connection implements the Session Manager component.
//
// A Session owns one logical websocket session to the public endpoint:
//   - Connects, subscribes every configured (channel, instrument) pair in
//     chunks of at most 20 args, paced by a rate limiter
//   - Emits a book reset marker ahead of book subscriptions so every
//     reconstructor waits for a fresh snapshot after a reconnect
//   - Detects stale connections with text ping/pong and a heartbeat timeout
//   - Reconnects with jittered exponential backoff, reset after a healthy period
//   - Re-subscribes single books on request when a reconstructor resyncs
package connection

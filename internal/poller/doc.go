// Package poller drives the periodic book snapshots.
//
// Every interval the Poller broadcasts a snapshot marker to all router
// lanes. Each lane emits the top levels of its synced books when the marker
// reaches it, so a snapshot never interleaves with the updates around it.
package poller

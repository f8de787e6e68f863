// Package notifier decides which confirming referenda to announce and drives
// one announcement pass.
//
// # Decision
//
// A referendum qualifies when its id is missing from the previous snapshot, or
// when less than three hours remain (days == 0 && hours <= 2). Messages for
// referenda with at most six hours left carry an urgency marker.
//
// # Delivery
//
// Chat channels are best-effort: failures are logged and the pass goes on.
// The social channel is authoritative: a failure aborts the pass, after the
// snapshot of what was processed so far is persisted.
package notifier

// Package notify delivers best-effort live status lines about digit
// capture to operator-facing sinks. Delivery never blocks the capture
// engine; a slow sink drops lines instead.
package notify

import "time"

// LiveLine is one operator-facing status line for a call.
type LiveLine struct {
	CallID string
	Text   string
	// Force marks lines that matter even under sampling (acceptances,
	// failures, call endings).
	Force bool
	At    time.Time
}

// Sink consumes live lines. Implementations must be safe for use from
// a single delivery goroutine.
type Sink interface {
	Deliver(line LiveLine)
}

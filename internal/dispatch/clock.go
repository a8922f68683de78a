package dispatch

import "time"

// Clock abstracts wall time so deadline behavior is testable with a
// simulated clock. Deadlines live in the broadcast row as unix seconds, so
// any client can compute remaining time from the record itself without
// trusting server push timing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

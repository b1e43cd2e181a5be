// Package system provides the wall clock used for queue timestamps.
package system

import "time"

// Precision is the coarsest resolution any repository backend stores.
// Postgres timestamptz keeps microseconds.
const Precision = time.Microsecond

// Clock implements crawler.Clock. Times are UTC, carry no monotonic reading
// and are truncated to Precision, so a value read back from storage compares
// equal to the value written.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Round(0).Truncate(Precision)
}

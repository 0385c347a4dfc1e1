// Package system provides the wall-clock implementation of fetch.Clock.
package system

import "time"

// Clock reads the real time. Attempt timestamps and scrape times are
// recorded in UTC throughout the pipeline.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

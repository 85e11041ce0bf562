// Package clock abstracts the wall clock so timer-driven code can be
// tested without sleeping.
//
// Production code takes a Clock and uses Real(). Tests use Fake() and
// move time forward explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	e, _ := autoproxy.New(autoproxy.Options{Clock: c, ...})
//	c.Advance(10 * time.Minute) // fires due AfterFunc callbacks synchronously
package clock

import "time"

// Clock is the subset of the time package used by seance.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once d has elapsed and returns a Timer that can
	// cancel the call. Equivalent to time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It returns true if the call
// stopped the timer, false if it had already fired or been stopped.
// A false return does not mean the callback has finished running.
func (t *Timer) Stop() bool { return t.stopFunc() }

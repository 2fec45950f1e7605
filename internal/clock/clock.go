// Package clock abstracts wall-clock reads and timers so the scheduler can
// be driven deterministically in tests.
//
// Production code uses Real(). Tests use Fake(t0), wait for the code under
// test to register its timer with WaitForTimers, then call Advance.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// NewTimer fires once on C after d. A stopped timer never fires.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot timer. C has capacity 1.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the timer was
// still pending.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}

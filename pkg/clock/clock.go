// Package clock abstracts monotonic time and repeating timers so that
// both pools can be driven deterministically in tests without sleeping
// in real time.
package clock

import "time"

// Timer is a handle returned by Clock.AfterFunc/NewTicker that can be
// stopped.
type Timer interface {
	Stop() bool
}

// Clock provides monotonic time and timer construction. RealClock wraps
// the standard library; FakeClock drives tests by manual advancement.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration, fn func()) Timer
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

// NewRealClock returns a Clock backed by the standard library.
func NewRealClock() RealClock { return RealClock{} }

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// NewTicker starts a goroutine invoking fn every d until the returned
// Timer is stopped.
func (RealClock) NewTicker(d time.Duration, fn func()) Timer {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	return &realTicker{ticker: t, done: done}
}

type realTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   bool
}

func (t *realTicker) Stop() bool {
	if t.once {
		return false
	}
	t.once = true
	t.ticker.Stop()
	close(t.done)
	return true
}

// AfterFunc schedules fn to run once after d, unless stopped first.
func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return &realTimer{t: time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (t *realTimer) Stop() bool { return t.t.Stop() }

package call

import (
	"time"

	"github.com/benbjohnson/clock"
)

type timerKind int

const (
	acceptTimer timerKind = iota
	graceTimer
	resetTimer
	numTimers
)

func (k timerKind) String() string {
	switch k {
	case acceptTimer:
		return "accept"
	case graceTimer:
		return "grace"
	case resetTimer:
		return "reset"
	}
	return "unknown"
}

// timers tracks the three call timers. Each start or cancel bumps the
// generation, so an expiry that was already queued when its timer got
// cancelled is recognised as stale and ignored.
type timers struct {
	clock clock.Clock
	post  func(event)
	t     [numTimers]*clock.Timer
	gen   [numTimers]uint64
}

func (ts *timers) start(kind timerKind, d time.Duration, callID string) {
	ts.cancel(kind)
	gen := ts.gen[kind]
	ts.t[kind] = ts.clock.AfterFunc(d, func() {
		ts.post(timerEvent{kind: kind, gen: gen, callID: callID})
	})
}

// cancel is a no-op for timers that already fired or were never started.
func (ts *timers) cancel(kind timerKind) {
	if ts.t[kind] != nil {
		ts.t[kind].Stop()
		ts.t[kind] = nil
	}
	ts.gen[kind]++
}

// current reports whether ev is the live expiry of its timer.
func (ts *timers) current(ev timerEvent) bool {
	return ts.gen[ev.kind] == ev.gen && ts.t[ev.kind] != nil
}

// fired clears the handle of a timer whose expiry is being handled.
func (ts *timers) fired(kind timerKind) {
	ts.t[kind] = nil
	ts.gen[kind]++
}

package autoproxy

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/seance/internal/clock"
	"github.com/nextlevelbuilder/seance/internal/scope"
)

// State is the autoproxy record for one scope key. Each record has its
// own lock; records for different scopes never contend.
type State struct {
	key     scope.Key
	timeout time.Duration // 0 disables the clear timer
	clock   clock.Clock

	// expired runs after a clear timer fired and the lock is released.
	expired func(st *State, c change)

	mu           sync.Mutex
	mode         Mode
	timer        *clock.Timer
	generation   uint64 // bumped on every start and cancel
	seq          uint64 // bumped on every committed operation
	clearsAt     time.Time
	lastActivity time.Time
}

// Status is a point-in-time view of a State.
type Status struct {
	Key          scope.Key
	Mode         Mode
	TimerPending bool
	ClearsAt     time.Time // zero when no timer is pending
	LastActivity time.Time // zero until the first timer start
}

// change is the outcome of one operation on a State, handed to the
// engine once the lock is released.
type change struct {
	from, to    Mode
	cause       Cause
	rescheduled bool // clear timer started, cancelled or fired
	seq         uint64
}

func newState(key scope.Key, mode Mode, timeout time.Duration, clk clock.Clock, expired func(*State, change)) *State {
	return &State{
		key:     key,
		mode:    mode,
		timeout: timeout,
		clock:   clk,
		expired: expired,
	}
}

// Mode returns the current mode.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Status returns a snapshot of the record.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Key:          s.key,
		Mode:         s.mode,
		TimerPending: s.timer != nil,
		ClearsAt:     s.clearsAt,
		LastActivity: s.lastActivity,
	}
}

// restartTimerLocked replaces any pending clear timer with a fresh one.
// The cancel and the schedule happen under one lock hold, so there is
// never a moment with two live timers. Reports false when the clear
// timer is disabled. Caller holds s.mu.
func (s *State) restartTimerLocked() bool {
	if s.timeout <= 0 {
		return false
	}
	s.cancelTimerLocked()

	gen := s.generation
	now := s.clock.Now()
	s.lastActivity = now
	s.clearsAt = now.Add(s.timeout)
	s.timer = s.clock.AfterFunc(s.timeout, func() { s.fire(gen) })
	return true
}

// cancelTimerLocked stops the pending clear timer, if any, and
// invalidates any callback already in flight. Reports whether a timer
// was pending. Caller holds s.mu.
func (s *State) cancelTimerLocked() bool {
	s.generation++
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.clearsAt = time.Time{}
	return true
}

// fire applies the timeout transition unless the timer that scheduled
// it has since been cancelled or replaced.
func (s *State) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.clearsAt = time.Time{}

	from := s.mode
	switch s.mode {
	case ModeLatchLatched:
		s.mode = ModeLatchUnlatched
	case ModeOn:
		s.mode = ModeOff
	case ModeOff, ModeLatchUnlatched:
		// Nothing to clear.
	}
	c := s.commitLocked(from, CauseTimeout, true)
	s.mu.Unlock()

	if s.expired != nil {
		s.expired(s, c)
	}
}

// commitLocked closes an operation: it numbers it and describes the
// transition from the mode it started in. Caller holds s.mu.
func (s *State) commitLocked(from Mode, cause Cause, rescheduled bool) change {
	s.seq++
	return change{from: from, to: s.mode, cause: cause, rescheduled: rescheduled, seq: s.seq}
}

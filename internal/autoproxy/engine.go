// Package autoproxy decides whether an inbound message should be
// proxied automatically, tracking a latch/on/off mode per scope.
//
// Each scope (see package scope) gets a lazily created State that
// starts in the configured start mode. Modes move as follows:
//
//	command "off"            -> off
//	command "latch"          -> latch
//	command <self mention>   -> on (clear timer restarted)
//	command <other mention>  -> off
//	manual proxy in latch(ed) -> latched (clear timer restarted)
//	peer/clear msg in latched -> latch (clear timer cancelled)
//	clear timer fires        -> on: off, latched: latch
//
// A message starting with a single backslash is never autoproxied and
// never changes state.
package autoproxy

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/seance/internal/clock"
	"github.com/nextlevelbuilder/seance/internal/scope"
	"github.com/nextlevelbuilder/seance/pkg/protocol"
)

// Notifier is told whenever the global scope's effective state may
// have changed: a mode change, or the clear timer starting, being
// cancelled or firing. Engine.GlobalState may be called from it.
type Notifier interface {
	OnGlobalAutoproxyChange(GlobalChange)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(GlobalChange)

func (f NotifierFunc) OnGlobalAutoproxyChange(c GlobalChange) { f(c) }

// GlobalChange is the global scope's state as of one operation.
// Notifications run after the record lock is released, so two of them
// can arrive out of order; the one with the higher Seq is newer.
type GlobalChange struct {
	Active bool
	Seq    uint64
}

// Identity exposes the bot's own mention token, e.g. "<@1234>".
type Identity interface {
	SelfMention() string
}

// Observer receives every mode transition. Optional.
type Observer interface {
	ModeChanged(key scope.Key, from, to Mode, cause Cause)
}

// Cause names what triggered a transition.
type Cause string

const (
	CauseCommand     Cause = "command"
	CauseManualProxy Cause = "manual_proxy"
	CauseMessage     Cause = "message"
	CauseTimeout     Cause = "timeout"
)

// Options configures an Engine.
type Options struct {
	// PeerPattern matches another participant's explicit proxy action.
	// Build it with CompilePeerPattern. Nil never matches.
	PeerPattern *regexp.Regexp
	// Scope fixes the state granularity for the Engine's lifetime.
	Scope scope.Granularity
	// Timeout is the clear-timer duration. Zero disables auto-clear.
	Timeout time.Duration
	// StartEnabled starts new scopes in latch mode instead of off.
	StartEnabled bool

	Notifier Notifier
	Observer Observer
	Clock    clock.Clock // defaults to clock.Real()
}

// Engine owns the per-scope autoproxy state.
type Engine struct {
	resolver  *scope.Resolver
	peer      *regexp.Regexp
	timeout   time.Duration
	startMode Mode
	notifier  Notifier
	observer  Observer
	clock     clock.Clock

	mu     sync.RWMutex
	states map[scope.Key]*State
}

// New validates opts and returns an Engine. An unknown scope
// granularity or a negative timeout is a configuration error.
func New(opts Options) (*Engine, error) {
	resolver, err := scope.NewResolver(opts.Scope)
	if err != nil {
		return nil, err
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("autoproxy timeout must not be negative, got %s", opts.Timeout)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	startMode := ModeOff
	if opts.StartEnabled {
		startMode = ModeLatchUnlatched
	}

	return &Engine{
		resolver:  resolver,
		peer:      opts.PeerPattern,
		timeout:   opts.Timeout,
		startMode: startMode,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		clock:     clk,
		states:    make(map[scope.Key]*State),
	}, nil
}

// Granularity returns the scope granularity the Engine was built with.
func (e *Engine) Granularity() scope.Granularity { return e.resolver.Granularity() }

// Key returns the scope key for ctx.
func (e *Engine) Key(ctx scope.Context) scope.Key { return e.resolver.Resolve(ctx) }

// HandleCommand applies an autoproxy command option and returns the
// resulting mode. Unrecognised options are ignored.
func (e *Engine) HandleCommand(ctx scope.Context, self Identity, option string) Mode {
	selfMention := ""
	if self != nil {
		selfMention = self.SelfMention()
	}

	st := e.stateFor(e.resolver.Resolve(ctx))
	st.mu.Lock()
	from := st.mode
	rescheduled := false
	switch {
	case option == protocol.OptionOff:
		st.mode = ModeOff
	case option == protocol.OptionLatch:
		st.mode = ModeLatchUnlatched
	// The self mention is also mention-shaped, so it must be tested
	// before the generic case.
	case selfMention != "" && option == selfMention:
		st.mode = ModeOn
		rescheduled = st.restartTimerLocked()
	case isMention(option):
		// TODO: mentioning any other user turns autoproxy off; confirm
		// with users whether this should be a no-op instead.
		st.mode = ModeOff
	}
	c := st.commitLocked(from, CauseCommand, rescheduled)
	st.mu.Unlock()

	e.changed(st, c)
	return c.to
}

// OnManualProxy records that a message in ctx was proxied by an
// explicit command. In either latch mode this latches and restarts the
// clear timer; in off and on it does nothing.
func (e *Engine) OnManualProxy(ctx scope.Context) {
	st := e.stateFor(e.resolver.Resolve(ctx))
	st.mu.Lock()
	from := st.mode
	rescheduled := false
	switch st.mode {
	case ModeLatchUnlatched, ModeLatchLatched:
		st.mode = ModeLatchLatched
		rescheduled = st.restartTimerLocked()
	case ModeOff, ModeOn:
	}
	c := st.commitLocked(from, CauseManualProxy, rescheduled)
	st.mu.Unlock()

	e.changed(st, c)
}

// ShouldAutoproxy reports whether content posted in ctx should be
// proxied automatically. It may latch off or restart the clear timer.
func (e *Engine) ShouldAutoproxy(ctx scope.Context, content string) bool {
	if isSkip(content) {
		return false
	}

	st := e.stateFor(e.resolver.Resolve(ctx))
	st.mu.Lock()
	from := st.mode
	rescheduled := false
	proxy := false
	switch st.mode {
	case ModeOff, ModeLatchUnlatched:
	case ModeOn:
		// A peer's explicit action is ignored, not latch-breaking.
		if !e.isPeer(content) {
			rescheduled = st.restartTimerLocked()
			proxy = true
		}
	case ModeLatchLatched:
		if e.isPeer(content) || isClear(content) {
			st.mode = ModeLatchUnlatched
			rescheduled = st.cancelTimerLocked()
		} else {
			rescheduled = st.restartTimerLocked()
			proxy = true
		}
	}
	c := st.commitLocked(from, CauseMessage, rescheduled)
	st.mu.Unlock()

	e.changed(st, c)
	return proxy
}

// GlobalState reports whether the global scope is actively
// autoproxying (on or latched).
func (e *Engine) GlobalState() bool {
	e.mu.RLock()
	st, ok := e.states[scope.GlobalKey]
	e.mu.RUnlock()
	if !ok {
		return e.startMode.Active()
	}
	return st.Mode().Active()
}

// Mode returns the mode of the scope ctx resolves to, without creating
// a record for it.
func (e *Engine) Mode(ctx scope.Context) Mode {
	e.mu.RLock()
	st, ok := e.states[e.resolver.Resolve(ctx)]
	e.mu.RUnlock()
	if !ok {
		return e.startMode
	}
	return st.Mode()
}

// Status returns the status of the scope ctx resolves to.
func (e *Engine) Status(ctx scope.Context) Status {
	key := e.resolver.Resolve(ctx)
	e.mu.RLock()
	st, ok := e.states[key]
	e.mu.RUnlock()
	if !ok {
		return Status{Key: key, Mode: e.startMode}
	}
	return st.Status()
}

// Snapshot returns the status of every tracked scope, sorted by key.
func (e *Engine) Snapshot() []Status {
	e.mu.RLock()
	states := make([]*State, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]Status, 0, len(states))
	for _, st := range states {
		out = append(out, st.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of tracked scopes.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.states)
}

// stateFor returns the record for key, creating it on first use.
func (e *Engine) stateFor(key scope.Key) *State {
	e.mu.RLock()
	st, ok := e.states[key]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[key]; ok {
		return st
	}
	st = newState(key, e.startMode, e.timeout, e.clock, e.changed)
	e.states[key] = st
	slog.Debug("autoproxy scope created", "scope", key, "mode", e.startMode)
	return st
}

func (e *Engine) isPeer(content string) bool {
	return e.peer != nil && e.peer.MatchString(content)
}

// changed is the single post-operation hook: it reports transitions
// and, for the global record, calls the notifier when the mode moved
// or the clear timer was started, cancelled or fired. Never called
// with a record lock held.
func (e *Engine) changed(st *State, c change) {
	if c.from != c.to {
		slog.Debug("autoproxy mode changed", "scope", st.key, "from", c.from, "to", c.to, "cause", c.cause)
		if e.observer != nil {
			e.observer.ModeChanged(st.key, c.from, c.to, c.cause)
		}
	}
	if st.key.IsGlobal() && (c.from != c.to || c.rescheduled) && e.notifier != nil {
		e.notifier.OnGlobalAutoproxyChange(GlobalChange{Active: c.to.Active(), Seq: c.seq})
	}
}

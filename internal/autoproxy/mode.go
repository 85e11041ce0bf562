package autoproxy

// Mode is the autoproxy mode of one scope.
type Mode int

const (
	// ModeOff never autoproxies.
	ModeOff Mode = iota
	// ModeOn autoproxies every qualifying message until timeout or an
	// explicit command turns it off.
	ModeOn
	// ModeLatchUnlatched waits for a manually proxied message.
	ModeLatchUnlatched
	// ModeLatchLatched autoproxies until a peer message, a clear marker
	// or the timeout.
	ModeLatchLatched
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	case ModeLatchUnlatched:
		return "latch"
	case ModeLatchLatched:
		return "latched"
	default:
		return "unknown"
	}
}

// Active reports whether messages in this mode are currently being
// autoproxied.
func (m Mode) Active() bool {
	switch m {
	case ModeOn, ModeLatchLatched:
		return true
	case ModeOff, ModeLatchUnlatched:
		return false
	default:
		return false
	}
}

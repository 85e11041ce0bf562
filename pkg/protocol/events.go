package protocol

// Bus event names broadcast between components.
const (
	// EventAutoproxyGlobal fires whenever the global autoproxy scope may
	// have changed. Payload: GlobalAutoproxyPayload.
	EventAutoproxyGlobal = "autoproxy.global"
)

// GlobalAutoproxyPayload carries the global state after one change.
// Seq orders changes; 0 is the state at boot.
type GlobalAutoproxyPayload struct {
	Active bool   `json:"active"`
	Seq    uint64 `json:"seq"`
}

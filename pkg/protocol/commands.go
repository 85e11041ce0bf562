package protocol

// Chat command names, typed after the configured command prefix
// (e.g. "!autoproxy latch").
const (
	CommandAutoproxy      = "autoproxy"
	CommandAutoproxyShort = "ap"
)

// Autoproxy command options. Besides these, the bot's own mention turns
// autoproxy on and any other user mention turns it off.
const (
	OptionOff    = "off"
	OptionLatch  = "latch"
	OptionStatus = "status"
)

// IsAutoproxyCommand reports whether name is one of the autoproxy command names.
func IsAutoproxyCommand(name string) bool {
	return name == CommandAutoproxy || name == CommandAutoproxyShort
}

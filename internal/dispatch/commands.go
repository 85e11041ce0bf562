package dispatch

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nextlevelbuilder/seance/internal/autoproxy"
	"github.com/nextlevelbuilder/seance/pkg/protocol"
)

// parseCommand extracts the option of an autoproxy command, e.g.
// "!ap latch" -> ("latch", true). The command name is case-insensitive;
// the option is returned trimmed but otherwise verbatim.
func parseCommand(prefix, content string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	rest := content[len(prefix):]
	name, option := rest, ""
	if idx := strings.IndexFunc(rest, unicode.IsSpace); idx >= 0 {
		name, option = rest[:idx], rest[idx:]
	}
	if !protocol.IsAutoproxyCommand(strings.ToLower(name)) {
		return "", false
	}
	return strings.TrimSpace(option), true
}

// parseManualProxy returns the text to proxy when content starts with
// the proxy prefix.
func parseManualProxy(prefix, content string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	return strings.TrimSpace(content[len(prefix):]), true
}

func isStatusOption(option string) bool {
	return option == "" || strings.EqualFold(option, protocol.OptionStatus)
}

// describeMode renders a mode for chat replies.
func describeMode(m autoproxy.Mode) string {
	switch m {
	case autoproxy.ModeOff:
		return "off"
	case autoproxy.ModeOn:
		return "on"
	case autoproxy.ModeLatchUnlatched:
		return "latch (waiting for a manual proxy)"
	case autoproxy.ModeLatchLatched:
		return "latch (latched)"
	default:
		return m.String()
	}
}

// statusReply formats the status of one scope plus the global state.
func statusReply(st autoproxy.Status, global bool, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "autoproxy: %s", describeMode(st.Mode))
	if st.TimerPending {
		fmt.Fprintf(&b, ", clears in %s", st.ClearsAt.Sub(now).Round(time.Second))
	}
	if !st.Key.IsGlobal() {
		if global {
			b.WriteString("\nglobal autoproxy: active")
		} else {
			b.WriteString("\nglobal autoproxy: inactive")
		}
	}
	return b.String()
}

// commandReply formats the result of an autoproxy command.
func commandReply(m autoproxy.Mode) string {
	return "autoproxy set to " + describeMode(m)
}

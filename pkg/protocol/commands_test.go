package protocol

import "testing"

func TestIsAutoproxyCommand(t *testing.T) {
	for _, name := range []string{"autoproxy", "ap"} {
		if !IsAutoproxyCommand(name) {
			t.Fatalf("%q should be an autoproxy command", name)
		}
	}
	for _, name := range []string{"", "AP", "proxy", "autoproxy "} {
		if IsAutoproxyCommand(name) {
			t.Fatalf("%q should not be an autoproxy command", name)
		}
	}
}

package autoproxy

import (
	"fmt"
	"regexp"
)

// Command conventions shared with existing users; keep these exact.
var (
	// mentionPattern is the shape of any user mention token.
	mentionPattern = regexp.MustCompile(`(?s)\A<@[0-9]+>`)
	// skipPattern: one backslash followed by anything but a backslash.
	skipPattern = regexp.MustCompile(`(?s)\A\\[^\\].*`)
	// clearPattern: two backslashes.
	clearPattern = regexp.MustCompile(`(?s)\A\\\\.*`)
)

// CompilePeerPattern compiles the expression that identifies another
// participant's explicit proxy action. The result matches only at the
// start of the content and lets "." cross newlines. An empty
// expression yields a nil pattern, which never matches.
func CompilePeerPattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(`(?s)\A(?:` + expr + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile peer pattern: %w", err)
	}
	return re, nil
}

func isSkip(content string) bool  { return skipPattern.MatchString(content) }
func isClear(content string) bool { return clearPattern.MatchString(content) }
func isMention(s string) bool     { return mentionPattern.MatchString(s) }

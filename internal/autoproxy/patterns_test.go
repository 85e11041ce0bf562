package autoproxy

import "testing"

func TestFixedPatterns(t *testing.T) {
	tests := []struct {
		content string
		skip    bool
		clear   bool
	}{
		{`\hello`, true, false},
		{`\ `, true, false},
		{"\\\n", true, false},
		{`\\`, false, true},
		{`\\\`, false, true},
		{`\\ please stop`, false, true},
		{`\`, false, false},
		{`hello \world`, false, false},
		{` \hello`, false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := isSkip(tt.content); got != tt.skip {
			t.Errorf("isSkip(%q) = %v, want %v", tt.content, got, tt.skip)
		}
		if got := isClear(tt.content); got != tt.clear {
			t.Errorf("isClear(%q) = %v, want %v", tt.content, got, tt.clear)
		}
	}
}

func TestMentionPattern(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<@123>", true},
		{"<@123> trailing", true},
		{"<@!123>", false},
		{"<@>", false},
		{"<@abc>", false},
		{"hey <@123>", false},
		{"@someone", false},
	}
	for _, tt := range tests {
		if got := isMention(tt.in); got != tt.want {
			t.Errorf("isMention(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCompilePeerPattern(t *testing.T) {
	re, err := CompilePeerPattern(`pk;|\+`)
	if err != nil {
		t.Fatalf("CompilePeerPattern: %v", err)
	}
	for in, want := range map[string]bool{
		"pk;switch":      true,
		"+hello":         true,
		"say pk;":        false,
		"hello +":        false,
		"pk;\nmultiline": true,
	} {
		if got := re.MatchString(in); got != want {
			t.Errorf("peer match %q = %v, want %v", in, got, want)
		}
	}

	// Dot crosses newlines, as with the fixed patterns.
	re, err = CompilePeerPattern(`a.b`)
	if err != nil {
		t.Fatalf("CompilePeerPattern: %v", err)
	}
	if !re.MatchString("a\nb") {
		t.Error("peer pattern should be dot-all")
	}

	if re, err := CompilePeerPattern(""); err != nil || re != nil {
		t.Errorf("empty pattern = (%v, %v), want (nil, nil)", re, err)
	}
	if _, err := CompilePeerPattern("("); err == nil {
		t.Error("invalid pattern should fail")
	}
}

func TestModeStringAndActive(t *testing.T) {
	tests := []struct {
		m      Mode
		name   string
		active bool
	}{
		{ModeOff, "off", false},
		{ModeOn, "on", true},
		{ModeLatchUnlatched, "latch", false},
		{ModeLatchLatched, "latched", true},
		{Mode(42), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.m.String(); got != tt.name {
			t.Errorf("Mode(%d).String() = %q, want %q", int(tt.m), got, tt.name)
		}
		if got := tt.m.Active(); got != tt.active {
			t.Errorf("%v.Active() = %v, want %v", tt.m, got, tt.active)
		}
	}
}

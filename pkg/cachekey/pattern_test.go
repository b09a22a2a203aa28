package cachekey

import "testing"

func TestPatternMatch_Wildcard(t *testing.T) {
	p, err := NewPattern("user:1:*", PatternWildcard, true)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"user:1:profile", true},
		{"user:1:settings", true},
		{"user:2:profile", false},
		{"user:1:", true},
	}
	for _, tt := range tests {
		if got := p.Match(tt.key); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestPatternMatch_SingleCharWildcard(t *testing.T) {
	p, err := NewPattern("item:?", PatternWildcard, true)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}
	if !p.Match("item:1") {
		t.Error("expected item:1 to match item:?")
	}
	if p.Match("item:12") {
		t.Error("expected item:12 not to match item:?")
	}
}

func TestPatternMatch_PrefixSuffixExact(t *testing.T) {
	prefix, _ := NewPattern("user:", PatternPrefix, true)
	if !prefix.Match("user:1") || prefix.Match("account:1") {
		t.Error("prefix pattern mismatch")
	}

	suffix, _ := NewPattern(":profile", PatternSuffix, true)
	if !suffix.Match("user:1:profile") || suffix.Match("user:1:settings") {
		t.Error("suffix pattern mismatch")
	}

	exact, _ := NewPattern("user:1", PatternExact, true)
	if !exact.Match("user:1") || exact.Match("user:1:profile") {
		t.Error("exact pattern mismatch")
	}
}

func TestPatternMatch_CaseInsensitive(t *testing.T) {
	p, err := NewPattern("USER:1", PatternExact, false)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}
	if !p.Match("user:1") {
		t.Error("expected case-insensitive exact match")
	}
}

func TestPatternMatch_Regex(t *testing.T) {
	p, err := NewPattern(`^user:\d+:profile$`, PatternRegex, true)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}
	if !p.Match("user:42:profile") {
		t.Error("expected regex match")
	}
	if p.Match("user:abc:profile") {
		t.Error("expected regex mismatch for non-digit id")
	}
}

func TestNewPattern_InvalidRegexRejected(t *testing.T) {
	_, err := NewPattern("(unclosed", PatternRegex, true)
	if err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestNewPattern_EmptyRejected(t *testing.T) {
	if _, err := NewPattern("", PatternExact, true); err == nil {
		t.Error("expected error for empty pattern")
	}
}

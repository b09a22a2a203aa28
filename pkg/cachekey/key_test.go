package cachekey

import (
	"strings"
	"testing"
)

func TestNewKey(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"simple key", "user:42:profile", false},
		{"min length one char", "a", false},
		{"max length 250", strings.Repeat("a", 250), false},
		{"empty rejected", "", true},
		{"too long rejected", strings.Repeat("a", 251), true},
		{"forbidden char space", "user 42", true},
		{"forbidden char star", "user:*", true},
		{"allows dash dot slash", "user.42-a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKey(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewKey(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
		})
	}
}

func TestKeyDepth(t *testing.T) {
	k, err := NewKey("user:42:profile")
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	if got := k.Depth(); got != 3 {
		t.Errorf("Depth() = %d, want 3", got)
	}
}

func TestKeyEqual(t *testing.T) {
	k1, _ := NewKey("a:b")
	k2, _ := NewKey("a:b")
	k3, _ := NewKey("a:c")
	if !k1.Equal(k2) {
		t.Error("expected equal keys to compare equal")
	}
	if k1.Equal(k3) {
		t.Error("expected different keys to compare unequal")
	}
}

// Package cachekey implements the validated, immutable value types that
// describe a cache entry's identity and policy: Key, Namespace, TTL,
// Priority, Size, and Pattern.
package cachekey

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wisbric/neocache/pkg/cacheerr"
)

// MaxKeyLength is the maximum accepted length of a Key's text.
const MaxKeyLength = 250

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._:/-]+$`)

// Key is a validated, immutable cache key. Colon-separated segments define
// a hierarchy; Depth reports the number of segments.
type Key struct {
	text string
}

// NewKey validates and constructs a Key. A Key must be non-empty, at most
// MaxKeyLength characters, and match [A-Za-z0-9._:/-]+.
func NewKey(text string) (Key, error) {
	if text == "" {
		return Key{}, &cacheerr.KeyInvalid{Value: text, Reason: "key must not be empty"}
	}
	if len(text) > MaxKeyLength {
		return Key{}, &cacheerr.KeyInvalid{Value: text, Reason: fmt.Sprintf("key exceeds %d characters", MaxKeyLength)}
	}
	if !keyPattern.MatchString(text) {
		return Key{}, &cacheerr.KeyInvalid{Value: text, Reason: "key contains characters outside [A-Za-z0-9._:/-]"}
	}
	return Key{text: text}, nil
}

// String returns the key's text.
func (k Key) String() string { return k.text }

// Depth returns the number of colon-separated segments.
func (k Key) Depth() int {
	if k.text == "" {
		return 0
	}
	return strings.Count(k.text, ":") + 1
}

// Segments splits the key on ':'.
func (k Key) Segments() []string {
	if k.text == "" {
		return nil
	}
	return strings.Split(k.text, ":")
}

// Equal compares two keys by exact byte equality.
func (k Key) Equal(other Key) bool { return k.text == other.text }

// IsZero reports whether k was never validated/constructed.
func (k Key) IsZero() bool { return k.text == "" }

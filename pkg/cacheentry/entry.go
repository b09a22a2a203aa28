// Package cacheentry defines Entry, the record stored per (namespace, key),
// and its lifecycle invariants.
package cacheentry

import (
	"time"

	"github.com/wisbric/neocache/pkg/cachekey"
)

// Entry is a stored (key, value, metadata) record. Value is kept as opaque
// bytes; the serializer package owns the bytes<->value boundary.
type Entry struct {
	Key          cachekey.Key
	Namespace    cachekey.Namespace
	Value        []byte
	TTL          cachekey.TTL
	Priority     cachekey.Priority
	CreatedAt    time.Time
	AccessedAt   time.Time
	AccessCount  int64
	SizeBytes    cachekey.Size
	Metadata     map[string]string
}

// New constructs an Entry with CreatedAt/AccessedAt set to now and
// AccessCount at zero.
func New(key cachekey.Key, ns cachekey.Namespace, value []byte, ttl cachekey.TTL, priority cachekey.Priority, now time.Time) Entry {
	return Entry{
		Key:         key,
		Namespace:   ns,
		Value:       value,
		TTL:         ttl,
		Priority:    priority,
		CreatedAt:   now,
		AccessedAt:  now,
		AccessCount: 0,
		SizeBytes:   cachekey.Size(len(value)),
	}
}

// FullKey returns the namespace-qualified storage key.
func (e Entry) FullKey() string { return e.Namespace.FullKey(e.Key) }

// Equal reports entry identity by full storage key equality.
func (e Entry) Equal(other Entry) bool { return e.FullKey() == other.FullKey() }

// IsExpired reports whether the entry is expired as of now.
func (e Entry) IsExpired(now time.Time) bool { return e.TTL.IsExpired(e.CreatedAt, now) }

// Touch returns a copy of e with AccessedAt set to now and AccessCount
// incremented, preserving the invariant that AccessedAt >= CreatedAt and
// AccessCount is monotonically nondecreasing.
func (e Entry) Touch(now time.Time) Entry {
	if now.Before(e.CreatedAt) {
		now = e.CreatedAt
	}
	e.AccessedAt = now
	e.AccessCount++
	return e
}

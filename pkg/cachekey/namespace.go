package cachekey

import (
	"regexp"
	"strings"

	"github.com/wisbric/neocache/pkg/cacheerr"
)

// EvictionPolicy selects how a Namespace sheds entries once MaxEntries is
// exceeded.
type EvictionPolicy string

const (
	EvictionLRU      EvictionPolicy = "LRU"
	EvictionLFU      EvictionPolicy = "LFU"
	EvictionFIFO     EvictionPolicy = "FIFO"
	EvictionTTL      EvictionPolicy = "TTL"
	EvictionPriority EvictionPolicy = "PRIORITY"
	EvictionHybrid   EvictionPolicy = "HYBRID"
)

// ValidEvictionPolicies lists every accepted EvictionPolicy value.
var ValidEvictionPolicies = []EvictionPolicy{
	EvictionLRU, EvictionLFU, EvictionFIFO, EvictionTTL, EvictionPriority, EvictionHybrid,
}

// IsValid reports whether p is a recognized eviction policy.
func (p EvictionPolicy) IsValid() bool {
	for _, v := range ValidEvictionPolicies {
		if p == v {
			return true
		}
	}
	return false
}

var namespacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

const maxNamespaceLength = 64

// Namespace is a (name, tenant_id?) tuple carrying the policy that governs
// every entry stored under it.
type Namespace struct {
	Name           string
	TenantID       string // optional; "" means no tenant scoping
	DefaultTTL     int64  // seconds; see TTL sentinels
	MaxEntries     int64
	EvictionPolicy EvictionPolicy
	MaxMemoryMB    int64 // 0 means unbounded
	MaxKeyLength   int   // 0 means MaxKeyLength default
}

// NewNamespace validates name and tenantID and returns a Namespace with
// defaulted policy fields. Name is normalized to lowercase.
func NewNamespace(name, tenantID string) (Namespace, error) {
	if len(name) < 1 || len(name) > maxNamespaceLength {
		return Namespace{}, &cacheerr.KeyInvalid{Value: name, Reason: "namespace must be 1-64 characters"}
	}
	if !namespacePattern.MatchString(name) {
		return Namespace{}, &cacheerr.KeyInvalid{Value: name, Reason: "namespace must start with a letter and match [a-zA-Z][a-zA-Z0-9_-]*"}
	}
	return Namespace{
		Name:           strings.ToLower(name),
		TenantID:       tenantID,
		DefaultTTL:     int64(NeverExpire),
		MaxEntries:     0,
		EvictionPolicy: EvictionLRU,
		MaxKeyLength:   MaxKeyLength,
	}, nil
}

// FullKey computes the full storage key "{tenant_id?:}{name}:{key}".
func (n Namespace) FullKey(key Key) string {
	if n.TenantID != "" {
		return n.TenantID + ":" + n.Name + ":" + key.String()
	}
	return n.Name + ":" + key.String()
}

// Identity returns the (tenant, name) pair uniquely identifying this
// namespace for registry/lookup purposes.
func (n Namespace) Identity() string {
	if n.TenantID != "" {
		return n.TenantID + ":" + n.Name
	}
	return n.Name
}

// EffectiveMaxKeyLength returns MaxKeyLength, defaulting to the package
// constant when unset.
func (n Namespace) EffectiveMaxKeyLength() int {
	if n.MaxKeyLength <= 0 {
		return MaxKeyLength
	}
	return n.MaxKeyLength
}

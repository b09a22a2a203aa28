// Package eventpublisher batches and ships domain events emitted by the
// cache engine.
package eventpublisher

import "time"

// MissReason classifies why CacheMiss fired.
type MissReason string

const (
	MissNotFound   MissReason = "NOT_FOUND"
	MissExpired    MissReason = "EXPIRED"
	MissEvicted    MissReason = "EVICTED"
	MissInvalidated MissReason = "INVALIDATED"
	MissError      MissReason = "ERROR"
)

// InvalidationReason classifies why CacheInvalidated fired.
type InvalidationReason string

const (
	InvalidationManual         InvalidationReason = "MANUAL"
	InvalidationPattern        InvalidationReason = "PATTERN"
	InvalidationDependency     InvalidationReason = "DEPENDENCY"
	InvalidationEventDriven    InvalidationReason = "EVENT_DRIVEN"
	InvalidationNamespaceFlush InvalidationReason = "NAMESPACE_FLUSH"
	InvalidationScheduled      InvalidationReason = "SCHEDULED"
	InvalidationSystem         InvalidationReason = "SYSTEM"
)

// ExpiryTrigger classifies why CacheExpired fired.
type ExpiryTrigger string

const (
	ExpiryAccess     ExpiryTrigger = "ACCESS"
	ExpiryCleanup    ExpiryTrigger = "CLEANUP"
	ExpiryMonitoring ExpiryTrigger = "MONITORING"
	ExpiryEviction   ExpiryTrigger = "EVICTION"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindCacheHit         Kind = "CacheHit"
	KindCacheMiss        Kind = "CacheMiss"
	KindCacheInvalidated Kind = "CacheInvalidated"
	KindCacheExpired     Kind = "CacheExpired"
)

// Event is one domain event. Exactly the fields relevant to Kind are set.
type Event struct {
	Kind      Kind
	Key       string
	Namespace string
	Timestamp time.Time

	MissReason         MissReason
	InvalidationReason InvalidationReason
	ExpiryTrigger      ExpiryTrigger
}

func now() time.Time { return time.Now() }

// CacheHit builds a KindCacheHit event.
func CacheHit(key, namespace string) Event {
	return Event{Kind: KindCacheHit, Key: key, Namespace: namespace, Timestamp: now()}
}

// CacheMiss builds a KindCacheMiss event.
func CacheMiss(key, namespace string, reason MissReason) Event {
	return Event{Kind: KindCacheMiss, Key: key, Namespace: namespace, Timestamp: now(), MissReason: reason}
}

// CacheInvalidated builds a KindCacheInvalidated event.
func CacheInvalidated(key, namespace string, reason InvalidationReason) Event {
	return Event{Kind: KindCacheInvalidated, Key: key, Namespace: namespace, Timestamp: now(), InvalidationReason: reason}
}

// CacheExpired builds a KindCacheExpired event.
func CacheExpired(key, namespace string, trigger ExpiryTrigger) Event {
	return Event{Kind: KindCacheExpired, Key: key, Namespace: namespace, Timestamp: now(), ExpiryTrigger: trigger}
}

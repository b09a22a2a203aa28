// Package repository defines the backend-agnostic storage contract and
// ships two concrete backends: an in-memory LRU-ish map and a Redis-backed
// external-KV store.
package repository

import (
	"context"
	"time"

	"github.com/wisbric/neocache/pkg/cacheentry"
	"github.com/wisbric/neocache/pkg/cachekey"
)

// Repository is the backend-agnostic storage contract every cache backend
// implements.
type Repository interface {
	// Single-key operations.
	Get(ctx context.Context, fullKey string) (cacheentry.Entry, bool, error)
	Set(ctx context.Context, fullKey string, entry cacheentry.Entry) error
	Delete(ctx context.Context, fullKey string) (existed bool, err error)
	Exists(ctx context.Context, fullKey string) (bool, error)
	GetTTL(ctx context.Context, fullKey string) (cachekey.TTL, error)
	ExtendTTL(ctx context.Context, fullKey string, ttl cachekey.TTL) error

	// Batch operations.
	GetMany(ctx context.Context, fullKeys []string) (map[string]cacheentry.Entry, error)
	SetMany(ctx context.Context, entries map[string]cacheentry.Entry) error
	DeleteMany(ctx context.Context, fullKeys []string) (int, error)

	// Pattern operations.
	FindKeys(ctx context.Context, pattern cachekey.Pattern, namespace string) ([]string, error)
	InvalidatePattern(ctx context.Context, pattern cachekey.Pattern, namespace string) (int, error)

	// Namespace operations.
	FlushNamespace(ctx context.Context, namespace string) (int, error)
	GetNamespaceSize(ctx context.Context, namespace string) (int64, error)
	GetNamespaceMemory(ctx context.Context, namespace string) (int64, error)
	ListNamespaces(ctx context.Context) ([]string, error)

	// Stats/info.
	GetStats(ctx context.Context) (Stats, error)
	GetInfo(ctx context.Context) (map[string]string, error)
	Ping(ctx context.Context) error
	CleanupExpired(ctx context.Context) (int, error)
	Optimize(ctx context.Context) error
}

// Transactor is an optional capability for backends that support
// transactions. A backend with no transaction support may implement it as a
// no-op.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transaction handle.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Stats is a point-in-time snapshot of repository-wide counters.
type Stats struct {
	Hits            int64
	Misses          int64
	Sets            int64
	Deletes         int64
	Evictions       int64
	ExpiredRemovals int64
	EntryCount      int64
	MemoryBytes     int64
	Uptime          time.Duration
}

// HitRate returns hits / (hits + misses), or 0 when no reads occurred yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Package cachemanager provides a single facade wiring a serializer, a
// repository, and the optional invalidation/distribution subsystems behind
// get/set/delete/get_or_set.
package cachemanager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisbric/neocache/pkg/cacheentry"
	"github.com/wisbric/neocache/pkg/cachekey"
	"github.com/wisbric/neocache/pkg/repository"
	"github.com/wisbric/neocache/pkg/serializer"
)

// Invalidator is the narrow slice of the invalidation subsystem the manager
// needs: recording which entries a newly-written entry depends on, so a
// later cascade invalidation of the parent also drops the dependent.
type Invalidator interface {
	RecordDependency(ctx context.Context, parentFullKey, dependentFullKey string) error
}

// Distributor is the narrow slice of the distribution subsystem the manager
// needs: telling peer nodes that a key changed so they can drop any local
// copy.
type Distributor interface {
	BroadcastInvalidation(ctx context.Context, fullKey, namespace string) error
}

// SetOptions customizes a write. The zero value means "use the namespace
// default TTL and medium priority".
type SetOptions struct {
	TTL       cachekey.TTL
	Priority  cachekey.Priority
	DependsOn []string // full keys this entry depends on
}

func (o SetOptions) ttlOrDefault(ns cachekey.Namespace) cachekey.TTL {
	if o.TTL != 0 {
		return o.TTL
	}
	return cachekey.TTL(ns.DefaultTTL)
}

func (o SetOptions) priorityOrDefault() cachekey.Priority {
	if o.Priority == 0 {
		return cachekey.PriorityMedium
	}
	return o.Priority
}

// Manager is the cache facade bound to one namespace. Every repository
// failure is swallowed and surfaced as a miss/false so the manager degrades
// gracefully rather than propagating backend errors to callers.
type Manager struct {
	namespace   cachekey.Namespace
	repo        repository.Repository
	serializer  serializer.Serializer
	invalidator Invalidator // optional, nil disables dependency tracking
	distributor Distributor // optional, nil disables cross-node broadcast
	logger      *slog.Logger
}

// New wires the serializer, repository, invalidator, and distributor
// together behind one facade. invalidator and distributor may be nil.
func New(ns cachekey.Namespace, repo repository.Repository, ser serializer.Serializer, invalidator Invalidator, distributor Distributor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		namespace:   ns,
		repo:        repo,
		serializer:  ser,
		invalidator: invalidator,
		distributor: distributor,
		logger:      logger,
	}
}

// Namespace returns the namespace this manager is bound to.
func (m *Manager) Namespace() cachekey.Namespace { return m.namespace }

func (m *Manager) fullKey(key string) (cachekey.Key, string, error) {
	k, err := cachekey.NewKey(key)
	if err != nil {
		return cachekey.Key{}, "", err
	}
	return k, m.namespace.FullKey(k), nil
}

// Get fetches and decodes a value. Any backend or decode failure degrades
// to a miss; it is logged, never returned as an error.
func (m *Manager) Get(ctx context.Context, key string, out any) bool {
	_, fk, err := m.fullKey(key)
	if err != nil {
		m.logger.Warn("cachemanager get: invalid key", "key", key, "error", err)
		return false
	}

	entry, ok, err := m.repo.Get(ctx, fk)
	if err != nil {
		m.logger.Warn("cachemanager get: repository error", "key", fk, "error", err)
		return false
	}
	if !ok {
		return false
	}

	if out == nil {
		return true
	}
	if err := m.serializer.Deserialize(entry.Value, entry.Metadata, out); err != nil {
		m.logger.Warn("cachemanager get: deserialize error", "key", fk, "error", err)
		return false
	}
	return true
}

// GetRaw fetches the raw undecoded entry bytes, bypassing the serializer.
func (m *Manager) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	_, fk, err := m.fullKey(key)
	if err != nil {
		return nil, false
	}
	entry, ok, err := m.repo.Get(ctx, fk)
	if err != nil || !ok {
		return nil, false
	}
	return entry.Value, true
}

// Set encodes and stores value. Any failure returns false rather than an
// error: set silently fails on any backend error.
func (m *Manager) Set(ctx context.Context, key string, value any, opts SetOptions) bool {
	k, fk, err := m.fullKey(key)
	if err != nil {
		m.logger.Warn("cachemanager set: invalid key", "key", key, "error", err)
		return false
	}

	raw, err := m.serializer.Serialize(value, nil)
	if err != nil {
		m.logger.Warn("cachemanager set: serialize error", "key", fk, "error", err)
		return false
	}

	entry := cacheentry.New(k, m.namespace, raw, opts.ttlOrDefault(m.namespace), opts.priorityOrDefault(), time.Now())
	if err := m.repo.Set(ctx, fk, entry); err != nil {
		m.logger.Warn("cachemanager set: repository error", "key", fk, "error", err)
		return false
	}

	m.recordDependencies(ctx, fk, opts.DependsOn)
	m.broadcast(ctx, fk)
	return true
}

func (m *Manager) recordDependencies(ctx context.Context, dependentFullKey string, dependsOn []string) {
	if m.invalidator == nil {
		return
	}
	for _, parent := range dependsOn {
		if err := m.invalidator.RecordDependency(ctx, parent, dependentFullKey); err != nil {
			m.logger.Warn("cachemanager: recording dependency failed", "parent", parent, "dependent", dependentFullKey, "error", err)
		}
	}
}

func (m *Manager) broadcast(ctx context.Context, fullKey string) {
	if m.distributor == nil {
		return
	}
	if err := m.distributor.BroadcastInvalidation(ctx, fullKey, m.namespace.Identity()); err != nil {
		m.logger.Warn("cachemanager: broadcast invalidation failed", "key", fullKey, "error", err)
	}
}

// Delete removes an entry, broadcasting the invalidation to peer nodes.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	_, fk, err := m.fullKey(key)
	if err != nil {
		return false
	}
	existed, err := m.repo.Delete(ctx, fk)
	if err != nil {
		m.logger.Warn("cachemanager delete: repository error", "key", fk, "error", err)
		return false
	}
	if existed {
		m.broadcast(ctx, fk)
	}
	return existed
}

// Exists reports whether key is present and unexpired.
func (m *Manager) Exists(ctx context.Context, key string) bool {
	_, fk, err := m.fullKey(key)
	if err != nil {
		return false
	}
	ok, err := m.repo.Exists(ctx, fk)
	if err != nil {
		m.logger.Warn("cachemanager exists: repository error", "key", fk, "error", err)
		return false
	}
	return ok
}

// Factory computes a value to cache on a miss. It returns an error when the
// value could not be produced; the result is then neither cached nor
// returned.
type Factory func(ctx context.Context) (any, error)

// GetOrSet returns the cached value for key, computing and storing it via
// factory on a miss. A factory error is returned to the caller and nothing
// is cached.
func (m *Manager) GetOrSet(ctx context.Context, key string, out any, factory Factory, opts SetOptions) error {
	if m.Get(ctx, key, out) {
		return nil
	}

	value, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("cachemanager get_or_set factory: %w", err)
	}

	m.Set(ctx, key, value, opts)

	raw, err := m.serializer.Serialize(value, nil)
	if err != nil {
		return fmt.Errorf("cachemanager get_or_set: re-encoding factory result: %w", err)
	}
	if out != nil {
		return m.serializer.Deserialize(raw, nil, out)
	}
	return nil
}

// GetMany fetches every key present and unexpired, returning each entry's
// raw stored bytes (not decoded by the serializer) under the caller's key.
// Missing keys are simply absent from the result.
func (m *Manager) GetMany(ctx context.Context, keys []string) map[string][]byte {
	fullKeys := make([]string, 0, len(keys))
	byFull := make(map[string]string, len(keys))
	for _, key := range keys {
		_, fk, err := m.fullKey(key)
		if err != nil {
			continue
		}
		fullKeys = append(fullKeys, fk)
		byFull[fk] = key
	}

	entries, err := m.repo.GetMany(ctx, fullKeys)
	if err != nil {
		m.logger.Warn("cachemanager get_many: repository error", "error", err)
		return map[string][]byte{}
	}

	out := make(map[string][]byte, len(entries))
	for fk, entry := range entries {
		out[byFull[fk]] = entry.Value
	}
	return out
}

// SetMany stores every (key, value) pair under the same options, returning
// false if any single write failed.
func (m *Manager) SetMany(ctx context.Context, values map[string]any, opts SetOptions) bool {
	entries := make(map[string]cacheentry.Entry, len(values))
	for key, value := range values {
		k, fk, err := m.fullKey(key)
		if err != nil {
			m.logger.Warn("cachemanager set_many: invalid key", "key", key, "error", err)
			return false
		}
		raw, err := m.serializer.Serialize(value, nil)
		if err != nil {
			m.logger.Warn("cachemanager set_many: serialize error", "key", fk, "error", err)
			return false
		}
		entries[fk] = cacheentry.New(k, m.namespace, raw, opts.ttlOrDefault(m.namespace), opts.priorityOrDefault(), time.Now())
	}

	if err := m.repo.SetMany(ctx, entries); err != nil {
		m.logger.Warn("cachemanager set_many: repository error", "error", err)
		return false
	}
	for fk := range entries {
		m.broadcast(ctx, fk)
	}
	return true
}

// userScopedKey builds the "user:{userID}:{key}" key used by the
// user-scoped convenience pair.
func userScopedKey(userID, key string) string { return "user:" + userID + ":" + key }

// tenantScopedKey builds the "tenant:{tenantID}:{key}" key used by the
// tenant-scoped convenience pair.
func tenantScopedKey(tenantID, key string) string { return "tenant:" + tenantID + ":" + key }

// GetForUser and SetForUser are the user-scoped convenience pair.
func (m *Manager) GetForUser(ctx context.Context, userID, key string, out any) bool {
	return m.Get(ctx, userScopedKey(userID, key), out)
}

func (m *Manager) SetForUser(ctx context.Context, userID, key string, value any, opts SetOptions) bool {
	return m.Set(ctx, userScopedKey(userID, key), value, opts)
}

// GetForTenant and SetForTenant are the tenant-scoped convenience pair.
func (m *Manager) GetForTenant(ctx context.Context, tenantID, key string, out any) bool {
	return m.Get(ctx, tenantScopedKey(tenantID, key), out)
}

func (m *Manager) SetForTenant(ctx context.Context, tenantID, key string, value any, opts SetOptions) bool {
	return m.Set(ctx, tenantScopedKey(tenantID, key), value, opts)
}

// WarmEntry is one value to proactively populate, used by the explicit-list
// form of WarmOptions.
type WarmEntry struct {
	Key      string
	Value    any
	TTL      cachekey.TTL
	Priority cachekey.Priority
}

// KeyFactory lazily produces the set of keys to warm.
type KeyFactory func(ctx context.Context) ([]string, error)

// ValueFactory produces the value for one key. A factory error skips that
// key rather than aborting the warm.
type ValueFactory func(ctx context.Context, key string) (any, error)

// WarmOptions configures a warming run. Exactly one of Entry, Entries, or
// the KeyFactory/ValueFactory pair should be populated; Entry and Entries
// are checked first.
type WarmOptions struct {
	Entry   *WarmEntry
	Entries []WarmEntry

	KeyFactory   KeyFactory
	ValueFactory ValueFactory

	// BatchSize caps how many entries are written per batch; it only
	// bounds how progress is chunked; every entry is still attempted.
	BatchSize int
	// ReplaceExisting skips the existence check and always overwrites.
	ReplaceExisting bool
}

func (o WarmOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return 100
	}
	return o.BatchSize
}

// WarmResult reports the outcome of a Warm call. Success is true only when
// no individual entry failed; partial failures still populate the cache
// with every entry that succeeded.
type WarmResult struct {
	Namespace      string
	EntriesWarmed  int
	EntriesSkipped int
	EntriesFailed  int
	FailedKeys     []string
}

func (r WarmResult) Success() bool { return r.EntriesFailed == 0 }

// Warm proactively populates the cache ahead of demand. It supports three
// sources, tried in order: a single explicit entry, a list of explicit
// entries, or a key factory paired with a value factory for lazy
// generation over large or dynamic key sets. Per-entry failures (an invalid
// key, a serialize error, a repository write failure) are isolated: they
// count against EntriesFailed/FailedKeys but never abort the run. A value
// factory error skips that key without counting it as failed.
func (m *Manager) Warm(ctx context.Context, opts WarmOptions) WarmResult {
	result := WarmResult{Namespace: m.namespace.Identity()}

	entries, err := m.prepareWarmEntries(ctx, opts)
	if err != nil {
		m.logger.Warn("cachemanager warm: key factory error", "namespace", result.Namespace, "error", err)
		return result
	}
	if len(entries) == 0 {
		return result
	}

	batchSize := opts.batchSize()
	for i := 0; i < len(entries); i += batchSize {
		end := i + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		m.warmBatch(ctx, entries[i:end], opts.ReplaceExisting, &result)
	}
	return result
}

func (m *Manager) prepareWarmEntries(ctx context.Context, opts WarmOptions) ([]WarmEntry, error) {
	switch {
	case opts.Entry != nil:
		return []WarmEntry{*opts.Entry}, nil
	case len(opts.Entries) > 0:
		return opts.Entries, nil
	case opts.KeyFactory != nil && opts.ValueFactory != nil:
		keys, err := opts.KeyFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("cachemanager warm: key factory: %w", err)
		}
		entries := make([]WarmEntry, 0, len(keys))
		for _, key := range keys {
			value, err := opts.ValueFactory(ctx, key)
			if err != nil {
				m.logger.Warn("cachemanager warm: value factory error, skipping key", "key", key, "error", err)
				continue
			}
			entries = append(entries, WarmEntry{Key: key, Value: value})
		}
		return entries, nil
	default:
		return nil, nil
	}
}

func (m *Manager) warmBatch(ctx context.Context, batch []WarmEntry, replaceExisting bool, result *WarmResult) {
	for _, we := range batch {
		_, fk, err := m.fullKey(we.Key)
		if err != nil {
			result.EntriesFailed++
			result.FailedKeys = append(result.FailedKeys, we.Key)
			continue
		}

		if !replaceExisting {
			exists, err := m.repo.Exists(ctx, fk)
			if err != nil {
				m.logger.Warn("cachemanager warm: exists check failed", "key", fk, "error", err)
			} else if exists {
				result.EntriesSkipped++
				continue
			}
		}

		priority := we.Priority
		if priority == 0 {
			priority = cachekey.PriorityMedium
		}
		ttl := we.TTL
		if ttl == 0 {
			ttl = cachekey.TTL(m.namespace.DefaultTTL)
		}

		if m.Set(ctx, we.Key, we.Value, SetOptions{TTL: ttl, Priority: priority}) {
			result.EntriesWarmed++
		} else {
			result.EntriesFailed++
			result.FailedKeys = append(result.FailedKeys, we.Key)
		}
	}
}

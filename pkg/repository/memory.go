package repository

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/neocache/pkg/cacheentry"
	"github.com/wisbric/neocache/pkg/cachekey"
)

// memRecord is the internal bookkeeping unit: the entry plus its position in
// the LRU list.
type memRecord struct {
	entry cacheentry.Entry
	elem  *list.Element // element in lru, Value is fullKey
}

// MemoryRepository is an in-process, ephemeral backend: a map of entries
// plus a recency-ordered list reordered on access, guarded by a single
// mutex. Cache
// contents do not survive a process restart.
type MemoryRepository struct {
	mu sync.Mutex

	records map[string]*memRecord
	lru     *list.List // front = most recently used

	nsPolicies map[string]cachekey.Namespace // by Namespace.Identity()
	nsMembers  map[string]map[string]struct{} // namespace identity -> set of fullKeys

	stats     Stats
	startedAt time.Time

	cleanupInterval time.Duration
	logger          *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMemoryRepository constructs a MemoryRepository. cleanupInterval governs
// the background expired-entry sweep; zero disables the sweep loop.
func NewMemoryRepository(cleanupInterval time.Duration, logger *slog.Logger) *MemoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &MemoryRepository{
		records:         make(map[string]*memRecord),
		lru:             list.New(),
		nsPolicies:      make(map[string]cachekey.Namespace),
		nsMembers:       make(map[string]map[string]struct{}),
		startedAt:       time.Now(),
		cleanupInterval: cleanupInterval,
		logger:          logger,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go r.sweepLoop()
	} else {
		close(r.doneCh)
	}
	return r
}

// RegisterNamespace installs or updates the eviction policy for a namespace.
func (r *MemoryRepository) RegisterNamespace(ns cachekey.Namespace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nsPolicies[ns.Identity()] = ns
}

// Close stops the background sweep loop and blocks until it exits.
func (r *MemoryRepository) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *MemoryRepository) sweepLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if n, err := r.CleanupExpired(context.Background()); err == nil && n > 0 {
				r.logger.Debug("memory repository swept expired entries", "count", n)
			}
		}
	}
}

func (r *MemoryRepository) Get(_ context.Context, fullKey string) (cacheentry.Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[fullKey]
	if !ok {
		r.stats.Misses++
		return cacheentry.Entry{}, false, nil
	}

	if rec.entry.IsExpired(time.Now()) {
		r.removeLocked(fullKey)
		r.stats.Misses++
		r.stats.ExpiredRemovals++
		return cacheentry.Entry{}, false, nil
	}

	rec.entry = rec.entry.Touch(time.Now())
	r.lru.MoveToFront(rec.elem)
	r.stats.Hits++
	return rec.entry, true, nil
}

func (r *MemoryRepository) Set(_ context.Context, fullKey string, entry cacheentry.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(fullKey, entry)
	r.stats.Sets++
	return nil
}

func (r *MemoryRepository) setLocked(fullKey string, entry cacheentry.Entry) {
	nsID := entry.Namespace.Identity()

	if existing, ok := r.records[fullKey]; ok {
		existing.entry = entry
		r.lru.MoveToFront(existing.elem)
		return
	}

	r.evictForInsertLocked(nsID)

	elem := r.lru.PushFront(fullKey)
	r.records[fullKey] = &memRecord{entry: entry, elem: elem}

	members := r.nsMembers[nsID]
	if members == nil {
		members = make(map[string]struct{})
		r.nsMembers[nsID] = members
	}
	members[fullKey] = struct{}{}
}

// evictForInsertLocked evicts from the namespace identified by nsID until
// its entry count is strictly below max_entries, applying the namespace's
// eviction policy before the new insert.
func (r *MemoryRepository) evictForInsertLocked(nsID string) {
	policy, ok := r.nsPolicies[nsID]
	if !ok || policy.MaxEntries <= 0 {
		return
	}

	members := r.nsMembers[nsID]
	for int64(len(members)) >= policy.MaxEntries {
		victim := r.chooseVictimLocked(nsID, members, policy.EvictionPolicy)
		if victim == "" {
			return
		}
		r.removeLocked(victim)
		r.stats.Evictions++
	}
}

func (r *MemoryRepository) chooseVictimLocked(nsID string, members map[string]struct{}, policy cachekey.EvictionPolicy) string {
	switch policy {
	case cachekey.EvictionLFU:
		return r.pickExtremeLocked(members, func(a, b cacheentry.Entry) bool { return a.AccessCount < b.AccessCount })
	case cachekey.EvictionFIFO:
		return r.pickExtremeLocked(members, func(a, b cacheentry.Entry) bool { return a.CreatedAt.Before(b.CreatedAt) })
	case cachekey.EvictionTTL:
		return r.pickExtremeLocked(members, func(a, b cacheentry.Entry) bool {
			aExp, bExp := a.TTL.ExpiresAt(a.CreatedAt), b.TTL.ExpiresAt(b.CreatedAt)
			if aExp.IsZero() {
				return false
			}
			if bExp.IsZero() {
				return true
			}
			return aExp.Before(bExp)
		})
	case cachekey.EvictionPriority:
		return r.pickExtremeLocked(members, func(a, b cacheentry.Entry) bool {
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.AccessedAt.Before(b.AccessedAt)
		})
	case cachekey.EvictionHybrid:
		return r.pickExtremeLocked(members, func(a, b cacheentry.Entry) bool {
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if a.AccessCount != b.AccessCount {
				return a.AccessCount < b.AccessCount
			}
			return a.AccessedAt.Before(b.AccessedAt)
		})
	default: // LRU: evict from the back of the global LRU list within this namespace.
		for e := r.lru.Back(); e != nil; e = e.Prev() {
			fullKey := e.Value.(string)
			if _, inNS := members[fullKey]; inNS {
				return fullKey
			}
		}
		return ""
	}
}

// pickExtremeLocked returns the fullKey of the member entry for which
// less(candidate, current) holds against every other member — i.e. the
// "smallest" element under less.
func (r *MemoryRepository) pickExtremeLocked(members map[string]struct{}, less func(a, b cacheentry.Entry) bool) string {
	var victim string
	var victimEntry cacheentry.Entry
	first := true
	for fullKey := range members {
		rec, ok := r.records[fullKey]
		if !ok {
			continue
		}
		if first || less(rec.entry, victimEntry) {
			victim = fullKey
			victimEntry = rec.entry
			first = false
		}
	}
	return victim
}

func (r *MemoryRepository) removeLocked(fullKey string) {
	rec, ok := r.records[fullKey]
	if !ok {
		return
	}
	r.lru.Remove(rec.elem)
	delete(r.records, fullKey)
	nsID := rec.entry.Namespace.Identity()
	if members, ok := r.nsMembers[nsID]; ok {
		delete(members, fullKey)
	}
}

func (r *MemoryRepository) Delete(_ context.Context, fullKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.records[fullKey]
	if existed {
		r.removeLocked(fullKey)
		r.stats.Deletes++
	}
	return existed, nil
}

func (r *MemoryRepository) Exists(_ context.Context, fullKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fullKey]
	if !ok {
		return false, nil
	}
	if rec.entry.IsExpired(time.Now()) {
		r.removeLocked(fullKey)
		return false, nil
	}
	return true, nil
}

func (r *MemoryRepository) GetTTL(_ context.Context, fullKey string) (cachekey.TTL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fullKey]
	if !ok {
		return 0, nil
	}
	if rec.entry.TTL == cachekey.NeverExpire {
		return cachekey.NeverExpire, nil
	}
	remaining := rec.entry.TTL.ExpiresAt(rec.entry.CreatedAt).Sub(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	return cachekey.TTL(remaining / time.Second), nil
}

func (r *MemoryRepository) ExtendTTL(_ context.Context, fullKey string, ttl cachekey.TTL) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fullKey]
	if !ok {
		return nil
	}
	rec.entry.TTL = ttl
	rec.entry.CreatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) GetMany(ctx context.Context, fullKeys []string) (map[string]cacheentry.Entry, error) {
	out := make(map[string]cacheentry.Entry, len(fullKeys))
	for _, k := range fullKeys {
		if e, ok, _ := r.Get(ctx, k); ok {
			out[k] = e
		}
	}
	return out, nil
}

func (r *MemoryRepository) SetMany(ctx context.Context, entries map[string]cacheentry.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fullKey, entry := range entries {
		r.setLocked(fullKey, entry)
		r.stats.Sets++
	}
	return nil
}

func (r *MemoryRepository) DeleteMany(ctx context.Context, fullKeys []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, k := range fullKeys {
		if _, ok := r.records[k]; ok {
			r.removeLocked(k)
			r.stats.Deletes++
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) FindKeys(_ context.Context, pattern cachekey.Pattern, namespace string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for fullKey, rec := range r.records {
		if namespace != "" && rec.entry.Namespace.Identity() != namespace {
			continue
		}
		if pattern.Match(rec.entry.Key.String()) {
			out = append(out, fullKey)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InvalidatePattern(ctx context.Context, pattern cachekey.Pattern, namespace string) (int, error) {
	keys, err := r.FindKeys(ctx, pattern, namespace)
	if err != nil {
		return 0, err
	}
	return r.DeleteMany(ctx, keys)
}

func (r *MemoryRepository) FlushNamespace(_ context.Context, namespace string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.nsMembers[namespace]
	count := len(members)
	for fullKey := range members {
		r.removeLocked(fullKey)
	}
	r.stats.Deletes += int64(count)
	return count, nil
}

func (r *MemoryRepository) GetNamespaceSize(_ context.Context, namespace string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.nsMembers[namespace])), nil
}

func (r *MemoryRepository) GetNamespaceMemory(_ context.Context, namespace string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for fullKey := range r.nsMembers[namespace] {
		if rec, ok := r.records[fullKey]; ok {
			total += int64(rec.entry.SizeBytes)
		}
	}
	return total, nil
}

func (r *MemoryRepository) ListNamespaces(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.nsMembers))
	for ns := range r.nsMembers {
		out = append(out, ns)
	}
	return out, nil
}

func (r *MemoryRepository) GetStats(_ context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.EntryCount = int64(len(r.records))
	s.Uptime = time.Since(r.startedAt)
	var mem int64
	for _, rec := range r.records {
		mem += int64(rec.entry.SizeBytes)
	}
	s.MemoryBytes = mem
	return s, nil
}

func (r *MemoryRepository) GetInfo(_ context.Context) (map[string]string, error) {
	return map[string]string{"backend": "memory", "persistent": "false"}, nil
}

func (r *MemoryRepository) Ping(_ context.Context) error { return nil }

func (r *MemoryRepository) CleanupExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var expired []string
	for fullKey, rec := range r.records {
		if rec.entry.IsExpired(now) {
			expired = append(expired, fullKey)
		}
	}
	for _, fullKey := range expired {
		r.removeLocked(fullKey)
	}
	r.stats.ExpiredRemovals += int64(len(expired))
	return len(expired), nil
}

func (r *MemoryRepository) Optimize(_ context.Context) error { return nil }

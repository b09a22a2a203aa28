package repository

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/neocache/pkg/cacheentry"
	"github.com/wisbric/neocache/pkg/cachekey"
)

func mustKey(t *testing.T, s string) cachekey.Key {
	t.Helper()
	k, err := cachekey.NewKey(s)
	if err != nil {
		t.Fatalf("NewKey(%q): %v", s, err)
	}
	return k
}

func mustNamespace(t *testing.T, name string, policy cachekey.EvictionPolicy, maxEntries int64) cachekey.Namespace {
	t.Helper()
	ns, err := cachekey.NewNamespace(name, "")
	if err != nil {
		t.Fatalf("NewNamespace(%q): %v", name, err)
	}
	ns.EvictionPolicy = policy
	ns.MaxEntries = maxEntries
	return ns
}

func TestMemoryRepository_SetGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	key := mustKey(t, "alpha")
	entry := cacheentry.New(key, ns, []byte("v1"), cachekey.NeverExpire, cachekey.PriorityMedium, time.Now())

	if err := repo.Set(ctx, entry.FullKey(), entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := repo.Get(ctx, entry.FullKey())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Value) != "v1" {
		t.Errorf("Value = %q, want v1", got.Value)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}
}

func TestMemoryRepository_GetMiss(t *testing.T) {
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	_, ok, err := repo.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected miss for unknown key")
	}
}

func TestMemoryRepository_ExpiredEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	key := mustKey(t, "alpha")
	past := time.Now().Add(-time.Hour)
	entry := cacheentry.New(key, ns, []byte("v1"), cachekey.TTL(1), cachekey.PriorityMedium, past)

	if err := repo.Set(ctx, entry.FullKey(), entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	_, ok, err := repo.Get(ctx, entry.FullKey())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected expired entry to be a miss")
	}

	stats, _ := repo.GetStats(ctx)
	if stats.ExpiredRemovals != 1 {
		t.Errorf("ExpiredRemovals = %d, want 1", stats.ExpiredRemovals)
	}
}

func TestMemoryRepository_DeleteAndExists(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	entry := cacheentry.New(mustKey(t, "alpha"), ns, []byte("v1"), cachekey.NeverExpire, cachekey.PriorityMedium, time.Now())
	_ = repo.Set(ctx, entry.FullKey(), entry)

	existed, err := repo.Delete(ctx, entry.FullKey())
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v, want true, nil", existed, err)
	}

	ok, err := repo.Exists(ctx, entry.FullKey())
	if err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v, want false, nil", ok, err)
	}

	existed, err = repo.Delete(ctx, entry.FullKey())
	if err != nil || existed {
		t.Fatalf("second Delete = %v, %v, want false, nil", existed, err)
	}
}

func TestMemoryRepository_EvictionLRU(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 2)
	repo.RegisterNamespace(ns)

	now := time.Now()
	e1 := cacheentry.New(mustKey(t, "one"), ns, []byte("1"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
	e2 := cacheentry.New(mustKey(t, "two"), ns, []byte("2"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
	_ = repo.Set(ctx, e1.FullKey(), e1)
	_ = repo.Set(ctx, e2.FullKey(), e2)

	// Touch "one" so "two" becomes the least-recently-used entry.
	if _, _, err := repo.Get(ctx, e1.FullKey()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	e3 := cacheentry.New(mustKey(t, "three"), ns, []byte("3"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
	if err := repo.Set(ctx, e3.FullKey(), e3); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if ok, _ := repo.Exists(ctx, e2.FullKey()); ok {
		t.Error("expected least-recently-used entry to be evicted")
	}
	if ok, _ := repo.Exists(ctx, e1.FullKey()); !ok {
		t.Error("expected recently-touched entry to survive")
	}
	if ok, _ := repo.Exists(ctx, e3.FullKey()); !ok {
		t.Error("expected newly-inserted entry to survive")
	}
}

func TestMemoryRepository_EvictionLFU(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLFU, 2)
	repo.RegisterNamespace(ns)

	now := time.Now()
	e1 := cacheentry.New(mustKey(t, "one"), ns, []byte("1"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
	e2 := cacheentry.New(mustKey(t, "two"), ns, []byte("2"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
	_ = repo.Set(ctx, e1.FullKey(), e1)
	_ = repo.Set(ctx, e2.FullKey(), e2)

	// Access "one" several times so it accumulates more hits than "two".
	for i := 0; i < 3; i++ {
		if _, _, err := repo.Get(ctx, e1.FullKey()); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	e3 := cacheentry.New(mustKey(t, "three"), ns, []byte("3"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
	if err := repo.Set(ctx, e3.FullKey(), e3); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if ok, _ := repo.Exists(ctx, e2.FullKey()); ok {
		t.Error("expected least-frequently-used entry to be evicted")
	}
	if ok, _ := repo.Exists(ctx, e1.FullKey()); !ok {
		t.Error("expected frequently-accessed entry to survive")
	}
}

func TestMemoryRepository_EvictionPriority(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionPriority, 2)
	repo.RegisterNamespace(ns)

	now := time.Now()
	low := cacheentry.New(mustKey(t, "low"), ns, []byte("1"), cachekey.NeverExpire, cachekey.PriorityLow, now)
	high := cacheentry.New(mustKey(t, "high"), ns, []byte("2"), cachekey.NeverExpire, cachekey.PriorityHigh, now)
	_ = repo.Set(ctx, low.FullKey(), low)
	_ = repo.Set(ctx, high.FullKey(), high)

	third := cacheentry.New(mustKey(t, "third"), ns, []byte("3"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
	if err := repo.Set(ctx, third.FullKey(), third); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if ok, _ := repo.Exists(ctx, low.FullKey()); ok {
		t.Error("expected lowest-priority entry to be evicted first")
	}
	if ok, _ := repo.Exists(ctx, high.FullKey()); !ok {
		t.Error("expected high-priority entry to survive")
	}
}

func TestMemoryRepository_FindKeysAndInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	now := time.Now()
	for _, name := range []string{"user:1", "user:2", "order:1"} {
		e := cacheentry.New(mustKey(t, name), ns, []byte("v"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
		if err := repo.Set(ctx, e.FullKey(), e); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	pattern, err := cachekey.NewPattern("user:*", cachekey.PatternWildcard, true)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}

	keys, err := repo.FindKeys(ctx, pattern, ns.Identity())
	if err != nil {
		t.Fatalf("FindKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("FindKeys returned %d keys, want 2", len(keys))
	}

	count, err := repo.InvalidatePattern(ctx, pattern, ns.Identity())
	if err != nil {
		t.Fatalf("InvalidatePattern: %v", err)
	}
	if count != 2 {
		t.Errorf("InvalidatePattern removed %d, want 2", count)
	}

	size, _ := repo.GetNamespaceSize(ctx, ns.Identity())
	if size != 1 {
		t.Errorf("GetNamespaceSize = %d, want 1", size)
	}
}

func TestMemoryRepository_FlushNamespace(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	now := time.Now()
	for _, name := range []string{"a", "b", "c"} {
		e := cacheentry.New(mustKey(t, name), ns, []byte("v"), cachekey.NeverExpire, cachekey.PriorityMedium, now)
		if err := repo.Set(ctx, e.FullKey(), e); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	count, err := repo.FlushNamespace(ctx, ns.Identity())
	if err != nil {
		t.Fatalf("FlushNamespace: %v", err)
	}
	if count != 3 {
		t.Errorf("FlushNamespace removed %d, want 3", count)
	}

	size, _ := repo.GetNamespaceSize(ctx, ns.Identity())
	if size != 0 {
		t.Errorf("GetNamespaceSize after flush = %d, want 0", size)
	}
}

func TestMemoryRepository_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	past := time.Now().Add(-time.Hour)
	expired := cacheentry.New(mustKey(t, "stale"), ns, []byte("v"), cachekey.TTL(1), cachekey.PriorityMedium, past)
	fresh := cacheentry.New(mustKey(t, "fresh"), ns, []byte("v"), cachekey.NeverExpire, cachekey.PriorityMedium, time.Now())

	_ = repo.Set(ctx, expired.FullKey(), expired)
	_ = repo.Set(ctx, fresh.FullKey(), fresh)

	n, err := repo.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupExpired removed %d, want 1", n)
	}

	if ok, _ := repo.Exists(ctx, fresh.FullKey()); !ok {
		t.Error("expected unexpired entry to survive cleanup")
	}
}

func TestMemoryRepository_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	entry := cacheentry.New(mustKey(t, "alpha"), ns, []byte("v1"), cachekey.NeverExpire, cachekey.PriorityMedium, time.Now())
	_ = repo.Set(ctx, entry.FullKey(), entry)

	if _, _, err := repo.Get(ctx, entry.FullKey()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, _, err := repo.Get(ctx, "missing"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	stats, err := repo.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.Sets != 1 {
		t.Errorf("stats = %+v, want Hits=1 Misses=1 Sets=1", stats)
	}
	if stats.HitRate() != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", stats.HitRate())
	}
}

func TestMemoryRepository_SweepLoopRemovesExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(10*time.Millisecond, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	past := time.Now().Add(-time.Hour)
	expired := cacheentry.New(mustKey(t, "stale"), ns, []byte("v"), cachekey.TTL(1), cachekey.PriorityMedium, past)
	_ = repo.Set(ctx, expired.FullKey(), expired)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		stats, _ := repo.GetStats(ctx)
		if stats.ExpiredRemovals > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("sweep loop never removed the expired entry")
}

func TestMemoryRepository_GetTTLReturnsRemaining(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	createdAt := time.Now().Add(-40 * time.Second)
	entry := cacheentry.New(mustKey(t, "alpha"), ns, []byte("v1"), cachekey.TTL(100), cachekey.PriorityMedium, createdAt)
	if err := repo.Set(ctx, entry.FullKey(), entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ttl, err := repo.GetTTL(ctx, entry.FullKey())
	if err != nil {
		t.Fatalf("GetTTL: %v", err)
	}
	if ttl <= 0 || ttl > 61 {
		t.Errorf("GetTTL() = %v, want remaining TTL near 60s, not the original 100s", ttl)
	}
}

func TestMemoryRepository_GetTTLNeverExpire(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	entry := cacheentry.New(mustKey(t, "alpha"), ns, []byte("v1"), cachekey.NeverExpire, cachekey.PriorityMedium, time.Now())
	if err := repo.Set(ctx, entry.FullKey(), entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ttl, err := repo.GetTTL(ctx, entry.FullKey())
	if err != nil {
		t.Fatalf("GetTTL: %v", err)
	}
	if ttl != cachekey.NeverExpire {
		t.Errorf("GetTTL() = %v, want NeverExpire passthrough", ttl)
	}
}

func TestMemoryRepository_ExtendTTLResetsRemaining(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0, nil)
	defer repo.Close()

	ns := mustNamespace(t, "widgets", cachekey.EvictionLRU, 0)
	createdAt := time.Now().Add(-90 * time.Second)
	entry := cacheentry.New(mustKey(t, "alpha"), ns, []byte("v1"), cachekey.TTL(100), cachekey.PriorityMedium, createdAt)
	if err := repo.Set(ctx, entry.FullKey(), entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := repo.ExtendTTL(ctx, entry.FullKey(), cachekey.TTL(100)); err != nil {
		t.Fatalf("ExtendTTL: %v", err)
	}

	ttl, err := repo.GetTTL(ctx, entry.FullKey())
	if err != nil {
		t.Fatalf("GetTTL: %v", err)
	}
	if ttl < 90 {
		t.Errorf("GetTTL() after ExtendTTL = %v, want close to the full 100s from the extension point", ttl)
	}
}

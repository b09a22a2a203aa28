package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/neocache/pkg/cacheentry"
	"github.com/wisbric/neocache/pkg/cachekey"
)

// RedisRepository is the external-KV backend: one storage key per entry plus
// a sibling metadata hash. Value bytes are supplied by the caller (normally
// already run through a Serializer by the cache manager); this backend only
// owns the wire layout and TTL pipelining.
type RedisRepository struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	hits, misses, sets, deletes, evictions, expiredRemovals atomic.Int64
	startedAt                                               time.Time
}

// NewRedisRepository constructs a RedisRepository. prefix is prepended to
// every stored key.
func NewRedisRepository(client *redis.Client, prefix string, logger *slog.Logger) *RedisRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRepository{client: client, prefix: prefix, logger: logger, startedAt: time.Now()}
}

func (r *RedisRepository) storedKey(fullKey string) string { return r.prefix + fullKey }
func metaKey(storedKey string) string                      { return storedKey + ":meta" }

func (r *RedisRepository) Get(ctx context.Context, fullKey string) (cacheentry.Entry, bool, error) {
	sk := r.storedKey(fullKey)
	mk := metaKey(sk)

	pipe := r.client.Pipeline()
	valCmd := pipe.Get(ctx, sk)
	metaCmd := pipe.HGetAll(ctx, mk)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return cacheentry.Entry{}, false, fmt.Errorf("redis get pipeline %s: %w", fullKey, err)
	}

	value, err := valCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return cacheentry.Entry{}, false, nil
	}
	if err != nil {
		return cacheentry.Entry{}, false, fmt.Errorf("redis get value %s: %w", fullKey, err)
	}

	meta, err := metaCmd.Result()
	if err != nil || len(meta) == 0 {
		// Value present but metadata missing is treated as a miss.
		r.misses.Add(1)
		return cacheentry.Entry{}, false, nil
	}

	entry, err := entryFromMeta(fullKey, value, meta)
	if err != nil {
		return cacheentry.Entry{}, false, fmt.Errorf("redis decode metadata %s: %w", fullKey, err)
	}

	if entry.IsExpired(time.Now()) {
		r.deleteKeys(ctx, sk, mk)
		r.misses.Add(1)
		r.expiredRemovals.Add(1)
		return cacheentry.Entry{}, false, nil
	}

	touched := entry.Touch(time.Now())
	upd := r.client.Pipeline()
	upd.HSet(ctx, mk, "accessed_at", touched.AccessedAt.Format(time.RFC3339Nano), "access_count", touched.AccessCount)
	if _, err := upd.Exec(ctx); err != nil {
		r.logger.Warn("redis touch metadata failed", "key", fullKey, "error", err)
	}

	r.hits.Add(1)
	return touched, true, nil
}

func (r *RedisRepository) Set(ctx context.Context, fullKey string, entry cacheentry.Entry) error {
	sk := r.storedKey(fullKey)
	mk := metaKey(sk)
	ttl := redisTTL(entry.TTL)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sk, entry.Value, ttl)
	pipe.HSet(ctx, mk,
		"created_at", entry.CreatedAt.Format(time.RFC3339Nano),
		"accessed_at", entry.AccessedAt.Format(time.RFC3339Nano),
		"access_count", entry.AccessCount,
		"size_bytes", int64(entry.SizeBytes),
		"priority", int(entry.Priority),
		"ttl_seconds", int64(entry.TTL),
		"key", entry.Key.String(),
		"namespace", entry.Namespace.Identity(),
	)
	if ttl > 0 {
		pipe.Expire(ctx, mk, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %s: %w", fullKey, err)
	}
	r.sets.Add(1)
	return nil
}

// redisTTL maps the signed TTL sentinels onto go-redis semantics:
// NeverExpire becomes 0 (redis: no expiry), InstantExpire becomes a
// 1-millisecond expiry since redis does not accept a zero TTL on SET.
func redisTTL(ttl cachekey.TTL) time.Duration {
	switch ttl {
	case cachekey.NeverExpire:
		return 0
	case cachekey.InstantExpire:
		return time.Millisecond
	default:
		return ttl.Duration()
	}
}

func (r *RedisRepository) Delete(ctx context.Context, fullKey string) (bool, error) {
	sk := r.storedKey(fullKey)
	mk := metaKey(sk)
	n, err := r.deleteKeys(ctx, sk, mk)
	if err != nil {
		return false, err
	}
	if n > 0 {
		r.deletes.Add(1)
	}
	return n > 0, nil
}

func (r *RedisRepository) deleteKeys(ctx context.Context, keys ...string) (int64, error) {
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

func (r *RedisRepository) Exists(ctx context.Context, fullKey string) (bool, error) {
	sk := r.storedKey(fullKey)
	n, err := r.client.Exists(ctx, sk, metaKey(sk)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", fullKey, err)
	}
	return n == 2, nil
}

func (r *RedisRepository) GetTTL(ctx context.Context, fullKey string) (cachekey.TTL, error) {
	sk := r.storedKey(fullKey)
	d, err := r.client.TTL(ctx, sk).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", fullKey, err)
	}
	if d < 0 {
		return cachekey.NeverExpire, nil
	}
	return cachekey.TTL(d / time.Second), nil
}

func (r *RedisRepository) ExtendTTL(ctx context.Context, fullKey string, ttl cachekey.TTL) error {
	sk := r.storedKey(fullKey)
	mk := metaKey(sk)
	d := redisTTL(ttl)

	pipe := r.client.Pipeline()
	if d > 0 {
		pipe.Expire(ctx, sk, d)
		pipe.Expire(ctx, mk, d)
	} else {
		pipe.Persist(ctx, sk)
		pipe.Persist(ctx, mk)
	}
	pipe.HSet(ctx, mk, "ttl_seconds", int64(ttl))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis extend ttl %s: %w", fullKey, err)
	}
	return nil
}

func (r *RedisRepository) GetMany(ctx context.Context, fullKeys []string) (map[string]cacheentry.Entry, error) {
	out := make(map[string]cacheentry.Entry, len(fullKeys))
	for _, k := range fullKeys {
		e, ok, err := r.Get(ctx, k)
		if err != nil {
			return out, err
		}
		if ok {
			out[k] = e
		}
	}
	return out, nil
}

func (r *RedisRepository) SetMany(ctx context.Context, entries map[string]cacheentry.Entry) error {
	for fullKey, entry := range entries {
		if err := r.Set(ctx, fullKey, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisRepository) DeleteMany(ctx context.Context, fullKeys []string) (int, error) {
	count := 0
	for _, k := range fullKeys {
		existed, err := r.Delete(ctx, k)
		if err != nil {
			return count, err
		}
		if existed {
			count++
		}
	}
	return count, nil
}

// scanNamespace walks every value key under the given namespace identity
// using the backend's key-scan primitive.
func (r *RedisRepository) scanNamespace(ctx context.Context, namespace string) ([]string, error) {
	match := r.prefix
	if namespace != "" {
		match += namespace + ":"
	}
	match += "*"

	var fullKeys []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, sk := range keys {
			if len(sk) >= 5 && sk[len(sk)-5:] == ":meta" {
				continue
			}
			fullKeys = append(fullKeys, sk[len(r.prefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return fullKeys, nil
}

func (r *RedisRepository) FindKeys(ctx context.Context, pattern cachekey.Pattern, namespace string) ([]string, error) {
	candidates, err := r.scanNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, fullKey := range candidates {
		key := fullKey
		if namespace != "" {
			key = fullKey[len(namespace)+1:]
		} else if idx := lastColonSegment(fullKey); idx >= 0 {
			key = fullKey[idx+1:]
		}
		if pattern.Match(key) {
			out = append(out, fullKey)
		}
	}
	return out, nil
}

// lastColonSegment returns the index of the colon separating the namespace
// portion of a full key from the key portion itself.
func lastColonSegment(fullKey string) int {
	count := 0
	for i, c := range fullKey {
		if c == ':' {
			count++
			if count == 2 {
				return i
			}
		}
	}
	// Namespace without tenant: one colon only.
	for i, c := range fullKey {
		if c == ':' {
			return i
		}
	}
	return -1
}

func (r *RedisRepository) InvalidatePattern(ctx context.Context, pattern cachekey.Pattern, namespace string) (int, error) {
	keys, err := r.FindKeys(ctx, pattern, namespace)
	if err != nil {
		return 0, err
	}
	return r.DeleteMany(ctx, keys)
}

func (r *RedisRepository) FlushNamespace(ctx context.Context, namespace string) (int, error) {
	keys, err := r.scanNamespace(ctx, namespace)
	if err != nil {
		return 0, err
	}
	return r.DeleteMany(ctx, keys)
}

func (r *RedisRepository) GetNamespaceSize(ctx context.Context, namespace string) (int64, error) {
	keys, err := r.scanNamespace(ctx, namespace)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (r *RedisRepository) GetNamespaceMemory(ctx context.Context, namespace string) (int64, error) {
	keys, err := r.scanNamespace(ctx, namespace)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, fullKey := range keys {
		mk := metaKey(r.storedKey(fullKey))
		sizeStr, err := r.client.HGet(ctx, mk, "size_bytes").Result()
		if err != nil {
			continue
		}
		if n, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
			total += n
		}
	}
	return total, nil
}

func (r *RedisRepository) ListNamespaces(ctx context.Context) ([]string, error) {
	keys, err := r.scanNamespace(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, fullKey := range keys {
		if idx := lastColonSegment(fullKey); idx >= 0 {
			ns := fullKey[:idx]
			if _, ok := seen[ns]; !ok {
				seen[ns] = struct{}{}
				out = append(out, ns)
			}
		}
	}
	return out, nil
}

func (r *RedisRepository) GetStats(ctx context.Context) (Stats, error) {
	return Stats{
		Hits:            r.hits.Load(),
		Misses:          r.misses.Load(),
		Sets:            r.sets.Load(),
		Deletes:         r.deletes.Load(),
		Evictions:       r.evictions.Load(),
		ExpiredRemovals: r.expiredRemovals.Load(),
		Uptime:          time.Since(r.startedAt),
	}, nil
}

func (r *RedisRepository) GetInfo(ctx context.Context) (map[string]string, error) {
	info := map[string]string{"backend": "redis", "persistent": "true"}
	if poolStats := r.client.PoolStats(); poolStats != nil {
		info["pool_total_conns"] = strconv.Itoa(int(poolStats.TotalConns))
		info["pool_idle_conns"] = strconv.Itoa(int(poolStats.IdleConns))
	}
	return info, nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis expires keys natively via the TTL set on
// both the value and metadata keys.
func (r *RedisRepository) CleanupExpired(ctx context.Context) (int, error) { return 0, nil }

func (r *RedisRepository) Optimize(ctx context.Context) error { return nil }

// entryFromMeta reconstructs an Entry from the raw value and the metadata
// hash written by Set.
func entryFromMeta(fullKey string, value []byte, meta map[string]string) (cacheentry.Entry, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, meta["created_at"])
	if err != nil {
		return cacheentry.Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	accessedAt, err := time.Parse(time.RFC3339Nano, meta["accessed_at"])
	if err != nil {
		accessedAt = createdAt
	}
	accessCount, _ := strconv.ParseInt(meta["access_count"], 10, 64)
	sizeBytes, _ := strconv.ParseInt(meta["size_bytes"], 10, 64)
	priority, _ := strconv.Atoi(meta["priority"])
	ttlSeconds, _ := strconv.ParseInt(meta["ttl_seconds"], 10, 64)

	key, err := cachekey.NewKey(meta["key"])
	if err != nil {
		return cacheentry.Entry{}, fmt.Errorf("decoding key: %w", err)
	}
	ns, _ := cachekey.NewNamespace(meta["namespace"], "")

	return cacheentry.Entry{
		Key:         key,
		Namespace:   ns,
		Value:       value,
		TTL:         cachekey.TTL(ttlSeconds),
		Priority:    cachekey.Priority(priority),
		CreatedAt:   createdAt,
		AccessedAt:  accessedAt,
		AccessCount: accessCount,
		SizeBytes:   cachekey.Size(sizeBytes),
	}, nil
}

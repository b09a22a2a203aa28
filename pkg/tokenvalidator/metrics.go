package tokenvalidator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Statistics is a point-in-time snapshot combining the in-process counters
// with the persisted per-realm daily aggregate.
type Statistics struct {
	LocalSuccess         int64
	LocalFailure         int64
	IntrospectionSuccess int64
	IntrospectionFailure int64
	CacheHits            int64
	CacheMisses          int64
	Daily                *RealmDailyMetrics
}

// RealmDailyMetrics is the JSON blob persisted under
// auth:metrics:validation:{realm}:{yyyy-mm-dd} with a 24h TTL.
type RealmDailyMetrics struct {
	Methods map[string]*MethodMetrics `json:"methods"`
}

// MethodMetrics aggregates call count and cumulative latency for one
// validation method (e.g. "local", "introspection") within a single day.
type MethodMetrics struct {
	Count       int64 `json:"count"`
	TotalMillis int64 `json:"total_millis"`
}

// AverageMillis returns the mean latency, or 0 if no calls were recorded.
func (m MethodMetrics) AverageMillis() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.TotalMillis) / float64(m.Count)
}

const dailyMetricsTTL = 24 * time.Hour

// dailyMetricsKey builds the persisted-state key for a realm's metrics on
// the given day (UTC).
func dailyMetricsKey(realm string, day time.Time) string {
	return fmt.Sprintf("auth:metrics:validation:%s:%s", realm, day.UTC().Format("2006-01-02"))
}

// recordTiming performs a best-effort read-modify-write of the daily
// aggregate. It is guarded by an in-process mutex to avoid losing updates
// from concurrent goroutines on this node; concurrent writers on other
// nodes can still race, which is acceptable for a metrics aggregate that
// is advisory, not authoritative.
func (v *Validator) recordTiming(ctx context.Context, realm, method string, elapsed time.Duration, now time.Time) {
	v.metricsMu.Lock()
	defer v.metricsMu.Unlock()

	key := dailyMetricsKey(realm, now)
	daily := &RealmDailyMetrics{Methods: map[string]*MethodMetrics{}}
	if raw, found, err := v.cache.Get(ctx, key); err == nil && found {
		_ = json.Unmarshal(raw, daily)
		if daily.Methods == nil {
			daily.Methods = map[string]*MethodMetrics{}
		}
	}

	m := daily.Methods[method]
	if m == nil {
		m = &MethodMetrics{}
		daily.Methods[method] = m
	}
	m.Count++
	m.TotalMillis += elapsed.Milliseconds()

	raw, err := json.Marshal(daily)
	if err != nil {
		return
	}
	_ = v.cache.Set(ctx, key, raw, dailyMetricsTTL)
}


// getDailyMetrics reads the persisted aggregate for a realm/day without
// mutating it.
func (v *Validator) getDailyMetrics(ctx context.Context, realm string, day time.Time) (*RealmDailyMetrics, error) {
	raw, found, err := v.cache.Get(ctx, dailyMetricsKey(realm, day))
	if err != nil {
		return nil, fmt.Errorf("reading daily metrics for realm %s: %w", realm, err)
	}
	if !found {
		return nil, nil
	}
	var daily RealmDailyMetrics
	if err := json.Unmarshal(raw, &daily); err != nil {
		return nil, fmt.Errorf("decoding daily metrics for realm %s: %w", realm, err)
	}
	return &daily, nil
}

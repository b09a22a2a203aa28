// Package invalidator implements pattern, dependency, scheduled, and
// event-driven cache invalidation on top of a repository.Repository.
package invalidator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/neocache/pkg/cachekey"
	"github.com/wisbric/neocache/pkg/repository"
)

// Config bounds cascade depth, batch size, and the optional rate limit.
type Config struct {
	MaxCascadeDepth        int           // 0 means unbounded
	MaxKeysPerInvalidation int           // 0 means unbounded
	RateLimitPerSecond     float64       // 0 disables rate limiting
	DryRun                 bool          // count but do not delete
	SchedulerCheckInterval time.Duration // default 1s
}

func (c Config) withDefaults() Config {
	if c.SchedulerCheckInterval <= 0 {
		c.SchedulerCheckInterval = time.Second
	}
	return c
}

// Stats accumulates per-operation counters: totals by kind, keys affected,
// and errors.
type Stats struct {
	TotalInvalidations int64
	KeysAffected       int64
	Errors             int64
	ByKind             map[string]int64
}

func newStats() Stats { return Stats{ByKind: make(map[string]int64)} }

// ScheduledInvalidation is a one-shot or recurring pattern invalidation.
type ScheduledInvalidation struct {
	ID        string
	Reason    string
	Pattern   cachekey.Pattern
	Namespace string
	ExecuteAt time.Time
	Recurring bool
	Interval  time.Duration
	Cancelled bool
}

// EventTrigger fires invalidate_pattern when a matching event arrives.
type EventTrigger struct {
	ID         string
	EventType  string
	Pattern    cachekey.Pattern
	Namespace  string
	Conditions map[string]any
	Paused     bool
}

// Invalidator drives pattern, dependency, scheduled, and event-triggered
// invalidation against a single repository.
type Invalidator struct {
	repo   repository.Repository
	logger *slog.Logger
	cfg    Config

	mu           sync.Mutex
	stats        Stats
	dependencies map[string]map[string]struct{} // parent fullKey -> set of dependent fullKeys
	scheduled    map[string]*ScheduledInvalidation
	triggers     map[string]*EventTrigger

	bucket *tokenBucket

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs an Invalidator bound to repo.
func New(repo repository.Repository, cfg Config, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	var bucket *tokenBucket
	if cfg.RateLimitPerSecond > 0 {
		bucket = newTokenBucket(cfg.RateLimitPerSecond)
	}

	return &Invalidator{
		repo:         repo,
		logger:       logger,
		cfg:          cfg,
		stats:        newStats(),
		dependencies: make(map[string]map[string]struct{}),
		scheduled:    make(map[string]*ScheduledInvalidation),
		triggers:     make(map[string]*EventTrigger),
		bucket:       bucket,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run starts the scheduler loop and blocks until ctx is cancelled or Close
// is called. It is meant to be run in its own goroutine.
func (inv *Invalidator) Run(ctx context.Context) {
	defer close(inv.doneCh)
	ticker := time.NewTicker(inv.cfg.SchedulerCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-inv.stopCh:
			return
		case <-ticker.C:
			inv.runScheduledDue(ctx)
		}
	}
}

// Close stops the scheduler loop and drains it; safe to call once.
func (inv *Invalidator) Close() {
	inv.once.Do(func() { close(inv.stopCh) })
	<-inv.doneCh
}

func (inv *Invalidator) recordOp(kind string, keysAffected int64, err error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.stats.TotalInvalidations++
	inv.stats.ByKind[kind]++
	inv.stats.KeysAffected += keysAffected
	if err != nil {
		inv.stats.Errors++
	}
}

// GetStats returns a snapshot of accumulated statistics.
func (inv *Invalidator) GetStats() Stats {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := Stats{TotalInvalidations: inv.stats.TotalInvalidations, KeysAffected: inv.stats.KeysAffected, Errors: inv.stats.Errors, ByKind: make(map[string]int64, len(inv.stats.ByKind))}
	for k, v := range inv.stats.ByKind {
		out.ByKind[k] = v
	}
	return out
}

// InvalidateKey removes a single fully-qualified key.
func (inv *Invalidator) InvalidateKey(ctx context.Context, fullKey string) (bool, error) {
	if inv.cfg.DryRun {
		inv.recordOp("invalidate_key", 1, nil)
		return true, nil
	}
	existed, err := inv.repo.Delete(ctx, fullKey)
	inv.recordOp("invalidate_key", boolToInt64(existed), err)
	if err != nil {
		return false, fmt.Errorf("invalidate_key %s: %w", fullKey, err)
	}
	return existed, nil
}

// InvalidateKeys removes several keys, stopping neither on individual nor
// aggregate failures.
func (inv *Invalidator) InvalidateKeys(ctx context.Context, fullKeys []string) (int, error) {
	fullKeys = inv.capKeys(fullKeys)
	if inv.cfg.DryRun {
		inv.recordOp("invalidate_keys", int64(len(fullKeys)), nil)
		return len(fullKeys), nil
	}
	n, err := inv.repo.DeleteMany(ctx, fullKeys)
	inv.recordOp("invalidate_keys", int64(n), err)
	if err != nil {
		return n, fmt.Errorf("invalidate_keys: %w", err)
	}
	return n, nil
}

func (inv *Invalidator) capKeys(keys []string) []string {
	if inv.cfg.MaxKeysPerInvalidation > 0 && len(keys) > inv.cfg.MaxKeysPerInvalidation {
		inv.logger.Warn("invalidator: capping batch to max_keys_per_invalidation",
			"requested", len(keys), "limit", inv.cfg.MaxKeysPerInvalidation)
		return keys[:inv.cfg.MaxKeysPerInvalidation]
	}
	return keys
}

// InvalidatePattern finds and removes every key matching pattern within
// namespace, honoring the optional rate limit and dry-run settings.
func (inv *Invalidator) InvalidatePattern(ctx context.Context, pattern cachekey.Pattern, namespace string) (int, error) {
	if inv.bucket != nil && !inv.bucket.Allow() {
		return 0, fmt.Errorf("invalidate_pattern: rate limit exceeded")
	}

	keys, err := inv.repo.FindKeys(ctx, pattern, namespace)
	if err != nil {
		inv.recordOp("invalidate_pattern", 0, err)
		return 0, fmt.Errorf("invalidate_pattern: %w", err)
	}
	keys = inv.capKeys(keys)

	if inv.cfg.DryRun {
		inv.recordOp("invalidate_pattern", int64(len(keys)), nil)
		return len(keys), nil
	}

	n, err := inv.repo.DeleteMany(ctx, keys)
	inv.recordOp("invalidate_pattern", int64(n), err)
	if err != nil {
		return n, fmt.Errorf("invalidate_pattern: %w", err)
	}
	return n, nil
}

// InvalidateNamespace removes every key in namespace.
func (inv *Invalidator) InvalidateNamespace(ctx context.Context, namespace string) (int, error) {
	if inv.cfg.DryRun {
		size, err := inv.repo.GetNamespaceSize(ctx, namespace)
		inv.recordOp("invalidate_namespace", size, err)
		return int(size), err
	}
	n, err := inv.repo.FlushNamespace(ctx, namespace)
	inv.recordOp("invalidate_namespace", int64(n), err)
	if err != nil {
		return n, fmt.Errorf("invalidate_namespace: %w", err)
	}
	return n, nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// AddDependency records that dependentFullKey depends on parentFullKey,
// so cascading parentFullKey also invalidates dependentFullKey.
func (inv *Invalidator) AddDependency(ctx context.Context, parentFullKey, dependentFullKey string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	set, ok := inv.dependencies[parentFullKey]
	if !ok {
		set = make(map[string]struct{})
		inv.dependencies[parentFullKey] = set
	}
	set[dependentFullKey] = struct{}{}
	return nil
}

// RecordDependency satisfies cachemanager.Invalidator.
func (inv *Invalidator) RecordDependency(ctx context.Context, parentFullKey, dependentFullKey string) error {
	return inv.AddDependency(ctx, parentFullKey, dependentFullKey)
}

// RemoveDependency removes a single recorded dependency edge.
func (inv *Invalidator) RemoveDependency(parentFullKey, dependentFullKey string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if set, ok := inv.dependencies[parentFullKey]; ok {
		delete(set, dependentFullKey)
		if len(set) == 0 {
			delete(inv.dependencies, parentFullKey)
		}
	}
	return nil
}

// GetDependencies lists the direct dependents of parentFullKey.
func (inv *Invalidator) GetDependencies(parentFullKey string) []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	set := inv.dependencies[parentFullKey]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// InvalidateWithDependencies cascades a DFS invalidation starting at
// fullKey: a visited set prevents cycles, each node is invalidated via the
// repository before its dependents are enumerated, and cascade depth is
// bounded by MaxCascadeDepth.
func (inv *Invalidator) InvalidateWithDependencies(ctx context.Context, fullKey string) (int, error) {
	visited := make(map[string]struct{})
	count, haltedAtDepth := inv.cascade(ctx, fullKey, visited, 0)
	inv.recordOp("invalidate_with_dependencies", int64(count), nil)
	if haltedAtDepth {
		return count, fmt.Errorf("invalidate_with_dependencies %s: max cascade depth %d exceeded", fullKey, inv.cfg.MaxCascadeDepth)
	}
	return count, nil
}

func (inv *Invalidator) cascade(ctx context.Context, fullKey string, visited map[string]struct{}, depth int) (count int, halted bool) {
	if _, seen := visited[fullKey]; seen {
		return 0, false
	}
	visited[fullKey] = struct{}{}

	if inv.cfg.MaxCascadeDepth > 0 && depth > inv.cfg.MaxCascadeDepth {
		inv.logger.Warn("invalidator: cascade depth limit exceeded", "key", fullKey, "depth", depth)
		return 0, true
	}

	ok, err := inv.InvalidateKey(ctx, fullKey)
	if err != nil {
		inv.logger.Warn("invalidator: cascade step failed", "key", fullKey, "error", err)
		return 0, false
	}
	total := 0
	if ok {
		total = 1
	}

	for _, dependent := range inv.GetDependencies(fullKey) {
		sub, haltedSub := inv.cascade(ctx, dependent, visited, depth+1)
		total += sub
		if haltedSub {
			return total, true
		}
	}
	return total, false
}

// ScheduleInvalidation registers a one-shot or recurring pattern
// invalidation and returns its id.
func (inv *Invalidator) ScheduleInvalidation(delay time.Duration, reason string, pattern cachekey.Pattern, namespace string, recurring bool, interval time.Duration) string {
	id := uuid.NewString()
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.scheduled[id] = &ScheduledInvalidation{
		ID:        id,
		Reason:    reason,
		Pattern:   pattern,
		Namespace: namespace,
		ExecuteAt: time.Now().Add(delay),
		Recurring: recurring,
		Interval:  interval,
	}
	return id
}

// CancelScheduled marks a scheduled invalidation cancelled.
func (inv *Invalidator) CancelScheduled(id string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	sched, ok := inv.scheduled[id]
	if !ok {
		return fmt.Errorf("cancel_scheduled: unknown id %s", id)
	}
	sched.Cancelled = true
	return nil
}

// ListScheduled returns every non-cancelled scheduled invalidation.
func (inv *Invalidator) ListScheduled() []ScheduledInvalidation {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]ScheduledInvalidation, 0, len(inv.scheduled))
	for _, s := range inv.scheduled {
		if !s.Cancelled {
			out = append(out, *s)
		}
	}
	return out
}

// ForceExecuteSchedule runs a scheduled invalidation immediately, ignoring
// its ExecuteAt, and applies its recurring bookkeeping as a normal tick
// would.
func (inv *Invalidator) ForceExecuteSchedule(ctx context.Context, id string) error {
	inv.mu.Lock()
	sched, ok := inv.scheduled[id]
	inv.mu.Unlock()
	if !ok {
		return fmt.Errorf("force_execute_schedule: unknown id %s", id)
	}
	inv.executeSchedule(ctx, sched)
	return nil
}

// runScheduledDue executes every due, non-cancelled scheduled invalidation
// and reschedules recurring ones.
func (inv *Invalidator) runScheduledDue(ctx context.Context) {
	now := time.Now()
	inv.mu.Lock()
	var due []*ScheduledInvalidation
	for _, s := range inv.scheduled {
		if !s.Cancelled && !s.ExecuteAt.After(now) {
			due = append(due, s)
		}
	}
	inv.mu.Unlock()

	for _, sched := range due {
		inv.executeSchedule(ctx, sched)
	}
}

func (inv *Invalidator) executeSchedule(ctx context.Context, sched *ScheduledInvalidation) {
	_, err := inv.InvalidatePattern(ctx, sched.Pattern, sched.Namespace)
	if err != nil {
		inv.logger.Error("invalidator: scheduled invalidation failed", "id", sched.ID, "reason", sched.Reason, "error", err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if sched.Recurring {
		sched.ExecuteAt = sched.ExecuteAt.Add(sched.Interval)
	} else {
		delete(inv.scheduled, sched.ID)
	}
}

// RegisterEventTrigger registers a trigger that invalidates pattern within
// namespace whenever a matching event arrives.
func (inv *Invalidator) RegisterEventTrigger(eventType string, pattern cachekey.Pattern, namespace string, conditions map[string]any) string {
	id := uuid.NewString()
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.triggers[id] = &EventTrigger{
		ID: id, EventType: eventType, Pattern: pattern, Namespace: namespace, Conditions: conditions,
	}
	return id
}

// UnregisterEventTrigger removes a trigger.
func (inv *Invalidator) UnregisterEventTrigger(id string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, ok := inv.triggers[id]; !ok {
		return fmt.Errorf("unregister_event_trigger: unknown id %s", id)
	}
	delete(inv.triggers, id)
	return nil
}

// PauseTrigger and ResumeTrigger toggle whether a trigger fires.
func (inv *Invalidator) PauseTrigger(id string) error  { return inv.setTriggerPaused(id, true) }
func (inv *Invalidator) ResumeTrigger(id string) error { return inv.setTriggerPaused(id, false) }

func (inv *Invalidator) setTriggerPaused(id string, paused bool) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	t, ok := inv.triggers[id]
	if !ok {
		return fmt.Errorf("unknown trigger id %s", id)
	}
	t.Paused = paused
	return nil
}

// TriggerEventInvalidation evaluates every registered, unpaused trigger of
// eventType against eventData and invalidates the pattern of every match.
// Triggers are held in a map, so matches run in no defined order, not in
// registration order. A failed trigger invalidation is logged and does not
// stop the others.
func (inv *Invalidator) TriggerEventInvalidation(ctx context.Context, eventType string, eventData map[string]any) (int, error) {
	inv.mu.Lock()
	var matched []*EventTrigger
	for _, t := range inv.triggers {
		if t.EventType == eventType && !t.Paused && matchesConditions(eventData, t.Conditions) {
			matched = append(matched, t)
		}
	}
	inv.mu.Unlock()

	total := 0
	for _, t := range matched {
		n, err := inv.InvalidatePattern(ctx, t.Pattern, t.Namespace)
		total += n
		if err != nil {
			inv.logger.Warn("invalidator: event trigger invalidation failed", "trigger", t.ID, "error", err)
		}
	}
	return total, nil
}

// matchesConditions reports whether eventData satisfies every condition.
// Each condition's expected value is either a literal to compare equal, a
// map with "$in" (membership), or a map with "$regex" (pattern match
// against the field's string form).
func matchesConditions(eventData map[string]any, conditions map[string]any) bool {
	for field, expected := range conditions {
		actual, ok := eventData[field]
		if !ok {
			return false
		}
		if !matchesCondition(actual, expected) {
			return false
		}
	}
	return true
}

func matchesCondition(actual, expected any) bool {
	if spec, ok := expected.(map[string]any); ok {
		if inList, ok := spec["$in"]; ok {
			if list, ok := inList.([]any); ok {
				for _, candidate := range list {
					if candidate == actual {
						return true
					}
				}
			}
			return false
		}
		if pattern, ok := spec["$regex"].(string); ok {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false
			}
			return re.MatchString(fmt.Sprintf("%v", actual))
		}
		return false
	}
	return actual == expected
}

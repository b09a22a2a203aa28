// Package distributor implements multi-node cache coordination over a
// pluggable publish/subscribe transport.
package distributor

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config governs timing and topology parameters.
type Config struct {
	Cluster                    string
	HeartbeatInterval          time.Duration
	PartitionDetectionThreshold int
	NodeTimeout                time.Duration
	BroadcastDeadline          time.Duration
	CleanupInterval            time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cluster == "" {
		c.Cluster = "neocache"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.PartitionDetectionThreshold <= 0 {
		c.PartitionDetectionThreshold = 3
	}
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = 30 * time.Second
	}
	if c.BroadcastDeadline <= 0 {
		c.BroadcastDeadline = 2 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Second
	}
	return c
}

type eventCallback func(Message)

type eventSubscription struct {
	id              string
	types           map[EventType]struct{}
	namespaceFilter string
	callback        eventCallback
	transportSub    Subscription
	cancel          context.CancelFunc
}

// Distributor coordinates cache state across nodes via Transport.
type Distributor struct {
	nodeID    string
	address   string
	transport Transport
	cfg       Config
	logger    *slog.Logger
	resolver  ConflictResolver

	mu            sync.Mutex
	nodes         map[string]*NodeRecord
	subscriptions map[string]*eventSubscription
	started       bool // set once Run begins; Close waits on doneCh only then

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs a Distributor for the local node identified by nodeID.
func New(nodeID, address string, transport Transport, cfg Config, resolver ConflictResolver, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = LatestTimestampResolver
	}
	return &Distributor{
		nodeID:        nodeID,
		address:       address,
		transport:     transport,
		cfg:           cfg.withDefaults(),
		logger:        logger,
		resolver:      resolver,
		nodes:         make(map[string]*NodeRecord),
		subscriptions: make(map[string]*eventSubscription),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Run registers the local node and starts the heartbeat and cleanup
// background loops. It blocks until ctx is cancelled or Close is called.
func (d *Distributor) Run(ctx context.Context) error {
	defer close(d.doneCh)
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	d.RegisterNode(d.nodeID, d.address)

	heartbeat := time.NewTicker(d.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	cleanup := time.NewTicker(d.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			d.UnregisterNode(d.nodeID)
			return nil
		case <-d.stopCh:
			d.UnregisterNode(d.nodeID)
			return nil
		case <-heartbeat.C:
			d.emitHeartbeat(ctx)
		case <-cleanup.C:
			d.cleanupExpiredNodes()
		}
	}
}

// Close stops the background loops and drains them; if Run was never
// started there is no loop to wait for.
func (d *Distributor) Close() {
	d.once.Do(func() { close(d.stopCh) })
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.doneCh
	}

	d.mu.Lock()
	subs := make([]*eventSubscription, 0, len(d.subscriptions))
	for _, s := range d.subscriptions {
		subs = append(subs, s)
	}
	d.mu.Unlock()
	for _, s := range subs {
		s.cancel()
		_ = s.transportSub.Close()
	}
}

func (d *Distributor) emitHeartbeat(ctx context.Context) {
	d.mu.Lock()
	if rec, ok := d.nodes[d.nodeID]; ok {
		rec.LastHeartbeat = time.Now()
	}
	d.mu.Unlock()

	topic := Topic(d.cfg.Cluster, EventCacheSet, "")
	msg := Message{Type: EventCacheSet, SourceNode: d.nodeID, Timestamp: time.Now(), Data: map[string]any{"heartbeat": true}}
	if err := d.transport.Publish(ctx, topic, msg); err != nil {
		d.logger.Warn("distributor: heartbeat publish failed", "error", err)
	}
}

func (d *Distributor) cleanupExpiredNodes() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, rec := range d.nodes {
		if id == d.nodeID {
			continue
		}
		switch {
		case rec.expired(now, d.cfg.NodeTimeout):
			rec.Status = NodeInactive
		case rec.partitioned(now, d.cfg.HeartbeatInterval, d.cfg.PartitionDetectionThreshold):
			rec.Status = NodePartitioned
		}
	}
}

// RegisterNode adds or refreshes a node record with TTL node_timeout.
func (d *Distributor) RegisterNode(id, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if rec, ok := d.nodes[id]; ok {
		rec.LastHeartbeat = now
		rec.Status = NodeActive
		return
	}
	d.nodes[id] = &NodeRecord{ID: id, Address: address, Status: NodeActive, RegisteredAt: now, LastHeartbeat: now}
}

// UnregisterNode removes a node record immediately.
func (d *Distributor) UnregisterNode(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, id)
}

// GetActiveNodes lists every node currently in ACTIVE status.
func (d *Distributor) GetActiveNodes() []NodeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]NodeRecord, 0, len(d.nodes))
	for _, rec := range d.nodes {
		if rec.Status == NodeActive {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PingNode reports whether id is registered and not yet expired.
func (d *Distributor) PingNode(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.nodes[id]
	if !ok {
		return false
	}
	return !rec.expired(time.Now(), d.cfg.NodeTimeout)
}

// PublishEvent publishes a coordination event. targetNodes is advisory
// metadata attached to the message; delivery still happens via the shared
// topic since the transport fans out to every subscriber.
func (d *Distributor) PublishEvent(ctx context.Context, eventType EventType, key, namespace string, data map[string]any, targetNodes []string) error {
	if data == nil {
		data = map[string]any{}
	}
	if len(targetNodes) > 0 {
		data["target_nodes"] = targetNodes
	}
	msg := Message{Type: eventType, Key: key, Namespace: namespace, Data: data, SourceNode: d.nodeID, Timestamp: time.Now()}
	topic := Topic(d.cfg.Cluster, eventType, namespace)
	if err := d.transport.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("publish_event %s: %w", eventType, err)
	}
	return nil
}

// SubscribeToEvents subscribes callback to every event of the given types
// within namespaceFilter ("" means all namespaces) and returns a
// subscription id for Unsubscribe.
func (d *Distributor) SubscribeToEvents(ctx context.Context, types []EventType, namespaceFilter string, callback eventCallback) (string, error) {
	if len(types) == 0 {
		return "", fmt.Errorf("subscribe_to_events: at least one event type required")
	}

	ns := namespaceFilter
	if ns == "" {
		ns = "*"
	}
	pattern := fmt.Sprintf("%s:*:%s", d.cfg.Cluster, ns)

	transportSub, err := d.transport.PSubscribe(ctx, pattern)
	if err != nil {
		return "", fmt.Errorf("subscribe_to_events: %w", err)
	}

	typeSet := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	subCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	sub := &eventSubscription{id: id, types: typeSet, namespaceFilter: namespaceFilter, callback: callback, transportSub: transportSub, cancel: cancel}

	d.mu.Lock()
	d.subscriptions[id] = sub
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-transportSub.Messages():
				if !ok {
					return
				}
				if _, wanted := typeSet[msg.Type]; wanted {
					callback(msg)
				}
			}
		}
	}()

	return id, nil
}

// Unsubscribe cancels and removes a subscription.
func (d *Distributor) Unsubscribe(id string) error {
	d.mu.Lock()
	sub, ok := d.subscriptions[id]
	if ok {
		delete(d.subscriptions, id)
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unsubscribe: unknown id %s", id)
	}
	sub.cancel()
	return sub.transportSub.Close()
}

// BroadcastInvalidation publishes CACHE_INVALIDATE for a key, bounding the
// publish attempt to broadcast_deadline.
func (d *Distributor) BroadcastInvalidation(ctx context.Context, fullKey, namespace string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.BroadcastDeadline)
	defer cancel()
	return d.PublishEvent(ctx, EventCacheInvalidate, fullKey, namespace, nil, nil)
}

// BroadcastNamespaceFlush publishes NAMESPACE_FLUSH for a namespace.
func (d *Distributor) BroadcastNamespaceFlush(ctx context.Context, namespace string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.BroadcastDeadline)
	defer cancel()
	return d.PublishEvent(ctx, EventNamespaceFlush, "", namespace, nil, nil)
}

// CoordinateCacheSet publishes CACHE_SET so peers can invalidate or warm
// their own local copy of the key.
func (d *Distributor) CoordinateCacheSet(ctx context.Context, fullKey, namespace string, data map[string]any) error {
	return d.PublishEvent(ctx, EventCacheSet, fullKey, namespace, data, nil)
}

// ResolveConflict applies the configured resolver to a set of conflicting
// observations and publishes the decision on the conflict topic for
// observability.
func (d *Distributor) ResolveConflict(ctx context.Context, namespace, key string, candidates []ConflictValue) (ConflictValue, error) {
	winner, err := d.resolver(candidates)
	if err != nil {
		return ConflictValue{}, fmt.Errorf("resolve_conflict: %w", err)
	}

	conflictTopic := Topic(d.cfg.Cluster, "CONFLICT_RESOLVED", namespace)
	msg := Message{
		Type: "CONFLICT_RESOLVED", Key: key, Namespace: namespace, SourceNode: d.nodeID, Timestamp: time.Now(),
		Data: map[string]any{"winner_node": winner.NodeID, "candidate_count": len(candidates)},
	}
	if err := d.transport.Publish(ctx, conflictTopic, msg); err != nil {
		d.logger.Warn("distributor: publishing conflict record failed", "error", err)
	}
	return winner, nil
}

// RepairConsistency tells peers to adopt the authoritative node's value for
// a key by publishing a CACHE_SET instructing coordination event.
func (d *Distributor) RepairConsistency(ctx context.Context, fullKey, namespace, authoritativeNode string) error {
	return d.PublishEvent(ctx, EventCacheSet, fullKey, namespace, map[string]any{"repair": true, "authoritative_node": authoritativeNode}, nil)
}

// HandleNetworkPartition marks the given nodes PARTITIONED.
func (d *Distributor) HandleNetworkPartition(partitionedNodes []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range partitionedNodes {
		if rec, ok := d.nodes[id]; ok {
			rec.Status = NodePartitioned
		}
	}
}

// MergePartitions reconciles previously-partitioned groups by marking every
// listed node ACTIVE again, recording the merge for observability.
func (d *Distributor) MergePartitions(groups [][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, group := range groups {
		for _, id := range group {
			if rec, ok := d.nodes[id]; ok {
				rec.Status = NodeActive
				rec.LastHeartbeat = time.Now()
			}
		}
	}
	d.logger.Info("distributor: partitions merged", "groups", len(groups))
}

// GetPreferredNodes ranks active nodes for an operation on (key, namespace)
// using rendezvous (highest-random-weight) hashing, so the same key
// consistently routes to the same ordered node list as membership changes
// elsewhere in the ring.
func (d *Distributor) GetPreferredNodes(key, namespace, op string) []string {
	active := d.GetActiveNodes()
	if len(active) == 0 {
		return nil
	}

	type scored struct {
		id     string
		weight uint32
	}
	scoredNodes := make([]scored, 0, len(active))
	for _, rec := range active {
		h := fnv.New32a()
		h.Write([]byte(rec.ID + ":" + namespace + ":" + key))
		scoredNodes = append(scoredNodes, scored{id: rec.ID, weight: h.Sum32()})
	}
	sort.Slice(scoredNodes, func(i, j int) bool { return scoredNodes[i].weight > scoredNodes[j].weight })

	out := make([]string, len(scoredNodes))
	for i, s := range scoredNodes {
		out[i] = s.id
	}
	return out
}

// RouteOperation returns the single preferred node for an operation.
func (d *Distributor) RouteOperation(key, namespace, op string) (string, error) {
	preferred := d.GetPreferredNodes(key, namespace, op)
	if len(preferred) == 0 {
		return "", fmt.Errorf("route_operation: no active nodes")
	}
	return preferred[0], nil
}

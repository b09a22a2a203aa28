package distributor

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeTransport is a deterministic in-process Transport used for tests,
// standing in for RedisTransport/wstransport.Client.
type fakeTransport struct {
	mu   sync.Mutex
	subs []*fakeSubscription
}

type fakeSubscription struct {
	pattern string
	out     chan Message
	closed  bool
}

func (s *fakeSubscription) Messages() <-chan Message { return s.out }
func (s *fakeSubscription) Close() error {
	s.closed = true
	return nil
}

func newFakeTransport() *fakeTransport { return &fakeTransport{} }

func (t *fakeTransport) Publish(ctx context.Context, topic string, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		if s.closed {
			continue
		}
		if matchFakeTopic(s.pattern, topic) {
			select {
			case s.out <- msg:
			default:
			}
		}
	}
	return nil
}

func (t *fakeTransport) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	sub := &fakeSubscription{pattern: pattern, out: make(chan Message, 32)}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return sub, nil
}

func (t *fakeTransport) Close() error { return nil }

func matchFakeTopic(pattern, topic string) bool {
	pSegs := splitColon(pattern)
	tSegs := splitColon(topic)
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, seg := range pSegs {
		if seg != "*" && seg != tSegs[i] {
			return false
		}
	}
	return true
}

func splitColon(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func TestDistributor_PublishAndSubscribe(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	d := New("node-a", "localhost:1", transport, Config{Cluster: "test"}, nil, nil)
	defer d.Close()

	received := make(chan Message, 1)
	id, err := d.SubscribeToEvents(ctx, []EventType{EventCacheInvalidate}, "", func(m Message) {
		received <- m
	})
	if err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}
	defer d.Unsubscribe(id)

	if err := d.BroadcastInvalidation(ctx, "widgets:alpha", "widgets"); err != nil {
		t.Fatalf("BroadcastInvalidation: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != EventCacheInvalidate || msg.Key != "widgets:alpha" {
			t.Errorf("got %+v, want CACHE_INVALIDATE for widgets:alpha", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the broadcast invalidation")
	}
}

func TestDistributor_SubscribeFiltersByType(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	d := New("node-a", "localhost:1", transport, Config{Cluster: "test"}, nil, nil)
	defer d.Close()

	received := make(chan Message, 4)
	id, err := d.SubscribeToEvents(ctx, []EventType{EventNamespaceFlush}, "", func(m Message) { received <- m })
	if err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}
	defer d.Unsubscribe(id)

	d.BroadcastInvalidation(ctx, "key", "widgets")
	d.BroadcastNamespaceFlush(ctx, "widgets")

	select {
	case msg := <-received:
		if msg.Type != EventNamespaceFlush {
			t.Errorf("got %s, want NAMESPACE_FLUSH", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received NAMESPACE_FLUSH")
	}

	select {
	case msg := <-received:
		t.Fatalf("unexpected second message delivered: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDistributor_NodeRegistry(t *testing.T) {
	transport := newFakeTransport()
	d := New("node-a", "localhost:1", transport, Config{Cluster: "test", NodeTimeout: time.Hour}, nil, nil)
	defer d.Close()

	d.RegisterNode("node-b", "localhost:2")
	d.RegisterNode("node-c", "localhost:3")

	active := d.GetActiveNodes()
	if len(active) != 2 {
		t.Fatalf("GetActiveNodes returned %d, want 2", len(active))
	}
	if !d.PingNode("node-b") {
		t.Error("expected node-b to be reachable")
	}
	if d.PingNode("node-z") {
		t.Error("expected unknown node to be unreachable")
	}

	d.UnregisterNode("node-b")
	active = d.GetActiveNodes()
	if len(active) != 1 {
		t.Errorf("GetActiveNodes after unregister = %d, want 1", len(active))
	}
}

func TestDistributor_HandleNetworkPartitionAndMerge(t *testing.T) {
	transport := newFakeTransport()
	d := New("node-a", "localhost:1", transport, Config{Cluster: "test", NodeTimeout: time.Hour}, nil, nil)
	defer d.Close()

	d.RegisterNode("node-b", "localhost:2")
	d.HandleNetworkPartition([]string{"node-b"})

	active := d.GetActiveNodes()
	for _, n := range active {
		if n.ID == "node-b" {
			t.Fatal("partitioned node should not be reported active")
		}
	}

	d.MergePartitions([][]string{{"node-b"}})
	active = d.GetActiveNodes()
	found := false
	for _, n := range active {
		if n.ID == "node-b" {
			found = true
		}
	}
	if !found {
		t.Fatal("merged node should be active again")
	}
}

func TestDistributor_GetPreferredNodesIsDeterministic(t *testing.T) {
	transport := newFakeTransport()
	d := New("node-a", "localhost:1", transport, Config{Cluster: "test", NodeTimeout: time.Hour}, nil, nil)
	defer d.Close()
	d.RegisterNode("node-b", "localhost:2")
	d.RegisterNode("node-c", "localhost:3")

	first := d.GetPreferredNodes("alpha", "widgets", "get")
	second := d.GetPreferredNodes("alpha", "widgets", "get")
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 preferred nodes, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("preferred node ordering is not deterministic: %v vs %v", first, second)
		}
	}
}

func TestResolveConflict_LatestTimestampWins(t *testing.T) {
	older := ConflictValue{NodeID: "a", Value: []byte("old"), Timestamp: time.Now().Add(-time.Minute)}
	newer := ConflictValue{NodeID: "b", Value: []byte("new"), Timestamp: time.Now()}

	winner, err := LatestTimestampResolver([]ConflictValue{older, newer})
	if err != nil {
		t.Fatalf("LatestTimestampResolver: %v", err)
	}
	if winner.NodeID != "b" {
		t.Errorf("winner = %s, want b", winner.NodeID)
	}
}

func TestResolveConflict_MessageOrderWins(t *testing.T) {
	first := ConflictValue{NodeID: "a", Offset: 5}
	second := ConflictValue{NodeID: "b", Offset: 9}

	winner, err := MessageOrderResolver([]ConflictValue{first, second})
	if err != nil {
		t.Fatalf("MessageOrderResolver: %v", err)
	}
	if winner.NodeID != "b" {
		t.Errorf("winner = %s, want b", winner.NodeID)
	}
}

func TestCheckConsistency(t *testing.T) {
	consistent := CheckConsistency("alpha", "widgets", map[string][]byte{
		"a": []byte("v1"), "b": []byte("v1"),
	})
	if !consistent.Consistent {
		t.Error("expected agreement across nodes to be consistent")
	}

	inconsistent := CheckConsistency("alpha", "widgets", map[string][]byte{
		"a": []byte("v1"), "b": []byte("v2"),
	})
	if inconsistent.Consistent {
		t.Error("expected disagreement across nodes to be inconsistent")
	}
}

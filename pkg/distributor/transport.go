package distributor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType enumerates the kinds of cache-coordination events distributed
// between nodes.
type EventType string

const (
	EventCacheSet          EventType = "CACHE_SET"
	EventCacheDelete       EventType = "CACHE_DELETE"
	EventCacheInvalidate   EventType = "CACHE_INVALIDATE"
	EventNamespaceFlush    EventType = "NAMESPACE_FLUSH"
	EventPatternInvalidate EventType = "PATTERN_INVALIDATE"
)

// Message is one coordination event exchanged between nodes.
type Message struct {
	Type       EventType      `json:"type"`
	Key        string         `json:"key,omitempty"`
	Namespace  string         `json:"namespace,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	SourceNode string         `json:"source_node"`
	Timestamp  time.Time      `json:"timestamp"`
	Offset     int64          `json:"offset,omitempty"`
}

// Topic derives a channel/topic name from the cluster prefix, event type,
// and namespace, so subscriptions can be filtered at the transport. An
// empty namespace means "all namespaces" and is represented by the glob
// segment "*".
func Topic(cluster string, eventType EventType, namespace string) string {
	if namespace == "" {
		namespace = "*"
	}
	return fmt.Sprintf("%s:%s:%s", cluster, eventType, namespace)
}

// Subscription is a live transport subscription; Close stops delivery.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Transport is the pluggable publish/subscribe substrate distributor needs.
// The default implementation is Redis pub/sub (RedisTransport); an
// alternate implementation over a websocket hub lives in the wstransport
// subpackage, demonstrating the interface's pluggability.
type Transport interface {
	Publish(ctx context.Context, topic string, msg Message) error
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// RedisTransport implements Transport over Redis pub/sub.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport constructs a RedisTransport.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling distribution message: %w", err)
	}
	if err := t.client.Publish(ctx, topic, raw).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (t *RedisTransport) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	pubsub := t.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", pattern, err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for rawMsg := range pubsub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(rawMsg.Payload), &msg); err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &redisSubscription{pubsub: pubsub, out: out}, nil
}

func (t *RedisTransport) Close() error { return nil }

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }
func (s *redisSubscription) Close() error             { return s.pubsub.Close() }

package wstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wisbric/neocache/pkg/distributor"
)

// Client is a distributor.Transport implementation that connects to a Hub
// over a websocket.
type Client struct {
	conn *websocket.Conn

	mu   sync.Mutex
	subs map[*wsSubscription]struct{}

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial connects to a Hub at url (e.g. "ws://node-b:8088/distributor/ws").
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wstransport: dialing %s: %w", url, err)
	}
	c := &Client{conn: conn, subs: make(map[*wsSubscription]struct{}), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Kind != "publish" {
			continue
		}
		var msg distributor.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			continue
		}

		c.mu.Lock()
		for sub := range c.subs {
			if matchTopic(sub.pattern, env.Topic) {
				select {
				case sub.out <- msg:
				default:
				}
			}
		}
		c.mu.Unlock()
	}
}

func (c *Client) writeEnvelope(env wireEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// Publish sends a message tagged with topic to the hub, which fans it out
// to every subscriber whose pattern matches.
func (c *Client) Publish(ctx context.Context, topic string, msg distributor.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wstransport: marshaling message: %w", err)
	}
	return c.writeEnvelope(wireEnvelope{Kind: "publish", Topic: topic, Payload: payload})
}

// PSubscribe registers pattern with the hub and returns a local
// Subscription fed by the client's shared read loop.
func (c *Client) PSubscribe(ctx context.Context, pattern string) (distributor.Subscription, error) {
	if err := c.writeEnvelope(wireEnvelope{Kind: "subscribe", Pattern: pattern}); err != nil {
		return nil, fmt.Errorf("wstransport: subscribing to %s: %w", pattern, err)
	}

	sub := &wsSubscription{client: c, pattern: pattern, out: make(chan distributor.Message, 64)}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub, nil
}

// Close closes the underlying websocket connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

type wsSubscription struct {
	client  *Client
	pattern string
	out     chan distributor.Message
}

func (s *wsSubscription) Messages() <-chan distributor.Message { return s.out }

func (s *wsSubscription) Close() error {
	s.client.mu.Lock()
	delete(s.client.subs, s)
	s.client.mu.Unlock()
	return s.client.writeEnvelope(wireEnvelope{Kind: "unsubscribe", Pattern: s.pattern})
}

var _ distributor.Transport = (*Client)(nil)

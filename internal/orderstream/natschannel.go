package orderstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSChannel implements EventChannel over a core NATS subscription.
// Client-side auto-reconnect is disabled on purpose: the supervisor owns
// the backoff policy and a second reconnect loop inside the client would
// fight it.
type NATSChannel struct {
	url string

	mu   sync.Mutex
	conn *nats.Conn
	done chan error
}

func NewNATSChannel(url string) *NATSChannel {
	return &NATSChannel{url: url}
}

func (c *NATSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	done := make(chan error, 1)
	conn, err := nats.Connect(c.url,
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			select {
			case done <- nc.LastError():
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	c.conn = conn
	c.done = done
	return nil
}

func (c *NATSChannel) Subscribe(topic string, handler func(data []byte)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("not connected")
	}

	_, err := conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

func (c *NATSChannel) Done() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done == nil {
		// Never connected; yield a channel that never fires.
		c.done = make(chan error, 1)
	}
	return c.done
}

func (c *NATSChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		conn.Close()
	}
	return nil
}

package orderstream

import (
	"context"
)

// EventChannel is the push-transport capability the supervisor drives. The
// supervisor owns the lifecycle policy (when to connect, when to retry);
// the channel owns the wire. Implementations must support repeated
// Connect/Close cycles on the same value.
type EventChannel interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error
	// Subscribe registers a handler for a topic on the current connection.
	// Subscriptions do not survive Close; the supervisor re-subscribes
	// after every reconnect.
	Subscribe(topic string, handler func(data []byte)) error
	// Done reports the current connection ending. It yields the transport
	// error, or nil for an orderly close, and is drained once per connect.
	Done() <-chan error
	// Close tears down the current connection. Safe to call when not
	// connected.
	Close() error
}

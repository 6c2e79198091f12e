package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStream implements events.StreamConsumer on top of NATS JetStream. The
// back-office uses it as a replay feed: on startup the order cache fetches the
// retained event history instead of hitting the orders API cold.
type NATSStream struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	consumer jetstream.Consumer
	topic    string
}

// NATSStreamConfig configures a NATSStream instance.
type NATSStreamConfig struct {
	URL          string        // NATS server URL
	StreamName   string        // JetStream stream name (e.g., "ORDER_EVENTS")
	Topic        string        // Subject pattern (e.g., "orders.updates")
	ConsumerName string        // Durable consumer name for this service
	MaxAge       time.Duration // How long events are retained
}

// NewNATSStream creates a NATSStream and ensures the stream and durable
// consumer exist.
func NewNATSStream(cfg NATSStreamConfig) (*NATSStream, error) {
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(context.Background(), jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.Topic},
		MaxAge:   cfg.MaxAge,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(context.Background(), jetstream.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy, // Replay from beginning
		FilterSubject: cfg.Topic,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.ConsumerName, err)
	}

	return &NATSStream{
		conn:     conn,
		js:       js,
		stream:   stream,
		consumer: consumer,
		topic:    cfg.Topic,
	}, nil
}

// Fetch retrieves up to limit retained messages for replay on startup.
func (s *NATSStream) Fetch(ctx context.Context, limit int) ([]events.StreamMessage, error) {
	if limit <= 0 {
		limit = 1000
	}

	batch, err := s.consumer.Fetch(limit, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var messages []events.StreamMessage
	for msg := range batch.Messages() {
		metadata, err := msg.Metadata()
		if err != nil {
			// Skip messages with invalid metadata
			msg.Ack()
			continue
		}

		messages = append(messages, events.StreamMessage{
			Data:      msg.Data(),
			Sequence:  metadata.Sequence.Stream,
			Timestamp: metadata.Timestamp.UnixNano(),
		})

		msg.Ack()
	}

	return messages, nil
}

// SubscribeStream delivers new messages arriving on the stream in real time.
// The back-office prefers the core NATS channel for live events; this exists
// for deployments consuming live and replayed events from one feed.
func (s *NATSStream) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	_, err := s.consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Data()); err != nil {
			msg.Nak() // Negative acknowledge - redelivery
		} else {
			msg.Ack()
		}
	})
	return err
}

// Close closes the NATS connection.
func (s *NATSStream) Close() error {
	s.conn.Close()
	return nil
}

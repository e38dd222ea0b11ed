package broker

import (
	"context"
	"time"
)

// Connection is one logical session with the broker.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is a lightweight duplex session multiplexed over a Connection.
type Channel interface {
	Publish(ctx context.Context, queue string, msg Message) error
	// Get reads a single message with auto-ack; ok is false when the queue is empty.
	Get(queue string) (d Delivery, ok bool, err error)
	QueueDeclare(queue string) error
	IsClosed() bool
	Close() error
}

// Dialer opens a new Connection.
type Dialer func(ctx context.Context) (Connection, error)

// Message is an outbound payload addressed through the default exchange.
type Message struct {
	ContentType string
	Body        []byte
	Headers     map[string]string
	Timestamp   time.Time
}

// Delivery is a message read from a queue.
type Delivery struct {
	Queue       string
	ContentType string
	Body        []byte
	Headers     map[string]string
}

// Decode unmarshals the delivery body with codec.
func (d Delivery) Decode(codec Codec, v any) error {
	return codec.Decode(d.Body, v)
}

// Context returns parent enriched with any trace context carried in the headers.
func (d Delivery) Context(parent context.Context) context.Context {
	return extractTrace(parent, d.Headers)
}

// Envelope is a delivery paired with the tier it was drawn from.
type Envelope struct {
	Priority Priority
	Delivery
}

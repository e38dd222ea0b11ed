// Package memory provides an in-process broker for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
)

// Broker holds named FIFO queues shared by every connection it dials.
// Publishing to an undeclared queue drops the message, like the default
// exchange of an AMQP broker with no matching binding.
type Broker struct {
	mu          sync.Mutex
	queues      map[string][]broker.Message
	unreachable bool
	conns       []*conn

	dials   atomic.Int64
	dropped atomic.Int64
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{queues: make(map[string][]broker.Message)}
}

// Dial satisfies broker.Dialer.
func (b *Broker) Dial(ctx context.Context) (broker.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dial canceled: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return nil, fmt.Errorf("%w: memory broker offline", broker.ErrBrokerUnreachable)
	}
	b.dials.Add(1)
	c := &conn{broker: b}
	b.conns = append(b.conns, c)
	return c, nil
}

// Declare creates queue if it does not exist.
func (b *Broker) Declare(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = nil
	}
}

// Len reports how many messages wait in queue.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Messages returns a copy of the messages waiting in queue.
func (b *Broker) Messages(queue string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Message, len(b.queues[queue]))
	copy(out, b.queues[queue])
	return out
}

// Dials reports how many connections have been opened.
func (b *Broker) Dials() int {
	return int(b.dials.Load())
}

// Dropped reports how many messages were published to undeclared queues.
func (b *Broker) Dropped() int {
	return int(b.dropped.Load())
}

// SetUnreachable makes subsequent dials fail with broker.ErrBrokerUnreachable.
func (b *Broker) SetUnreachable(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable = down
}

// DropConnections closes every open connection and its channels.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (b *Broker) publish(queue string, msg broker.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		b.dropped.Add(1)
		return
	}
	b.queues[queue] = append(q, msg)
}

func (b *Broker) get(queue string) (broker.Message, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return broker.Message{}, false, fmt.Errorf("%w: %s", broker.ErrQueueNotFound, queue)
	}
	if len(q) == 0 {
		return broker.Message{}, false, nil
	}
	msg := q[0]
	b.queues[queue] = q[1:]
	return msg, true, nil
}

type conn struct {
	broker *Broker
	mu     sync.Mutex
	closed bool
	chans  []*channel
}

func (c *conn) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: connection closed", broker.ErrBrokerUnreachable)
	}
	ch := &channel{conn: c}
	c.chans = append(c.chans, ch)
	return ch, nil
}

func (c *conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.chans {
		ch.closed.Store(true)
	}
	return nil
}

type channel struct {
	conn   *conn
	closed atomic.Bool
}

var errChannelClosed = errors.New("memory channel closed")

func (ch *channel) Publish(ctx context.Context, queue string, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish canceled: %w", err)
	}
	if ch.closed.Load() {
		return fmt.Errorf("%w: %w", broker.ErrChannelClosed, errChannelClosed)
	}
	ch.conn.broker.publish(queue, msg)
	return nil
}

// Get closes the channel when the queue does not exist, as an AMQP server
// does on a 404 channel exception.
func (ch *channel) Get(queue string) (broker.Delivery, bool, error) {
	if ch.closed.Load() {
		return broker.Delivery{}, false, fmt.Errorf("%w: %w", broker.ErrChannelClosed, errChannelClosed)
	}
	msg, ok, err := ch.conn.broker.get(queue)
	if err != nil {
		ch.closed.Store(true)
		return broker.Delivery{}, false, err
	}
	if !ok {
		return broker.Delivery{}, false, nil
	}
	return broker.Delivery{
		Queue:       queue,
		ContentType: msg.ContentType,
		Body:        msg.Body,
		Headers:     msg.Headers,
	}, true, nil
}

func (ch *channel) QueueDeclare(queue string) error {
	if ch.closed.Load() {
		return fmt.Errorf("%w: %w", broker.ErrChannelClosed, errChannelClosed)
	}
	ch.conn.broker.Declare(queue)
	return nil
}

func (ch *channel) IsClosed() bool {
	return ch.closed.Load()
}

func (ch *channel) Close() error {
	ch.closed.Store(true)
	return nil
}

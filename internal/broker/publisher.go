package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// Publisher encodes messages and sends them to named queues through a
// ChannelPool. A queue is declared on its first publish over each pool
// connection, so a reconnect to a restarted broker declares it again instead
// of publishing into the default exchange with no binding.
type Publisher struct {
	pool     *ChannelPool
	codec    Codec
	logger   *zap.Logger
	now      func() time.Time
	declared sync.Map // queue name -> pool generation it was declared on
}

// NewPublisher builds a Publisher that encodes with codec.
func NewPublisher(pool *ChannelPool, codec Codec, logger *zap.Logger) (*Publisher, error) {
	if pool == nil {
		return nil, errors.New("publisher requires a channel pool")
	}
	if codec == nil {
		codec = JSON
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{pool: pool, codec: codec, logger: logger, now: time.Now}, nil
}

// Publish encodes msg with the default codec and sends it to queue.
func (p *Publisher) Publish(ctx context.Context, queue string, msg any) error {
	return p.PublishWith(ctx, queue, p.codec, msg)
}

// PublishPriority sends msg to the tier-qualified queue for base.
func (p *Publisher) PublishPriority(ctx context.Context, base string, tier Priority, msg any) error {
	if !tier.Valid() {
		return fmt.Errorf("publish to %s: invalid priority %d", base, int(tier))
	}
	return p.Publish(ctx, QueueName(base, tier), msg)
}

// PublishWith encodes msg with codec and sends it to queue. The rented
// channel is returned to the pool whether or not the send succeeds.
func (p *Publisher) PublishWith(ctx context.Context, queue string, codec Codec, msg any) (err error) {
	defer func() { metrics.ObservePublish(err) }()

	if queue == "" {
		return errors.New("publish: queue name is required")
	}
	body, err := codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", queue, err)
	}

	ch, err := p.pool.Rent(ctx)
	if err != nil {
		return fmt.Errorf("rent channel for %s: %w", queue, err)
	}
	defer p.pool.Return(ch)

	gen := p.pool.Generation()
	if seen, ok := p.declared.Load(queue); !ok || seen.(uint64) != gen {
		if err := ch.QueueDeclare(queue); err != nil {
			p.declared.Delete(queue)
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		p.declared.Store(queue, gen)
	}

	out := Message{
		ContentType: codec.ContentType(),
		Body:        body,
		Headers:     injectTrace(ctx),
		Timestamp:   p.now().UTC(),
	}
	if err := ch.Publish(ctx, queue, out); err != nil {
		p.logger.Warn("publish failed", zap.String("queue", queue), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	p.logger.Debug("message published", zap.String("queue", queue), zap.Int("bytes", len(body)))
	return nil
}

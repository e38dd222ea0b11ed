package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// Puller reads single messages from queues, optionally choosing the tier by
// lottery.
type Puller struct {
	pool    *ChannelPool
	sampler *Sampler
	logger  *zap.Logger
}

// NewPuller builds a Puller. A nil sampler gets a clock-seeded one.
func NewPuller(pool *ChannelPool, sampler *Sampler, logger *zap.Logger) (*Puller, error) {
	if pool == nil {
		return nil, errors.New("puller requires a channel pool")
	}
	if sampler == nil {
		sampler = NewSampler(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Puller{pool: pool, sampler: sampler, logger: logger}, nil
}

// Pull takes one message from queue. It reports ok=false when the queue is
// empty or carries an empty body. A missing queue is declared and read once
// more; if it is still missing the result is absent rather than an error.
func (p *Puller) Pull(ctx context.Context, queue string) (Delivery, bool, error) {
	d, ok, err := p.get(ctx, queue)
	if err == nil || !IsQueueNotFound(err) {
		return d, ok, err
	}

	p.logger.Debug("queue missing; declaring", zap.String("queue", queue))
	if err := p.declare(ctx, queue); err != nil {
		return Delivery{}, false, err
	}
	d, ok, err = p.get(ctx, queue)
	if IsQueueNotFound(err) {
		return Delivery{}, false, nil
	}
	return d, ok, err
}

// PullPriority draws a tier and pulls one message from the tier-qualified
// queue for base.
func (p *Puller) PullPriority(ctx context.Context, base string) (Envelope, bool, error) {
	tier := p.sampler.Pick()
	d, ok, err := p.Pull(ctx, QueueName(base, tier))
	switch {
	case err != nil && IsQueueNotFound(err):
		metrics.ObservePull(tier.String(), "not_found")
	case err != nil:
		metrics.ObservePull(tier.String(), "error")
	case !ok:
		metrics.ObservePull(tier.String(), "empty")
	default:
		metrics.ObservePull(tier.String(), "message")
	}
	if err != nil || !ok {
		return Envelope{Priority: tier}, false, err
	}
	return Envelope{Priority: tier, Delivery: d}, true, nil
}

func (p *Puller) get(ctx context.Context, queue string) (Delivery, bool, error) {
	ch, err := p.pool.Rent(ctx)
	if err != nil {
		return Delivery{}, false, fmt.Errorf("rent channel for %s: %w", queue, err)
	}
	defer p.pool.Return(ch)

	d, ok, err := ch.Get(queue)
	if err != nil {
		return Delivery{}, false, fmt.Errorf("get from %s: %w", queue, err)
	}
	if !ok || len(d.Body) == 0 {
		return Delivery{}, false, nil
	}
	return d, true, nil
}

func (p *Puller) declare(ctx context.Context, queue string) error {
	ch, err := p.pool.Rent(ctx)
	if err != nil {
		return fmt.Errorf("rent channel for %s: %w", queue, err)
	}
	defer p.pool.Return(ch)
	if err := ch.QueueDeclare(queue); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

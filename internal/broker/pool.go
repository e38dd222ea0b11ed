package broker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// ChannelPool owns one shared connection and a bounded set of reusable
// channels. Every Rent holds one unit of the limiter until the matching
// Return, so at most size channels are ever outstanding.
type ChannelPool struct {
	dial   Dialer
	size   int
	sem    *semaphore.Weighted
	idle   chan Channel
	logger *zap.Logger

	mu     sync.Mutex
	conn   Connection
	gen    uint64
	closed bool
}

// NewChannelPool builds a pool of at most size channels over connections
// produced by dial. The connection is opened lazily on the first Rent.
func NewChannelPool(size int, dial Dialer, logger *zap.Logger) (*ChannelPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: pool size must be > 0, got %d", ErrInvalidConfig, size)
	}
	if dial == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelPool{
		dial:   dial,
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		idle:   make(chan Channel, size),
		logger: logger,
	}, nil
}

// Size reports the configured pool capacity.
func (p *ChannelPool) Size() int {
	return p.size
}

// Generation counts successful dials. It changes whenever the pool
// reconnects, which is when broker-side state such as non-durable queues may
// have been lost.
func (p *ChannelPool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Rent returns an open channel, blocking while size channels are rented.
// Connection and channel creation errors are returned to the caller.
func (p *ChannelPool) Rent(ctx context.Context) (Channel, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire channel slot: %w", err)
	}
	ch, err := p.takeOrOpen(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return ch, nil
}

// Return hands a rented channel back. Open channels are kept for reuse;
// closed ones are dropped. The limiter unit is released either way.
func (p *ChannelPool) Return(ch Channel) {
	if ch == nil {
		return
	}
	defer p.sem.Release(1)
	if ch.IsClosed() || p.isClosed() {
		p.discard(ch)
		return
	}
	select {
	case p.idle <- ch:
	default:
		p.discard(ch)
	}
}

// Close drops idle channels and the shared connection.
func (p *ChannelPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	for {
		select {
		case ch := <-p.idle:
			p.discard(ch)
			continue
		default:
		}
		break
	}
	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close broker connection: %w", err)
	}
	return nil
}

func (p *ChannelPool) takeOrOpen(ctx context.Context) (Channel, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case ch := <-p.idle:
			if ch.IsClosed() {
				p.discard(ch)
				continue
			}
			return ch, nil
		default:
		}
		break
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	metrics.IncChannelsOpen()
	return ch, nil
}

// connection returns the shared connection, redialing when it is absent or
// reported closed. There is no background health check.
func (p *ChannelPool) connection(ctx context.Context) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	if p.conn != nil {
		p.logger.Warn("broker connection lost; reconnecting")
		p.conn = nil
	}
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	p.conn = conn
	p.gen++
	p.logger.Info("broker connection established", zap.Uint64("generation", p.gen))
	return conn, nil
}

func (p *ChannelPool) discard(ch Channel) {
	metrics.DecChannelsOpen()
	if ch.IsClosed() {
		return
	}
	if err := ch.Close(); err != nil {
		p.logger.Debug("failed to close discarded channel", zap.Error(err))
	}
}

func (p *ChannelPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

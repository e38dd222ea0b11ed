package broker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
	"github.com/JakeFAU/gfd-crawler/internal/broker/memory"
)

type task struct {
	URL string `json:"url"`
}

func TestPublisherDeclaresAndPublishes(t *testing.T) {
	t.Parallel()

	pool, mb := newPool(t, 2)
	pub, err := broker.NewPublisher(pool, broker.JSON, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, pub.PublishPriority(context.Background(), "CrawlingQueue", broker.High, task{URL: "https://a.example/"}))

	msgs := mb.Messages("CrawlingQueue-High")
	require.Len(t, msgs, 1)
	assert.Equal(t, "application/json", msgs[0].ContentType)
	assert.JSONEq(t, `{"url":"https://a.example/"}`, string(msgs[0].Body))
	assert.False(t, msgs[0].Timestamp.IsZero())
	assert.Zero(t, mb.Dropped())
}

func TestPublisherRedeclaresAfterBrokerRestart(t *testing.T) {
	t.Parallel()

	var current atomic.Pointer[memory.Broker]
	first := memory.NewBroker()
	current.Store(first)
	pool, err := broker.NewChannelPool(1, func(ctx context.Context) (broker.Connection, error) {
		return current.Load().Dial(ctx)
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	pub, err := broker.NewPublisher(pool, broker.JSON, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "IndexingQueue-Normal", task{URL: "https://a.example/"}))
	assert.Equal(t, 1, first.Len("IndexingQueue-Normal"))
	gen := pool.Generation()

	// A restarted broker has lost its non-durable queues.
	restarted := memory.NewBroker()
	current.Store(restarted)
	first.DropConnections()

	require.NoError(t, pub.Publish(ctx, "IndexingQueue-Normal", task{URL: "https://b.example/"}))
	assert.Greater(t, pool.Generation(), gen)
	assert.Zero(t, restarted.Dropped())
	assert.Equal(t, 1, restarted.Len("IndexingQueue-Normal"))
}

func TestPublisherDeclaresOncePerConnection(t *testing.T) {
	t.Parallel()

	pool, mb := newPool(t, 1)
	pub, err := broker.NewPublisher(pool, broker.JSON, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "Q", task{URL: "https://a.example/"}))
	require.NoError(t, pub.Publish(ctx, "Q", task{URL: "https://b.example/"}))
	assert.Equal(t, 1, mb.Dials())
	assert.Equal(t, uint64(1), pool.Generation())
	assert.Equal(t, 2, mb.Len("Q"))
}

func TestPublisherRejectsInvalidTier(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, 1)
	pub, err := broker.NewPublisher(pool, nil, nil)
	require.NoError(t, err)
	require.Error(t, pub.PublishPriority(context.Background(), "Q", broker.Priority(11), task{}))
}

func TestPublisherEncodeFailureDoesNotRent(t *testing.T) {
	t.Parallel()

	pool, mb := newPool(t, 1)
	pub, err := broker.NewPublisher(pool, broker.Raw, nil)
	require.NoError(t, err)

	require.Error(t, pub.Publish(context.Background(), "Q", task{}))
	assert.Zero(t, mb.Dials())
}

func TestPublisherReturnsChannelOnFailure(t *testing.T) {
	t.Parallel()

	pool, mb := newPool(t, 1)
	pub, err := broker.NewPublisher(pool, broker.Text, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "Q", "first"))

	// Publishing with a canceled context fails inside the channel.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, pub.Publish(canceled, "Q", "second"))

	// The single slot must be free again.
	rentCtx, rentCancel := context.WithTimeout(ctx, time.Second)
	defer rentCancel()
	ch, err := pool.Rent(rentCtx)
	require.NoError(t, err)
	pool.Return(ch)
	assert.Equal(t, 1, mb.Len("Q"))
}

func TestPublisherUnreachableBroker(t *testing.T) {
	t.Parallel()

	mb := memory.NewBroker()
	mb.SetUnreachable(true)
	pool, err := broker.NewChannelPool(1, mb.Dial, nil)
	require.NoError(t, err)
	pub, err := broker.NewPublisher(pool, broker.JSON, nil)
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "Q", task{URL: "x"})
	require.True(t, broker.IsUnreachable(err))
}

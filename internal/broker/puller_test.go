package broker_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
)

func TestPullerDeclaresMissingQueue(t *testing.T) {
	t.Parallel()

	pool, mb := newPool(t, 2)
	puller, err := broker.NewPuller(pool, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, ok, err := puller.Pull(ctx, "IndexingQueue-Low")
	require.NoError(t, err)
	assert.False(t, ok)

	// Publish over a raw channel with no declare: it is kept only if the
	// pull declared the queue.
	conn, err := mb.Dial(ctx)
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, ch.Publish(ctx, "IndexingQueue-Low", broker.Message{Body: []byte("x")}))
	assert.Zero(t, mb.Dropped())
	assert.Equal(t, 1, mb.Len("IndexingQueue-Low"))
}

func TestPullerRetriesMissingQueueOnce(t *testing.T) {
	t.Parallel()

	ch := &notFoundChannel{}
	pool, err := broker.NewChannelPool(1, func(context.Context) (broker.Connection, error) {
		return &scriptedConn{ch: ch}, nil
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	puller, err := broker.NewPuller(pool, nil, nil)
	require.NoError(t, err)

	_, ok, err := puller.Pull(context.Background(), "CrawlingQueue-High")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, ch.gets)
	assert.Equal(t, 1, ch.declares)
}

// notFoundChannel reports every queue as missing, whatever was declared.
type notFoundChannel struct {
	gets     int
	declares int
}

func (c *notFoundChannel) Publish(context.Context, string, broker.Message) error { return nil }

func (c *notFoundChannel) Get(queue string) (broker.Delivery, bool, error) {
	c.gets++
	return broker.Delivery{}, false, fmt.Errorf("%w: %s", broker.ErrQueueNotFound, queue)
}

func (c *notFoundChannel) QueueDeclare(string) error {
	c.declares++
	return nil
}

func (c *notFoundChannel) IsClosed() bool { return false }
func (c *notFoundChannel) Close() error   { return nil }

type scriptedConn struct{ ch broker.Channel }

func (c *scriptedConn) Channel() (broker.Channel, error) { return c.ch, nil }
func (c *scriptedConn) IsClosed() bool                   { return false }
func (c *scriptedConn) Close() error                     { return nil }

func TestPullerReadsPublishedMessage(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, 2)
	pub, err := broker.NewPublisher(pool, broker.JSON, nil)
	require.NoError(t, err)
	puller, err := broker.NewPuller(pool, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "Q", task{URL: "https://b.example/"}))

	d, ok, err := puller.Pull(ctx, "Q")
	require.NoError(t, err)
	require.True(t, ok)

	var got task
	require.NoError(t, d.Decode(broker.JSON, &got))
	assert.Equal(t, "https://b.example/", got.URL)

	_, ok, err = puller.Pull(ctx, "Q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPullerTreatsEmptyBodyAsAbsent(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, 1)
	pub, err := broker.NewPublisher(pool, broker.Raw, nil)
	require.NoError(t, err)
	puller, err := broker.NewPuller(pool, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "Q", []byte{}))
	_, ok, err := puller.Pull(ctx, "Q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPullPriorityReportsTier(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, 2)
	pub, err := broker.NewPublisher(pool, broker.JSON, nil)
	require.NoError(t, err)

	// Fill every tier so any draw finds a message.
	ctx := context.Background()
	for _, p := range broker.Priorities() {
		require.NoError(t, pub.PublishPriority(ctx, "CrawlingQueue", p, task{URL: p.String()}))
	}

	puller, err := broker.NewPuller(pool, broker.NewSampler(rand.NewPCG(3, 4)), nil)
	require.NoError(t, err)

	env, ok, err := puller.PullPriority(ctx, "CrawlingQueue")
	require.NoError(t, err)
	require.True(t, ok)

	var got task
	require.NoError(t, env.Decode(broker.JSON, &got))
	assert.Equal(t, env.Priority.String(), got.URL)
	assert.Equal(t, broker.QueueName("CrawlingQueue", env.Priority), env.Queue)
}

func TestPullPriorityUnreachable(t *testing.T) {
	t.Parallel()

	pool, mb := newPool(t, 1)
	mb.SetUnreachable(true)
	puller, err := broker.NewPuller(pool, nil, nil)
	require.NoError(t, err)

	_, ok, err := puller.PullPriority(context.Background(), "CrawlingQueue")
	require.False(t, ok)
	require.True(t, broker.IsUnreachable(err))
}

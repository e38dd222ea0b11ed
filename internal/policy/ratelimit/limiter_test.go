package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 requests per second = 100ms interval
	l := mustNew(t, Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	require.NoError(t, l.Wait(ctx, "https://test.com"))

	// Next one should wait ~100ms
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/other"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// Other hosts have their own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://elsewhere.com"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := mustNew(t, Config{})
	assert.Equal(t, rate.Inf, l.HostLimit("example.com"))
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
}

func TestLimiter_WaitContextCanceled(t *testing.T) {
	t.Parallel()

	l := mustNew(t, Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestLimiter_SetHostDelay(t *testing.T) {
	t.Parallel()

	l := mustNew(t, Config{DefaultRPS: 5, DefaultBurst: 3})

	l.SetHostDelay("Example.com", 10*time.Second)
	assert.InDelta(t, 0.1, float64(l.HostLimit("example.com")), 1e-9)

	// A delay faster than the default does not speed the host up.
	l.SetHostDelay("fast.com", 10*time.Millisecond)
	assert.Equal(t, rate.Limit(5), l.HostLimit("fast.com"))

	// Zero restores the default.
	l.SetHostDelay("example.com", 0)
	assert.Equal(t, rate.Limit(5), l.HostLimit("example.com"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", hostOf("https://EXAMPLE.com:8443/x"))
	assert.Equal(t, "unknown", hostOf("::bad"))
	assert.Equal(t, "unknown", hostOf(""))
}

func TestLimiter_EvictsLeastRecentHosts(t *testing.T) {
	t.Parallel()

	l := mustNew(t, Config{DefaultRPS: 5, MaxHosts: 2})
	l.SetHostDelay("slow.example", 10*time.Second)
	l.HostLimit("a.example")
	l.HostLimit("b.example")

	assert.Equal(t, 2, l.Hosts())
	// slow.example was evicted, so it is back at the default rate.
	assert.Equal(t, rate.Limit(5), l.HostLimit("slow.example"))
	assert.Equal(t, 2, l.Hosts())
}

func mustNew(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

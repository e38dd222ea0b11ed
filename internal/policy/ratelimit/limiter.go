// Package ratelimit implements a token bucket rate limiter for per-host pacing.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// DefaultMaxHosts bounds the number of per-host buckets when MaxHosts <= 0.
const DefaultMaxHosts = 10000

// Limiter manages per-host rate limits. Hosts start at the default rate and
// can be slowed individually, e.g. by a robots.txt crawl-delay. Buckets for
// the least recently used hosts are evicted, and an evicted host starts over
// at the default rate.
type Limiter struct {
	mu           sync.Mutex
	limiters     *lru.Cache[string, *rate.Limiter]
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	MaxHosts     int
}

// New creates a new Limiter. A non-positive DefaultRPS means unlimited.
func New(cfg Config) (*Limiter, error) {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	size := cfg.MaxHosts
	if size <= 0 {
		size = DefaultMaxHosts
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("create host limiter cache: %w", err)
	}
	return &Limiter{
		limiters:     cache,
		defaultRate:  r,
		defaultBurst: burst,
	}, nil
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	limiter := l.forHost(hostOf(rawURL))

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// A token that was already available costs nothing worth recording.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}
	return nil
}

// SetHostDelay paces host to one request per delay. A delay slower than the
// default rate wins; a zero or faster delay restores the default.
func (l *Limiter) SetHostDelay(host string, delay time.Duration) {
	host = strings.ToLower(host)
	limit := l.defaultRate
	if delay > 0 {
		if perDelay := rate.Every(delay); perDelay < limit {
			limit = perDelay
		}
	}
	limiter := l.forHost(host)
	limiter.SetLimit(limit)
	if limit != l.defaultRate {
		limiter.SetBurst(1)
	} else {
		limiter.SetBurst(l.defaultBurst)
	}
}

// HostLimit reports the current rate for host.
func (l *Limiter) HostLimit(host string) rate.Limit {
	return l.forHost(strings.ToLower(host)).Limit()
}

// Hosts reports how many hosts currently hold a bucket.
func (l *Limiter) Hosts() int {
	return l.limiters.Len()
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters.Get(host); ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters.Add(host, limiter)
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

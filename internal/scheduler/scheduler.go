// Package scheduler consumes crawling feedback from the untiered crawling
// queue and keeps per-host crawl policy current.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
	"github.com/JakeFAU/gfd-crawler/internal/crawler"
	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// Source reads one message from a named queue.
type Source interface {
	Pull(ctx context.Context, queue string) (broker.Delivery, bool, error)
}

// DelaySetter applies a crawl-delay to a host.
type DelaySetter interface {
	SetHostDelay(host string, delay time.Duration)
}

// FeedbackHandler receives every accepted feedback after it is registered.
type FeedbackHandler interface {
	HandleFeedback(ctx context.Context, feedback crawler.CrawlingFeedback) error
}

// FeedbackHandlerFunc adapts a function to FeedbackHandler.
type FeedbackHandlerFunc func(ctx context.Context, feedback crawler.CrawlingFeedback) error

// HandleFeedback calls f.
func (f FeedbackHandlerFunc) HandleFeedback(ctx context.Context, feedback crawler.CrawlingFeedback) error {
	return f(ctx, feedback)
}

// Config controls Scheduler behavior.
type Config struct {
	IdleInterval    time.Duration
	BackoffInterval time.Duration
}

// Scheduler applies crawling feedback to the registry and rate limiter.
type Scheduler struct {
	source   Source
	registry *Registry
	delays   DelaySetter
	handler  FeedbackHandler
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDelaySetter forwards crawl-delays to setter.
func WithDelaySetter(setter DelaySetter) Option {
	return func(s *Scheduler) { s.delays = setter }
}

// WithHandler hands every registered feedback to h.
func WithHandler(h FeedbackHandler) Option {
	return func(s *Scheduler) { s.handler = h }
}

// New constructs a Scheduler.
func New(source Source, registry *Registry, cfg Config, opts ...Option) (*Scheduler, error) {
	if source == nil || registry == nil {
		return nil, errors.New("scheduler requires a source and a registry")
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 100 * time.Millisecond
	}
	if cfg.BackoffInterval <= 0 {
		cfg.BackoffInterval = 5 * time.Second
	}
	s := &Scheduler{
		source:   source,
		registry: registry,
		cfg:      cfg,
		logger:   zap.NewNop(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run consumes feedback until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("feedback loop started", zap.String("queue", crawler.CrawlingQueue))
	for ctx.Err() == nil {
		d, ok, err := s.source.Pull(ctx, crawler.CrawlingQueue)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.backoff(ctx, err)
			continue
		}
		if !ok {
			s.sleep(ctx, s.cfg.IdleInterval)
			continue
		}

		var feedback crawler.CrawlingFeedback
		if err := d.Decode(broker.JSON, &feedback); err != nil {
			s.logger.Warn("skipping malformed crawling feedback", zap.Error(err))
			continue
		}
		if err := s.Apply(d.Context(ctx), feedback); err != nil {
			s.logger.Warn("crawling feedback rejected",
				zap.String("base_url", feedback.BaseURL), zap.Error(err))
		}
	}
	s.logger.Info("feedback loop stopped")
	return nil
}

// Apply registers feedback, sets the host's crawl-delay and notifies the handler.
func (s *Scheduler) Apply(ctx context.Context, feedback crawler.CrawlingFeedback) error {
	host, err := s.registry.Put(feedback)
	if err != nil {
		return err
	}
	if s.delays != nil {
		s.delays.SetHostDelay(host, feedback.Delay())
	}
	s.logger.Debug("crawl policy updated",
		zap.String("host", host),
		zap.Duration("crawl_delay", feedback.Delay()),
		zap.Int("disallowed", len(feedback.DisallowedPaths)))
	if s.handler != nil {
		if err := s.handler.HandleFeedback(ctx, feedback); err != nil {
			s.logger.Warn("feedback handler failed", zap.String("host", host), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) backoff(ctx context.Context, err error) {
	reason := "error"
	switch {
	case broker.IsUnreachable(err):
		reason = "unreachable"
	case broker.IsQueueNotFound(err):
		reason = "queue_not_found"
	}
	s.logger.Warn("feedback pull failed; backing off",
		zap.String("reason", reason), zap.Duration("delay", s.cfg.BackoffInterval), zap.Error(err))
	metrics.ObserveBackoff(reason)
	s.sleep(ctx, s.cfg.BackoffInterval)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

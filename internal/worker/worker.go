// Package worker implements the crawl loop: pull a task by tier, classify it,
// and run a bounded number of fetch handlers concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
	"github.com/JakeFAU/gfd-crawler/internal/crawler"
	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// Task kinds used in logs and metrics.
const (
	kindPage   = "page"
	kindPolicy = "policy"
)

// TaskSource yields crawl tasks along with the tier they were drawn from.
type TaskSource interface {
	PullPriority(ctx context.Context, base string) (broker.Envelope, bool, error)
}

// Sink publishes derived work.
type Sink interface {
	Publish(ctx context.Context, queue string, msg any) error
	PublishPriority(ctx context.Context, base string, tier broker.Priority, msg any) error
}

// Config controls Worker behavior.
type Config struct {
	RobotsToken     string
	MaxInFlight     int
	IdleInterval    time.Duration
	BackoffInterval time.Duration
	BlobPrefix      string
}

// State is the control loop's position within one iteration.
type State int32

// Loop states.
const (
	Idle State = iota
	Dispatching
	AwaitingPermit
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case AwaitingPermit:
		return "awaiting_permit"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Worker consumes crawl tasks and publishes robots feedback and indexing records.
type Worker struct {
	source    TaskSource
	sink      Sink
	fetcher   crawler.Fetcher
	blobStore crawler.BlobStore
	hasher    crawler.Hasher
	limiter   crawler.HostLimiter
	blocklist *crawler.Blocklist
	cfg       Config
	logger    *zap.Logger
	state     atomic.Int32
	sleep     func(ctx context.Context, d time.Duration)
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithArchive stores successful page bodies under {prefix}/{host}/{hash}.html.
func WithArchive(store crawler.BlobStore, hasher crawler.Hasher) Option {
	return func(w *Worker) {
		w.blobStore = store
		w.hasher = hasher
	}
}

// WithHostLimiter paces page fetches per host.
func WithHostLimiter(limiter crawler.HostLimiter) Option {
	return func(w *Worker) {
		w.limiter = limiter
	}
}

// WithBlocklist drops tasks whose host matches the blocklist.
func WithBlocklist(b *crawler.Blocklist) Option {
	return func(w *Worker) {
		w.blocklist = b
	}
}

// New constructs a Worker. Invalid wiring fails here rather than at run time.
func New(source TaskSource, sink Sink, fetcher crawler.Fetcher, cfg Config, opts ...Option) (*Worker, error) {
	if source == nil || sink == nil || fetcher == nil {
		return nil, errors.New("worker requires a task source, a sink and a fetcher")
	}
	if cfg.MaxInFlight <= 0 {
		return nil, fmt.Errorf("max in-flight must be > 0, got %d", cfg.MaxInFlight)
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 100 * time.Millisecond
	}
	if cfg.BackoffInterval <= 0 {
		cfg.BackoffInterval = 5 * time.Second
	}
	if cfg.RobotsToken == "" {
		cfg.RobotsToken = "Gfd"
	}
	w := &Worker{
		source:  source,
		sink:    sink,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  zap.NewNop(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// State reports where the control loop currently is.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run pulls and dispatches tasks until ctx is done, then waits for in-flight
// handlers to finish. Broker and decode errors never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(w.cfg.MaxInFlight)

	w.logger.Info("crawl loop started", zap.Int("max_in_flight", w.cfg.MaxInFlight))
	for ctx.Err() == nil {
		w.setState(Idle)
		env, ok, err := w.source.PullPriority(ctx, crawler.CrawlingQueue)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.backoff(ctx, err)
			continue
		}
		if !ok {
			w.sleep(ctx, w.cfg.IdleInterval)
			continue
		}

		w.setState(Dispatching)
		target, err := decodeTask(env)
		if err != nil {
			metrics.ObserveTask("unknown", "malformed")
			w.logger.Warn("skipping malformed crawl task",
				zap.String("queue", env.Queue), zap.Error(err))
			continue
		}

		if w.blocklist.IsBlocked(target.Hostname()) {
			metrics.ObserveTask(taskKind(target), "blocked")
			w.logger.Debug("skipping blocked host", zap.String("url", target.String()))
			continue
		}

		run := w.task(env.Delivery.Context(ctx), env.Priority, target)
		if !g.TryGo(run) {
			w.setState(AwaitingPermit)
			g.Go(run)
		}
	}

	w.setState(Idle)
	w.logger.Info("crawl loop stopping; draining in-flight tasks")
	return g.Wait()
}

func decodeTask(env broker.Envelope) (*url.URL, error) {
	var task crawler.CrawlTask
	if err := env.Decode(broker.JSON, &task); err != nil {
		return nil, err
	}
	return crawler.ParseTaskURL(task.URL)
}

func taskKind(target *url.URL) string {
	if crawler.IsPolicyTask(target) {
		return kindPolicy
	}
	return kindPage
}

// task wraps one handler so that the permit is tied to its completion and a
// panic stays inside the task.
func (w *Worker) task(ctx context.Context, tier broker.Priority, target *url.URL) func() error {
	kind := taskKind(target)
	return func() error {
		ctx, span := otel.Tracer("gfd-crawler/worker").Start(ctx, "crawl."+kind)
		span.SetAttributes(attribute.String("url", target.String()), attribute.String("priority", tier.String()))
		defer span.End()

		metrics.IncInflight()
		defer metrics.DecInflight()
		defer func() {
			if r := recover(); r != nil {
				metrics.ObserveTask(kind, "panic")
				w.logger.Error("crawl task panicked",
					zap.String("url", target.String()), zap.Any("panic", r))
				if kind == kindPage {
					if err := w.publishRecord(ctx, tier, crawler.IndexingRecord{URL: target.String()}); err != nil {
						w.logger.Error("publish indexing record failed",
							zap.String("url", target.String()), zap.Error(err))
					}
				}
			}
		}()

		var outcome string
		if kind == kindPolicy {
			outcome = w.handlePolicy(ctx, target)
		} else {
			outcome = w.handlePage(ctx, tier, target)
		}
		metrics.ObserveTask(kind, outcome)
		span.SetAttributes(attribute.String("outcome", outcome))
		return nil
	}
}

func (w *Worker) handlePolicy(ctx context.Context, target *url.URL) string {
	base := crawler.Authority(target)
	feedback := crawler.ParseRobots(base, "", w.cfg.RobotsToken)
	logger := w.logger.With(zap.String("base_url", base))

	robotsURL := crawler.RobotsURL(target)
	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: robotsURL})
	switch {
	case err != nil:
		logger.Warn("robots.txt fetch failed", zap.Error(err))
	case isPlainTextSuccess(resp):
		feedback = crawler.ParseRobots(base, string(resp.Body), w.cfg.RobotsToken)
	default:
		logger.Debug("robots.txt missing or not plain text", zap.Int("status", resp.StatusCode))
	}

	sitemapURL := crawler.SitemapURL(target)
	sresp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: sitemapURL})
	switch {
	case err != nil:
		logger.Debug("sitemap probe failed", zap.Error(err))
	case sresp.StatusCode < 400 && !feedback.HasSitemap(sitemapURL):
		feedback.SitemapURLs = append(feedback.SitemapURLs, sitemapURL)
	}

	if err := w.sink.Publish(ctx, crawler.CrawlingQueue, feedback); err != nil {
		logger.Error("publish crawling feedback failed", zap.Error(err))
		return "publish_error"
	}
	logger.Info("crawling feedback published",
		zap.Int("sitemaps", len(feedback.SitemapURLs)),
		zap.Int("disallowed", len(feedback.DisallowedPaths)))
	return "published"
}

func (w *Worker) handlePage(ctx context.Context, tier broker.Priority, target *url.URL) string {
	pageURL := target.String()
	logger := w.logger.With(zap.String("url", pageURL), zap.Stringer("priority", tier))

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, pageURL); err != nil {
			logger.Debug("rate limit wait aborted", zap.Error(err))
			return "canceled"
		}
	}

	record := crawler.IndexingRecord{URL: pageURL}
	outcome := "indexed"
	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pageURL})
	switch {
	case err != nil:
		logger.Warn("page fetch failed", zap.Error(err))
		outcome = "fetch_error"
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		logger.Warn("page fetch returned error status", zap.Int("status", resp.StatusCode))
		outcome = "http_error"
	case strings.TrimSpace(string(resp.Body)) == "":
		logger.Warn("empty page body")
		outcome = "empty"
	default:
		w.archive(ctx, target, resp.Body)
		extracted, extractErr := crawler.ExtractPage(pageURL, resp.Body)
		if extractErr != nil {
			logger.Warn("html extraction failed", zap.Error(extractErr))
			outcome = "extract_error"
		} else {
			record = extracted
		}
	}

	if err := w.publishRecord(ctx, tier, record); err != nil {
		logger.Error("publish indexing record failed", zap.Error(err))
		return "publish_error"
	}
	logger.Debug("indexing record published", zap.String("outcome", outcome))
	return outcome
}

// publishRecord sends record to the indexing queue at the tier its task was
// pulled from.
func (w *Worker) publishRecord(ctx context.Context, tier broker.Priority, record crawler.IndexingRecord) error {
	return w.sink.PublishPriority(ctx, crawler.IndexingQueue, tier, record)
}

func (w *Worker) archive(ctx context.Context, target *url.URL, body []byte) {
	if w.blobStore == nil || w.hasher == nil {
		return
	}
	hash, err := w.hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash page body failed", zap.String("url", target.String()), zap.Error(err))
		return
	}
	path := w.buildBlobPath(target.Hostname(), hash)
	uri, err := w.blobStore.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(string(body)))
	if err != nil {
		w.logger.Warn("archive page failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("page archived", zap.String("uri", uri))
}

func (w *Worker) buildBlobPath(host, hash string) string {
	host = strings.ToLower(host)
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", host, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, host, hash)
}

func (w *Worker) backoff(ctx context.Context, err error) {
	reason := "error"
	switch {
	case broker.IsUnreachable(err):
		reason = "unreachable"
		w.logger.Warn("broker unreachable; backing off",
			zap.Duration("delay", w.cfg.BackoffInterval), zap.Error(err))
	case broker.IsQueueNotFound(err):
		reason = "queue_not_found"
		w.logger.Debug("queue not declared yet; backing off", zap.Duration("delay", w.cfg.BackoffInterval))
	default:
		w.logger.Error("unexpected error in crawl loop; backing off",
			zap.Duration("delay", w.cfg.BackoffInterval), zap.Error(err))
	}
	metrics.ObserveBackoff(reason)
	w.sleep(ctx, w.cfg.BackoffInterval)
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

func isPlainTextSuccess(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(resp.ContentType())
	return err == nil && mediaType == "text/plain"
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

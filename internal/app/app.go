// Package app builds the long-lived services shared by the gfd commands and
// shuts them down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/api"
	"github.com/JakeFAU/gfd-crawler/internal/broker"
	brokermem "github.com/JakeFAU/gfd-crawler/internal/broker/memory"
	"github.com/JakeFAU/gfd-crawler/internal/clock/system"
	"github.com/JakeFAU/gfd-crawler/internal/config"
	"github.com/JakeFAU/gfd-crawler/internal/crawler"
	"github.com/JakeFAU/gfd-crawler/internal/embed"
	collyfetcher "github.com/JakeFAU/gfd-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/gfd-crawler/internal/hash/sha256"
	"github.com/JakeFAU/gfd-crawler/internal/id/uuid"
	"github.com/JakeFAU/gfd-crawler/internal/indexer"
	"github.com/JakeFAU/gfd-crawler/internal/logging"
	"github.com/JakeFAU/gfd-crawler/internal/metrics"
	"github.com/JakeFAU/gfd-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/gfd-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/gfd-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gfd-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/gfd-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/gfd-crawler/internal/storage/postgres"
	"github.com/JakeFAU/gfd-crawler/internal/telemetry"
	"github.com/JakeFAU/gfd-crawler/internal/worker"
)

// WebsiteStore is the website persistence the indexer and API share.
type WebsiteStore interface {
	indexer.Store
	api.Searcher
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	pool      *broker.ChannelPool
	publisher *broker.Publisher
	puller    *broker.Puller
	limiter   *ratelimit.Limiter
	ids       *uuid.Generator
	clock     *system.Clock

	websites   WebsiteStore
	pgStore    *pgstore.WebsiteStore
	blobStore  crawler.BlobStore
	gcsClient  *storage.Client
	tracerStop func(context.Context) error
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	limiter, err := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitPerHost,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
		MaxHosts:     cfg.Crawler.RateLimitMaxHost,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		ids:     uuid.New(),
		clock:   system.New(),
		limiter: limiter,
	}
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerStop = tp.Shutdown

	steps := []func(context.Context) error{a.setupBroker, a.setupWebsiteStore, a.setupBlobStore}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close(context.Background())
			return nil, err
		}
	}
	return a, nil
}

func (a *App) setupBroker(_ context.Context) error {
	var dial broker.Dialer
	switch a.cfg.Broker.Provider {
	case "memory":
		a.logger.Warn("using in-memory broker; queues are not shared between processes")
		dial = brokermem.NewBroker().Dial
	default:
		var err error
		dial, err = broker.NewAMQPDialer(broker.AMQPConfig{
			Host:          a.cfg.Broker.Host,
			Port:          a.cfg.Broker.Port,
			User:          a.cfg.Broker.User,
			Password:      a.cfg.Broker.Password,
			VHost:         a.cfg.Broker.VHost,
			DurableQueues: a.cfg.Broker.DurableQueues,
			DialTimeout:   time.Duration(a.cfg.Broker.DialTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("amqp dialer init failed: %w", err)
		}
		a.logger.Info("using AMQP broker",
			zap.String("host", a.cfg.Broker.Host), zap.Int("port", a.cfg.Broker.Port))
	}

	var err error
	a.pool, err = broker.NewChannelPool(a.cfg.Broker.PoolSize, dial, a.logger.Named("pool"))
	if err != nil {
		return fmt.Errorf("channel pool init failed: %w", err)
	}
	a.publisher, err = broker.NewPublisher(a.pool, broker.JSON, a.logger.Named("publisher"))
	if err != nil {
		return fmt.Errorf("publisher init failed: %w", err)
	}
	a.puller, err = broker.NewPuller(a.pool, nil, a.logger.Named("puller"))
	if err != nil {
		return fmt.Errorf("puller init failed: %w", err)
	}
	return nil
}

func (a *App) setupWebsiteStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN configured; using in-memory website store")
		a.websites = memorystorage.NewWebsiteStore()
		return nil
	}
	store, err := pgstore.NewWebsiteStore(ctx, pgstore.WebsiteStoreConfig{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("website store init failed: %w", err)
	}
	a.pgStore = store
	a.websites = store
	if a.cfg.DB.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("website store migration failed: %w", err)
		}
	}
	a.logger.Info("website store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) error {
	if !a.cfg.Crawler.ArchivePages {
		return nil
	}
	var err error
	switch a.cfg.Storage.Provider {
	case "gcs":
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobStore, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket:       a.cfg.Storage.GCSBucket,
			CacheControl: a.cfg.Storage.CacheControl,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		a.blobStore, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.blobStore = memorystorage.NewBlobStore()
	}
	a.logger.Info("page archive enabled", zap.String("provider", a.cfg.Storage.Provider))
	return nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Publisher returns the shared broker publisher.
func (a *App) Publisher() *broker.Publisher { return a.publisher }

// Websites returns the website store.
func (a *App) Websites() WebsiteStore { return a.websites }

// Worker builds the crawl worker pool.
func (a *App) Worker() (*worker.Worker, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBodyBytes:  a.cfg.HTTP.MaxBodyBytes,
	})
	opts := []worker.Option{
		worker.WithLogger(a.logger.Named("worker")),
		worker.WithHostLimiter(a.limiter),
		worker.WithBlocklist(crawler.NewBlocklist(a.cfg.Crawler.BlockedHosts)),
	}
	if a.blobStore != nil {
		opts = append(opts, worker.WithArchive(a.blobStore, sha256.New()))
	}
	w, err := worker.New(a.puller, a.publisher, fetcher, worker.Config{
		RobotsToken:     a.cfg.Crawler.RobotsToken,
		MaxInFlight:     a.cfg.Crawler.MaxInFlight,
		IdleInterval:    a.cfg.Crawler.IdleInterval,
		BackoffInterval: a.cfg.Crawler.BackoffInterval,
		BlobPrefix:      a.cfg.Storage.Prefix,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}
	return w, nil
}

// Indexer builds the index loop.
func (a *App) Indexer() (*indexer.Indexer, error) {
	embedder, err := embed.NewCached(embed.NewStaticEmbedder(), a.cfg.Indexer.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}
	ix, err := indexer.New(a.puller, a.websites, embedder, a.ids, a.clock, indexer.Config{
		MaxInFlight:     a.cfg.Indexer.MaxInFlight,
		IdleInterval:    a.cfg.Indexer.IdleInterval,
		BackoffInterval: a.cfg.Indexer.BackoffInterval,
	}, a.logger.Named("indexer"))
	if err != nil {
		return nil, fmt.Errorf("indexer init failed: %w", err)
	}
	return ix, nil
}

// Scheduler builds the feedback loop. Crawl-delays feed the same limiter the
// worker uses, so they take effect when both run in one process.
func (a *App) Scheduler(opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	registry, err := scheduler.NewRegistry(a.cfg.Scheduler.RegistrySize)
	if err != nil {
		return nil, err
	}
	opts = append([]scheduler.Option{
		scheduler.WithLogger(a.logger.Named("scheduler")),
		scheduler.WithDelaySetter(a.limiter),
	}, opts...)
	s, err := scheduler.New(a.puller, registry, scheduler.Config{
		IdleInterval:    a.cfg.Scheduler.IdleInterval,
		BackoffInterval: a.cfg.Scheduler.BackoffInterval,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return s, nil
}

// APIServer builds the HTTP API.
func (a *App) APIServer() (*api.Server, error) {
	srv, err := api.NewServer(api.Deps{
		Search:     a.websites,
		Tasks:      a.publisher,
		Clock:      a.clock,
		RequestIDs: a.ids,
		Ready: []api.ReadyCheck{
			{Name: "website_store", Check: a.websites.Ping},
			{Name: "broker", Check: a.pingBroker},
		},
	}, a.cfg, a.logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}
	return srv, nil
}

// Seed validates rawURLs and enqueues them as crawl tasks at tier. It
// returns how many were published before the first failure.
func (a *App) Seed(ctx context.Context, rawURLs []string, tier broker.Priority) (int, error) {
	tasks := make([]crawler.CrawlTask, 0, len(rawURLs))
	for _, raw := range rawURLs {
		u, err := crawler.ParseTaskURL(raw)
		if err != nil {
			return 0, err
		}
		tasks = append(tasks, crawler.CrawlTask{URL: u.String()})
	}
	for i, task := range tasks {
		if err := a.publisher.PublishPriority(ctx, crawler.CrawlingQueue, tier, task); err != nil {
			return i, fmt.Errorf("enqueue %s: %w", task.URL, err)
		}
		a.logger.Info("seeded crawl task", zap.String("url", task.URL), zap.Stringer("priority", tier))
	}
	return len(tasks), nil
}

func (a *App) pingBroker(ctx context.Context) error {
	ch, err := a.pool.Rent(ctx)
	if err != nil {
		return err
	}
	a.pool.Return(ch)
	return nil
}

// Serve runs handler on addr until ctx is done, then shuts it down.
func (a *App) Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Close releases broker, storage and tracing resources.
func (a *App) Close(ctx context.Context) {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("channel pool close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.tracerStop != nil {
		if err := a.tracerStop(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

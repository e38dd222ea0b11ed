// Package indexer consumes indexing records by tier, embeds their text and
// upserts them into the website store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
	"github.com/JakeFAU/gfd-crawler/internal/crawler"
	"github.com/JakeFAU/gfd-crawler/internal/embed"
	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// Source yields indexing records along with the tier they were drawn from.
type Source interface {
	PullPriority(ctx context.Context, base string) (broker.Envelope, bool, error)
}

// Store persists website records keyed by URL.
type Store interface {
	Upsert(ctx context.Context, record crawler.WebsiteRecord) error
}

// Config controls Indexer behavior.
type Config struct {
	MaxInFlight     int
	IdleInterval    time.Duration
	BackoffInterval time.Duration
}

// Indexer turns IndexingRecords into stored WebsiteRecords.
type Indexer struct {
	source   Source
	store    Store
	embedder embed.Embedder
	ids      crawler.IDGenerator
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration)
}

// New constructs an Indexer.
func New(source Source, store Store, embedder embed.Embedder, ids crawler.IDGenerator, clock crawler.Clock, cfg Config, logger *zap.Logger) (*Indexer, error) {
	if source == nil || store == nil || embedder == nil || ids == nil || clock == nil {
		return nil, errors.New("indexer requires a source, a store, an embedder, an id generator and a clock")
	}
	if cfg.MaxInFlight <= 0 {
		return nil, fmt.Errorf("max in-flight must be > 0, got %d", cfg.MaxInFlight)
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 20 * time.Millisecond
	}
	if cfg.BackoffInterval <= 0 {
		cfg.BackoffInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		source:   source,
		store:    store,
		embedder: embedder,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}, nil
}

// Run indexes records until ctx is done, then waits for in-flight records.
func (ix *Indexer) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(ix.cfg.MaxInFlight)

	ix.logger.Info("index loop started", zap.Int("max_in_flight", ix.cfg.MaxInFlight))
	for ctx.Err() == nil {
		env, ok, err := ix.source.PullPriority(ctx, crawler.IndexingQueue)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			ix.backoff(ctx, err)
			continue
		}
		if !ok {
			ix.sleep(ctx, ix.cfg.IdleInterval)
			continue
		}

		var record crawler.IndexingRecord
		if err := env.Decode(broker.JSON, &record); err != nil || record.URL == "" {
			metrics.ObserveIndexed("malformed")
			ix.logger.Warn("skipping malformed indexing record",
				zap.String("queue", env.Queue), zap.Error(err))
			continue
		}

		msgCtx := env.Delivery.Context(ctx)
		tier := env.Priority
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					metrics.ObserveIndexed("panic")
					ix.logger.Error("indexing panicked", zap.String("url", record.URL), zap.Any("panic", r))
				}
			}()
			outcome := ix.Index(msgCtx, record)
			metrics.ObserveIndexed(outcome)
			ix.logger.Debug("record processed",
				zap.String("url", record.URL), zap.Stringer("priority", tier), zap.String("outcome", outcome))
			return nil
		})
	}

	ix.logger.Info("index loop stopping; draining in-flight records")
	return g.Wait()
}

// Index embeds and stores one record and returns the outcome label.
func (ix *Indexer) Index(ctx context.Context, record crawler.IndexingRecord) string {
	ctx, span := otel.Tracer("gfd-crawler/indexer").Start(ctx, "index.record")
	span.SetAttributes(attribute.String("url", record.URL))
	defer span.End()
	logger := ix.logger.With(zap.String("url", record.URL))

	id, err := ix.ids.NewID()
	if err != nil {
		logger.Error("generate record id failed", zap.Error(err))
		return "id_error"
	}
	website := crawler.WebsiteRecord{
		ID:          id,
		URL:         record.URL,
		Title:       record.Title,
		Description: record.Description,
		PageText:    record.PageText,
		IndexedAt:   ix.clock.Now(),
	}
	for _, field := range []struct {
		text string
		dst  *[]float32
	}{
		{record.Title, &website.TitleMeaning},
		{record.Description, &website.DescriptionMeaning},
		{record.PageText, &website.PageMeaning},
	} {
		vec, err := ix.embedder.Embed(ctx, field.text)
		if err != nil {
			logger.Warn("embedding failed", zap.Error(err))
			return "embed_error"
		}
		*field.dst = vec
	}

	if err := ix.store.Upsert(ctx, website); err != nil {
		logger.Error("upsert website failed", zap.Error(err))
		return "store_error"
	}
	return "indexed"
}

func (ix *Indexer) backoff(ctx context.Context, err error) {
	reason := "error"
	switch {
	case broker.IsUnreachable(err):
		reason = "unreachable"
		ix.logger.Warn("broker unreachable; backing off",
			zap.Duration("delay", ix.cfg.BackoffInterval), zap.Error(err))
	case broker.IsQueueNotFound(err):
		reason = "queue_not_found"
	default:
		ix.logger.Error("unexpected error in index loop; backing off",
			zap.Duration("delay", ix.cfg.BackoffInterval), zap.Error(err))
	}
	metrics.ObserveBackoff(reason)
	ix.sleep(ctx, ix.cfg.BackoffInterval)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

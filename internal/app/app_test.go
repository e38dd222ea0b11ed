package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/app"
	"github.com/JakeFAU/gfd-crawler/internal/broker"
	"github.com/JakeFAU/gfd-crawler/internal/config"
	"github.com/JakeFAU/gfd-crawler/internal/crawler"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("GFD_BROKER_PROVIDER", "memory")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func buildApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestBuildWithMemoryProviders(t *testing.T) {
	a := buildApp(t, memoryConfig(t))

	_, err := a.Worker()
	require.NoError(t, err)
	_, err = a.Indexer()
	require.NoError(t, err)
	_, err = a.Scheduler()
	require.NoError(t, err)

	srv, err := a.APIServer()
	require.NoError(t, err)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildRejectsBadLocalArchive(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Crawler.ArchivePages = true
	cfg.Storage.Provider = "local"
	cfg.Storage.BaseDir = ""

	_, err := app.BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local blob store init failed")
}

func TestBuildWithLocalArchive(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Crawler.ArchivePages = true
	cfg.Storage.Provider = "local"
	cfg.Storage.BaseDir = t.TempDir()

	a := buildApp(t, cfg)
	_, err := a.Worker()
	require.NoError(t, err)
}

func TestIndexerStoresPublishedRecords(t *testing.T) {
	a := buildApp(t, memoryConfig(t))
	ix, err := a.Indexer()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = a.Publisher().PublishPriority(ctx, crawler.IndexingQueue, broker.Normal, crawler.IndexingRecord{
		URL:         "https://example.com/",
		Title:       "Example Domain",
		Description: "An illustrative page",
		PageText:    "This domain is for use in illustrative examples.",
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	require.Eventually(t, func() bool {
		hits, total, err := a.Websites().Search(ctx, crawler.SearchQuery{Query: "example", PageSize: 10, PageNumber: 1})
		return err == nil && total == 1 && len(hits) == 1 && hits[0].URL == "https://example.com/"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop after cancel")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	a := buildApp(t, memoryConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Serve(ctx, "127.0.0.1:0", http.NotFoundHandler())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestSeedValidatesBeforePublishing(t *testing.T) {
	a := buildApp(t, memoryConfig(t))
	ctx := context.Background()

	n, err := a.Seed(ctx, []string{"https://example.com/", "ftp://example.com/"}, broker.High)
	require.Error(t, err)
	assert.Zero(t, n)

	n, err = a.Seed(ctx, []string{"https://example.com/", "https://example.org/robots.txt"}, broker.High)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

type roleFactory func(App) (Runner, error)

// newRoleCmd builds a command that runs one loop, optionally exposing
// Prometheus metrics next to it.
func newRoleCmd(use, short, long string, build roleFactory) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := build(appInstance)
			if err != nil {
				return err
			}
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return runner.Run(ctx) })
			if metricsAddr != "" {
				g.Go(func() error { return appInstance.Serve(ctx, metricsAddr, metrics.Handler()) })
			}
			if err := ignoreCanceled(g.Wait()); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			appInstance.Logger().Info("role stopped", zap.String("role", use))
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (e.g. :9090)")
	return cmd
}

func newCrawlCmd() *cobra.Command {
	return newRoleCmd("crawl", "Runs the crawl worker pool",
		`Pulls crawl tasks from the priority-tiered crawling queues, fetches each
page or robots.txt, and publishes indexing records, sitemap follow-ups and
crawl-delay feedback.`,
		func(a App) (Runner, error) { return a.Crawler() })
}

func newIndexCmd() *cobra.Command {
	return newRoleCmd("index", "Runs the indexer",
		`Pulls indexing records, embeds their title, description and text, and
upserts them into the website store.`,
		func(a App) (Runner, error) { return a.Indexer() })
}

func newScheduleCmd() *cobra.Command {
	return newRoleCmd("schedule", "Runs the feedback scheduler",
		`Pulls crawling feedback from the bare crawling queue and records each
host's crawl-delay and sitemaps.`,
		func(a App) (Runner, error) { return a.Scheduler() })
}

// runAll starts every role plus the HTTP API under one errgroup.
func runAll(ctx context.Context, a App, addr string) error {
	builders := map[string]roleFactory{
		"crawl":    func(a App) (Runner, error) { return a.Crawler() },
		"index":    func(a App) (Runner, error) { return a.Indexer() },
		"schedule": func(a App) (Runner, error) { return a.Scheduler() },
	}
	runners := make([]Runner, 0, len(builders))
	for role, build := range builders {
		r, err := build(a)
		if err != nil {
			return fmt.Errorf("%s: %w", role, err)
		}
		runners = append(runners, r)
	}
	handler, err := a.API()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return a.Serve(gctx, addr, handler) })
	return ignoreCanceled(g.Wait())
}

// Package cmd defines and implements the CLI commands for the gfd executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gfd-crawler/internal/app"
	"github.com/JakeFAU/gfd-crawler/internal/broker"
	"github.com/JakeFAU/gfd-crawler/internal/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Runner is a long-running loop that stops when its context is done.
type Runner interface {
	Run(ctx context.Context) error
}

// App defines the services commands use, so tests can inject a fake.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Crawler() (Runner, error)
	Indexer() (Runner, error)
	Scheduler() (Runner, error)
	API() (http.Handler, error)
	Seed(ctx context.Context, rawURLs []string, tier broker.Priority) (int, error)
	Serve(ctx context.Context, addr string, handler http.Handler) error
	Close(ctx context.Context)
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return services{a}, nil
}

// services adapts *app.App to the App interface.
type services struct{ *app.App }

func (s services) Crawler() (Runner, error)   { return s.App.Worker() }
func (s services) Indexer() (Runner, error)   { return s.App.Indexer() }
func (s services) Scheduler() (Runner, error) { return s.App.Scheduler() }

func (s services) API() (http.Handler, error) {
	srv, err := s.App.APIServer()
	if err != nil {
		return nil, err
	}
	return srv.Handler(), nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gfd",
		Short: "Distributed crawler and search indexer.",
		Long: `gfd crawls websites through priority-tiered broker queues, indexes the
extracted pages with embeddings, and serves keyword search over them.

Each subcommand runs one role; "run" starts them all in one process.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars with the GFD_ prefix override it)")

	cmd.AddCommand(
		newCrawlCmd(),
		newIndexCmd(),
		newScheduleCmd(),
		newSeedCmd(),
		newServeCmd(),
		newRunCmd(),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context so running loops drain and exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Command execution failed:", err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// ignoreCanceled treats a shutdown by signal as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

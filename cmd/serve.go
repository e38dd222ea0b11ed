package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the search and task API",
		Long: `Starts the HTTP API: POST /api/search for keyword search over indexed
websites, POST /v1/tasks to enqueue crawl tasks, plus /healthz, /readyz and
/metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			handler, err := appInstance.API()
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context(), listenAddr(appInstance), handler)
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs every role and the API in one process",
		Long: `Starts the crawl worker, indexer, feedback scheduler and HTTP API
together. With broker.provider=memory this is a self-contained deployment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runAll(cmd.Context(), appInstance, listenAddr(appInstance))
		},
	}
}

func listenAddr(a App) string {
	return fmt.Sprintf(":%d", a.Config().Server.Port)
}

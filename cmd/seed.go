package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gfd-crawler/internal/broker"
)

func newSeedCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "seed URL...",
		Short: "Enqueues crawl tasks",
		Long: `Publishes one crawl task per URL to the crawling queue of the chosen
tier. A URL whose path is /robots.txt schedules a policy fetch for its host.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tier, err := broker.ParsePriority(priority)
			if err != nil {
				return err
			}
			n, err := appInstance.Seed(cmd.Context(), args, tier)
			if err != nil {
				return fmt.Errorf("seed (published %d of %d): %w", n, len(args), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d task(s) at %s priority\n", n, tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&priority, "priority", broker.Normal.String(), "queue tier (OnlyWhenIdle, Low, Normal, High, RealTime)")
	return cmd
}

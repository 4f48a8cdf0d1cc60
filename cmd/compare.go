package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func compareCommand() *cobra.Command {
	var (
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "compare <term>",
		Short: "Search every source and print offers cheapest first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must not be negative: %d", limit)
			}
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer closeApp(app)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result := app.Aggregator.Aggregate(ctx, strings.Join(args, " "), category, limit)
			renderAggregate(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict to a category")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum offers (default from config)")
	return cmd
}

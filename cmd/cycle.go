package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/partprice/internal/orchestrator"
)

func cycleCommand() *cobra.Command {
	var productIDs []int64

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one refresh cycle and print its report",
		Long: `Refreshes every active product at every active store once.
With --product only the listed products are refreshed, in parallel.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer closeApp(app)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var report orchestrator.CycleReport
			if len(productIDs) > 0 {
				report, err = app.Orchestrator.RefreshProducts(ctx, productIDs)
			} else {
				report, err = app.Orchestrator.RunCycle(ctx)
			}
			if err != nil {
				return fmt.Errorf("run cycle: %w", err)
			}

			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&productIDs, "product", nil, "refresh only these product ids")
	return cmd
}

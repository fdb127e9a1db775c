package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charity-atlas/registry-cli/internal/batch"
	"github.com/charity-atlas/registry-cli/internal/pipeline"
)

var websitesCmd = &cobra.Command{
	Use:   "websites",
	Short: "Re-normalize stored websites and clear placeholder values",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := pipeline.RepairWebsites(ctx, st, batch.Config{
			BatchSize:  cfg.Load.BatchSize,
			Interval:   cfg.Load.BatchDelay(),
			MaxRetries: cfg.Load.RetryMax,
			Backoff:    cfg.Load.RetryBackoff(),
		})
		if err != nil {
			return err
		}

		cmd.Printf("scanned %d websites, repaired %d (%d failed)\n",
			report.Scanned, report.Result.Updated, report.Result.Failed)
		zap.L().Info("website repair done",
			zap.Int("scanned", report.Scanned),
			zap.Int("updated", report.Result.Updated),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(websitesCmd)
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charity-atlas/registry-cli/internal/batch"
	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/pipeline"
	"github.com/charity-atlas/registry-cli/internal/resolve"
	"github.com/charity-atlas/registry-cli/internal/source"
)

var (
	classifySourcePath string
	classifyFormat     string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify records as public-facing",
	Long:  "With --source, reconciles a file against the registry writing only classification fields. Without it, backfills the public-facing flag for stored records that were never classified.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		classifier, err := initClassifier()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		bc := batch.Config{
			BatchSize:  cfg.Load.BatchSize,
			Interval:   cfg.Load.BatchDelay(),
			MaxRetries: cfg.Load.RetryMax,
			Backoff:    cfg.Load.RetryBackoff(),
		}

		if classifySourcePath != "" {
			src, err := source.Open(classifySourcePath, classifyFormat)
			if err != nil {
				return err
			}
			p := pipeline.New(st, pipeline.Options{
				Policy:     model.PolicyMerge,
				Scope:      resolve.ScopeClassification(),
				Batch:      bc,
				Classifier: classifier,
			})
			report, err := p.Run(ctx, src)
			if err != nil {
				return err
			}
			cmd.Print(report.Summary())
			return nil
		}

		report, err := pipeline.ClassifyStored(ctx, st, classifier, bc)
		if err != nil {
			return err
		}

		cmd.Printf("classified %d of %d unclassified records (%d failed)\n",
			report.Result.Updated, report.Scanned, report.Result.Failed)
		zap.L().Info("classification backfill done",
			zap.Int("scanned", report.Scanned),
			zap.Int("updated", report.Result.Updated),
		)
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifySourcePath, "source", "", "classify from a CSV/XLSX file instead of stored records")
	classifyCmd.Flags().StringVar(&classifyFormat, "format", "", "source format override: csv or xlsx")
	rootCmd.AddCommand(classifyCmd)
}

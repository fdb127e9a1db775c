package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charity-atlas/registry-cli/internal/batch"
	"github.com/charity-atlas/registry-cli/internal/checkpoint"
	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/pipeline"
	"github.com/charity-atlas/registry-cli/internal/resolve"
	"github.com/charity-atlas/registry-cli/internal/source"
)

var (
	loadSourcePath string
	loadFormat     string
	loadPolicy     string
	loadScope      string
	loadBatchSize  int
	loadCheckpoint string
	loadResume     bool
	loadReviewOut  string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Reconcile and bulk-load a filing export into the registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		policy, ok := model.ParseConflictPolicy(loadPolicy)
		if !ok {
			return eris.Errorf("unknown conflict policy %q (insert-only, merge, ignore-duplicate)", loadPolicy)
		}
		scope, ok := resolve.ParseScope(loadScope)
		if !ok {
			return eris.Errorf("unknown scope %q (full, address, classification, website)", loadScope)
		}

		src, err := source.Open(loadSourcePath, loadFormat)
		if err != nil {
			return err
		}

		classifier, err := initClassifier()
		if err != nil {
			return err
		}

		ck, err := openCheckpoint(src)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		p := pipeline.New(st, pipeline.Options{
			Policy:     policy,
			Scope:      scope,
			Batch:      loadBatchConfig(),
			Classifier: classifier,
			Checkpoint: ck,
		})
		report, err := p.Run(ctx, src)
		if err != nil {
			return err
		}

		cmd.Print(report.Summary())

		if loadReviewOut != "" && len(report.Review) > 0 {
			if err := writeReviewCSV(loadReviewOut, report.Review); err != nil {
				return err
			}
			zap.L().Info("review list written",
				zap.String("path", loadReviewOut),
				zap.Int("entries", len(report.Review)),
			)
		}
		return nil
	},
}

func loadBatchConfig() batch.Config {
	bc := batch.Config{
		BatchSize:  cfg.Load.BatchSize,
		Interval:   cfg.Load.BatchDelay(),
		MaxRetries: cfg.Load.RetryMax,
		Backoff:    cfg.Load.RetryBackoff(),
	}
	if loadBatchSize > 0 {
		bc.BatchSize = loadBatchSize
	}
	return bc
}

// openCheckpoint resolves the checkpoint file for this source. Without
// --resume a previous state file is discarded and the run starts clean.
func openCheckpoint(src source.Source) (*checkpoint.State, error) {
	path := loadCheckpoint
	if path == "" {
		path = filepath.Join(cfg.Load.CheckpointDir, src.Name()+".state.json")
	}
	if loadResume {
		return checkpoint.Load(path)
	}
	return checkpoint.Fresh(path), nil
}

func writeReviewCSV(path string, entries []model.ReviewEntry) error {
	data, err := csvutil.Marshal(entries)
	if err != nil {
		return eris.Wrap(err, "marshal review list")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write review list %s", path)
	}
	return nil
}

func init() {
	loadCmd.Flags().StringVar(&loadSourcePath, "source", "", "path to CSV or XLSX export (required)")
	loadCmd.Flags().StringVar(&loadFormat, "format", "", "source format override: csv or xlsx (default: by extension)")
	loadCmd.Flags().StringVar(&loadPolicy, "policy", "merge", "conflict policy: insert-only, merge, ignore-duplicate")
	loadCmd.Flags().StringVar(&loadScope, "scope", "full", "update scope: full, address, classification, website")
	loadCmd.Flags().IntVar(&loadBatchSize, "batch-size", 0, "rows per batch (default from config)")
	loadCmd.Flags().StringVar(&loadCheckpoint, "checkpoint", "", "checkpoint file path (default: derived from source name)")
	loadCmd.Flags().BoolVar(&loadResume, "resume", false, "resume from an existing checkpoint")
	loadCmd.Flags().StringVar(&loadReviewOut, "review-out", "", "write the needs-review list to this CSV file")
	_ = loadCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(loadCmd)
}

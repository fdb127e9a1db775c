package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charity-atlas/registry-cli/internal/batch"
	"github.com/charity-atlas/registry-cli/internal/checkpoint"
	"github.com/charity-atlas/registry-cli/internal/classify"
	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/normalize"
	"github.com/charity-atlas/registry-cli/internal/store"
)

// PassReport summarizes a store-side maintenance pass.
type PassReport struct {
	Scanned int          `json:"scanned"`
	Staged  int          `json:"staged"`
	Result  batch.Result `json:"result"`
}

// ClassifyStored backfills the public-facing flag for registry records that
// have never been classified. Records with an existing value are left
// alone.
func ClassifyStored(ctx context.Context, st store.Store, cls *classify.Classifier, cfg batch.Config) (*PassReport, error) {
	report := &PassReport{}
	applier := batch.New(st, checkpoint.Fresh(""), cfg, model.PolicyMerge,
		[]string{model.FieldPublicFacing})

	err := st.ScanUnclassified(ctx, func(rec model.CanonicalRecord) error {
		report.Scanned++
		report.Staged++
		return applier.Add(ctx, model.WriteOp{
			Kind: model.OpUpdate,
			EIN:  rec.EIN,
			Fields: map[string]any{
				model.FieldPublicFacing: cls.Classify(rec.Name),
			},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classification pass")
	}
	if err := applier.Flush(ctx); err != nil {
		return nil, err
	}

	report.Result = applier.Result()
	zap.L().Info("classification pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Result.Updated),
		zap.Int("failed", report.Result.Failed),
	)
	return report, nil
}

// RepairWebsites re-normalizes every stored website. Placeholder values
// ("N/A", bare bucket hosts) normalize to nothing and are cleared to NULL;
// everything else is rewritten only when normalization changes it.
func RepairWebsites(ctx context.Context, st store.Store, cfg batch.Config) (*PassReport, error) {
	report := &PassReport{}
	applier := batch.New(st, checkpoint.Fresh(""), cfg, model.PolicyMerge,
		[]string{model.FieldWebsite})

	err := st.ScanWebsites(ctx, func(ein, website string) error {
		report.Scanned++
		normalized := normalize.Website(website)
		if normalized == website && website != "" {
			return nil
		}

		var value any
		if normalized != "" {
			value = normalized
		}
		report.Staged++
		return applier.Add(ctx, model.WriteOp{
			Kind:   model.OpUpdate,
			EIN:    ein,
			Fields: map[string]any{model.FieldWebsite: value},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: website repair pass")
	}
	if err := applier.Flush(ctx); err != nil {
		return nil, err
	}

	report.Result = applier.Result()
	zap.L().Info("website repair pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("staged", report.Staged),
		zap.Int("updated", report.Result.Updated),
	)
	return report, nil
}

// Package pipeline orchestrates a reconciliation run: normalize each
// candidate, match it against the registry, resolve the write, and hand it
// to the batch applier. It also hosts the store-side maintenance passes
// (classification backfill, website repair).
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charity-atlas/registry-cli/internal/batch"
	"github.com/charity-atlas/registry-cli/internal/checkpoint"
	"github.com/charity-atlas/registry-cli/internal/classify"
	"github.com/charity-atlas/registry-cli/internal/match"
	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/normalize"
	"github.com/charity-atlas/registry-cli/internal/resolve"
	"github.com/charity-atlas/registry-cli/internal/source"
	"github.com/charity-atlas/registry-cli/internal/store"
)

// Options configures a load run.
type Options struct {
	Policy model.ConflictPolicy
	Scope  resolve.Scope
	Batch  batch.Config

	// Classifier supplies the keyword heuristic. Nil disables heuristic
	// classification; explicit flags on candidates still apply.
	Classifier *classify.Classifier

	// Checkpoint carries resume state. A fresh state gives a fresh run.
	Checkpoint *checkpoint.State
}

// Report summarizes one run. Counter semantics: every input row lands in
// exactly one of AlreadyApplied, InvalidIdentifier, Review, Inserted,
// Updated, SkippedDuplicate, Unchanged, or Failed.
type Report struct {
	RunID  string               `json:"run_id"`
	Source string               `json:"source"`
	Policy model.ConflictPolicy `json:"policy"`

	TotalSeen         int `json:"total_seen"`
	AlreadyApplied    int `json:"already_applied"`
	InvalidIdentifier int `json:"invalid_identifier"`
	Matched           int `json:"matched"`
	MatchedByName     int `json:"matched_by_name"`
	Inserted          int `json:"inserted"`
	Updated           int `json:"updated"`
	SkippedDuplicate  int `json:"skipped_duplicate"`
	Unchanged         int `json:"unchanged"`
	Failed            int `json:"failed"`
	Batches           int `json:"batches"`

	Failures []batch.Failure     `json:"failures,omitempty"`
	Review   []model.ReviewEntry `json:"review,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// Summary renders the operator-facing run summary.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s, policy=%s)\n", r.RunID, r.Source, r.Policy)
	fmt.Fprintf(&b, "  rows seen:          %d\n", r.TotalSeen)
	if r.AlreadyApplied > 0 {
		fmt.Fprintf(&b, "  already applied:    %d\n", r.AlreadyApplied)
	}
	fmt.Fprintf(&b, "  invalid identifier: %d\n", r.InvalidIdentifier)
	fmt.Fprintf(&b, "  matched:            %d (%d by name)\n", r.Matched, r.MatchedByName)
	fmt.Fprintf(&b, "  inserted:           %d\n", r.Inserted)
	fmt.Fprintf(&b, "  updated:            %d\n", r.Updated)
	fmt.Fprintf(&b, "  skipped duplicates: %d\n", r.SkippedDuplicate)
	fmt.Fprintf(&b, "  unchanged:          %d\n", r.Unchanged)
	fmt.Fprintf(&b, "  needs review:       %d\n", len(r.Review))
	fmt.Fprintf(&b, "  failed:             %d (across %d batches)\n", r.Failed, r.Batches)
	fmt.Fprintf(&b, "  elapsed:            %s\n", r.Elapsed.Round(time.Millisecond))
	return b.String()
}

// Pipeline runs reconciliation loads against one store.
type Pipeline struct {
	store store.Store
	opts  Options
}

func New(st store.Store, opts Options) *Pipeline {
	if opts.Scope == nil {
		opts.Scope = resolve.ScopeFull()
	}
	if opts.Policy == "" {
		opts.Policy = model.PolicyMerge
	}
	if opts.Checkpoint == nil {
		opts.Checkpoint = checkpoint.Fresh("")
	}
	return &Pipeline{store: st, opts: opts}
}

// Run processes one source file end to end. Rows are processed strictly in
// file order; a row's outcome may depend on rows before it (a later filing
// can match an insert staged earlier in the same run).
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*Report, error) {
	started := time.Now()
	ck := p.opts.Checkpoint

	report := &Report{
		RunID:  p.runID(ck, src),
		Source: src.Name(),
		Policy: p.opts.Policy,
	}

	log := zap.L().With(zap.String("run_id", report.RunID), zap.String("source", src.Name()))
	if ck.AppliedCount() > 0 {
		log.Info("resuming run",
			zap.Int("already_applied", ck.AppliedCount()),
			zap.Int("last_batch", ck.LastBatch),
		)
	}

	index, err := p.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	applier := batch.New(p.store, ck, p.opts.Batch, p.opts.Policy, p.opts.Scope.Fields())

	var heuristic func(string) bool
	if p.opts.Classifier != nil {
		heuristic = p.opts.Classifier.Classify
	}

	err = src.Rows(ctx, func(cand model.CandidateRecord) error {
		report.TotalSeen++

		ein, err := normalize.EIN(cand.RawEIN)
		if err != nil {
			report.InvalidIdentifier++
			report.Review = append(report.Review, model.ReviewEntry{
				File:   cand.Source.File,
				Row:    cand.Source.Row,
				EIN:    cand.RawEIN,
				Name:   strings.TrimSpace(cand.Name),
				Reason: "malformed identifier",
			})
			return nil
		}
		if ein != "" && ck.IsApplied(ein) {
			report.AlreadyApplied++
			return nil
		}

		nameKey := normalize.NameKey(cand.Name)
		res, err := match.Resolve(ctx, index, ein, nameKey)
		if err != nil {
			return err
		}

		var matched *model.CanonicalRecord
		if res.EIN != "" {
			report.Matched++
			if res.Via == match.ViaName {
				report.MatchedByName++
			}
			matched, err = p.canonical(ctx, applier, res.EIN)
			if err != nil {
				return err
			}
		}

		d := resolve.Decide(resolve.Input{
			Candidate: cand,
			EIN:       ein,
			Website:   normalize.Website(cand.Website),
			Matched:   matched,
			Heuristic: heuristic,
		}, p.opts.Scope, p.opts.Policy)

		switch {
		case d.Op != nil:
			if d.Op.Kind == model.OpInsert {
				index.Add(d.Op.EIN, nameKey)
			}
			return applier.Add(ctx, *d.Op)
		case d.Review != nil:
			report.Review = append(report.Review, *d.Review)
		case d.SkippedDuplicate:
			report.SkippedDuplicate++
		case d.Unchanged:
			report.Unchanged++
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: process %s", src.Name())
	}

	if err := applier.Flush(ctx); err != nil {
		return nil, err
	}

	p.mergeResult(report, applier.Result())
	report.Elapsed = time.Since(started)

	log.Info("run complete",
		zap.Int("seen", report.TotalSeen),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Int("review", len(report.Review)),
	)
	return report, nil
}

func (p *Pipeline) runID(ck *checkpoint.State, src source.Source) string {
	if ck.RunID != "" {
		return ck.RunID
	}
	ck.RunID = uuid.NewString()
	ck.Source = src.Name()
	return ck.RunID
}

// loadIndex preloads the matcher from the registry. The two listings are
// independent reads.
func (p *Pipeline) loadIndex(ctx context.Context) (*match.Index, error) {
	var (
		eins     []string
		nameKeys map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		eins, err = p.store.ListEINs(gctx)
		return err
	})
	g.Go(func() (err error) {
		nameKeys, err = p.store.ListNameKeys(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: preload match index")
	}
	return match.NewIndex(eins, nameKeys), nil
}

// canonical fetches the record a match points at. When the match targets a
// row still staged in the applier, the stored record (or an empty shell for
// a staged insert) is overlaid with the staged fields, so conflict
// resolution sees what the registry will contain once the batch commits.
func (p *Pipeline) canonical(ctx context.Context, applier *batch.Applier, ein string) (*model.CanonicalRecord, error) {
	rec, err := p.store.GetByEIN(ctx, ein)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch matched record")
	}
	if rec == nil {
		rec = &model.CanonicalRecord{EIN: ein}
	}
	if fields := applier.PendingFields(ein); fields != nil {
		overlay(rec, fields)
	}
	return rec, nil
}

// overlay applies staged write fields on top of a canonical record. A
// present nil clears the field, matching a NULL write.
func overlay(rec *model.CanonicalRecord, fields map[string]any) {
	setStr := func(dst **string, key string) {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok {
				*dst = &s
			} else {
				*dst = nil
			}
		}
	}
	if v, ok := fields[model.FieldName]; ok {
		if s, ok := v.(string); ok {
			rec.Name = s
		}
	}
	setStr(&rec.Website, model.FieldWebsite)
	setStr(&rec.Contact.Street, model.FieldStreet)
	setStr(&rec.Contact.City, model.FieldCity)
	setStr(&rec.Contact.State, model.FieldState)
	setStr(&rec.Contact.Zip, model.FieldZip)
	setStr(&rec.Contact.Phone, model.FieldPhone)
	setStr(&rec.TaxStatus, model.FieldTaxStatus)
	setStr(&rec.OrganizationType, model.FieldOrganizationType)
	if v, ok := fields[model.FieldRevenue]; ok {
		if f, ok := v.(float64); ok {
			rec.AnnualRevenue = &f
		} else {
			rec.AnnualRevenue = nil
		}
	}
	if v, ok := fields[model.FieldPublicFacing]; ok {
		if b, ok := v.(bool); ok {
			rec.PublicFacing = &b
		} else {
			rec.PublicFacing = nil
		}
	}
}

func (p *Pipeline) mergeResult(report *Report, res batch.Result) {
	report.Inserted = res.Inserted
	report.Updated = res.Updated
	report.SkippedDuplicate += res.Skipped
	report.Failed = res.Failed
	report.Batches = res.Batches
	report.Failures = res.Failures
}

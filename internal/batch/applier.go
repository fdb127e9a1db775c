// Package batch accumulates write operations and applies them to the store
// in fixed-size, rate-limited, retried batches. Committed batches are
// recorded in the run checkpoint so an interrupted load resumes where it
// stopped instead of re-applying rows.
package batch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/charity-atlas/registry-cli/internal/checkpoint"
	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/resilience"
	"github.com/charity-atlas/registry-cli/internal/store"
)

// Config tunes batching, pacing, and retry behavior.
type Config struct {
	// BatchSize is the number of distinct registry rows per submission.
	BatchSize int
	// Interval is the minimum spacing between batch submissions.
	Interval time.Duration
	// MaxRetries is the total attempt budget per batch, including the
	// first attempt.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	return c
}

// Failure records one batch (or row) that could not be applied. Sources
// point back at the input rows so a failed batch can be replayed from the
// original file.
type Failure struct {
	BatchIndex int            `json:"batch_index"`
	EINs       []string       `json:"eins"`
	Sources    []model.RowRef `json:"sources"`
	Err        string         `json:"error"`
}

// Result tallies per-row outcomes across all committed batches.
type Result struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
	Batches  int
	Failures []Failure
}

type pendingOp struct {
	op      model.WriteOp
	sources []model.RowRef
}

// Applier collects operations and flushes them in order. It is not safe for
// concurrent use; the pipeline feeds it from a single goroutine.
type Applier struct {
	store      store.Store
	ck         *checkpoint.State
	cfg        Config
	policy     model.ConflictPolicy
	updateCols []string
	limiter    *rate.Limiter

	pending map[string]*pendingOp
	order   []string // EINs in first-seen order
	batch   int
	res     Result
}

// New builds an Applier. The checkpoint may be a fresh state; it is marked
// and saved after every committed batch. batchIndex numbering continues
// from the checkpoint on resume.
func New(st store.Store, ck *checkpoint.State, cfg Config, policy model.ConflictPolicy, updateCols []string) *Applier {
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}

	return &Applier{
		store:      st,
		ck:         ck,
		cfg:        cfg,
		policy:     policy,
		updateCols: updateCols,
		limiter:    limiter,
		pending:    map[string]*pendingOp{},
		batch:      ck.LastBatch + 1,
	}
}

// Add stages one operation. Operations targeting an EIN already pending in
// the current batch are merged field-wise, later values winning, so a batch
// never carries two writes for one row.
func (a *Applier) Add(ctx context.Context, op model.WriteOp) error {
	if existing, ok := a.pending[op.EIN]; ok {
		for k, v := range op.Fields {
			existing.op.Fields[k] = v
		}
		existing.sources = append(existing.sources, op.Source)
		return nil
	}

	cp := op
	cp.Fields = make(map[string]any, len(op.Fields))
	for k, v := range op.Fields {
		cp.Fields[k] = v
	}
	a.pending[op.EIN] = &pendingOp{op: cp, sources: []model.RowRef{op.Source}}
	a.order = append(a.order, op.EIN)

	if len(a.order) >= a.cfg.BatchSize {
		return a.Flush(ctx)
	}
	return nil
}

// PendingFields returns the staged field map for an EIN in the current
// batch, or nil. The pipeline consults it when a later row matches a row
// that has not reached the store yet.
func (a *Applier) PendingFields(ein string) map[string]any {
	if p, ok := a.pending[ein]; ok {
		return p.op.Fields
	}
	return nil
}

// PendingKind reports the staged operation kind for an EIN, if any.
func (a *Applier) PendingKind(ein string) (model.OpKind, bool) {
	if p, ok := a.pending[ein]; ok {
		return p.op.Kind, true
	}
	return 0, false
}

// Flush submits the current batch. A batch that exhausts its retry budget
// is recorded as a failure and the load continues; only a context
// cancellation or a checkpoint write error stops the run.
func (a *Applier) Flush(ctx context.Context) error {
	if len(a.order) == 0 {
		return nil
	}

	ops := make([]model.WriteOp, 0, len(a.order))
	einSources := make(map[string][]model.RowRef, len(a.order))
	var sources []model.RowRef
	for _, ein := range a.order {
		p := a.pending[ein]
		ops = append(ops, p.op)
		einSources[ein] = p.sources
		sources = append(sources, p.sources...)
	}
	eins := a.order
	a.pending = map[string]*pendingOp{}
	a.order = nil

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "batch: pacing wait")
		}
	}

	idx := a.batch
	a.batch++
	a.res.Batches++

	log := zap.L().With(zap.Int("batch", idx), zap.Int("rows", len(ops)))
	log.Debug("submitting batch")

	results, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: a.cfg.MaxRetries,
		Backoff:     a.cfg.Backoff,
		OnRetry:     resilience.RetryLogger("apply batch"),
	}, func(ctx context.Context) ([]store.RowResult, error) {
		return a.store.BulkWrite(ctx, ops, a.policy, a.updateCols)
	})
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(err, "batch: apply")
		}
		log.Error("batch failed after retries", zap.Error(err))
		a.res.Failed += len(ops)
		a.res.Failures = append(a.res.Failures, Failure{
			BatchIndex: idx,
			EINs:       eins,
			Sources:    sources,
			Err:        err.Error(),
		})
		return nil
	}

	applied := make([]string, 0, len(results))
	for _, r := range results {
		switch r.Status {
		case store.RowInserted:
			a.res.Inserted++
		case store.RowUpdated:
			a.res.Updated++
		case store.RowSkipped:
			a.res.Skipped++
		case store.RowFailed:
			a.res.Failed++
			a.res.Failures = append(a.res.Failures, Failure{
				BatchIndex: idx,
				EINs:       []string{r.EIN},
				Sources:    einSources[r.EIN],
				Err:        r.Err,
			})
			continue
		}
		applied = append(applied, r.EIN)
	}

	a.ck.MarkApplied(idx, applied)
	if err := a.ck.Save(); err != nil {
		return eris.Wrap(err, "batch: save checkpoint")
	}

	log.Info("batch committed",
		zap.Int("applied", len(applied)),
		zap.Int("failed", len(results)-len(applied)),
	)
	return nil
}

// Result returns the tallies accumulated so far. Call after the final
// Flush.
func (a *Applier) Result() Result {
	return a.res
}

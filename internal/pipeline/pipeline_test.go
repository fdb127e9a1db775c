package pipeline

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/charity-atlas/registry-cli/internal/batch"
	"github.com/charity-atlas/registry-cli/internal/checkpoint"
	"github.com/charity-atlas/registry-cli/internal/classify"
	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/store"
)

// sliceSource feeds in-memory candidates, standing in for a parsed file.
type sliceSource struct {
	name string
	recs []model.CandidateRecord
}

func (s *sliceSource) Name() string { return s.name }

func (s *sliceSource) Rows(_ context.Context, fn func(model.CandidateRecord) error) error {
	for _, rec := range s.recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st store.Store, ops ...model.WriteOp) {
	t.Helper()
	results, err := st.BulkWrite(context.Background(), ops, model.PolicyInsertOnly, nil)
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, store.RowInserted, r.Status)
	}
}

func cand(rawEIN, name string, row int) model.CandidateRecord {
	return model.CandidateRecord{
		RawEIN: rawEIN,
		Name:   name,
		Source: model.RowRef{File: "orgs.csv", Row: row},
	}
}

func TestPipeline_Run_EndToEnd(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, model.WriteOp{
		Kind: model.OpInsert,
		EIN:  "000000001",
		Fields: map[string]any{
			model.FieldName:    "Existing Trust",
			model.FieldWebsite: "https://old.org",
		},
	})

	// Row order matters: row 3 carries the same EIN as row 2's staged
	// insert and must merge into it before the batch commits.
	rows := []model.CandidateRecord{
		func() model.CandidateRecord {
			c := cand("12-3456789", "Community Food Bank", 2)
			c.Website = "WWW.FoodBank.ORG/about"
			c.City = "Springfield"
			return c
		}(),
		func() model.CandidateRecord {
			c := cand("123456789", "Community Food Bank", 3)
			c.PublicFacing = model.TriFalse
			return c
		}(),
		func() model.CandidateRecord {
			c := cand("", "existing  trust", 4) // name match, no identifier
			c.Website = "https://new.org"
			return c
		}(),
		cand("12345678901", "Too Many Digits Org", 5), // malformed identifier
		cand("", "", 6),                               // nothing to match on
	}

	p := New(st, Options{
		Policy:     model.PolicyMerge,
		Classifier: classify.New(classify.DefaultTables()),
	})
	report, err := p.Run(context.Background(), &sliceSource{name: "orgs.csv", recs: rows})
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalSeen)
	assert.Equal(t, 1, report.InvalidIdentifier)
	assert.Equal(t, 2, report.Matched) // staged insert + stored name match
	assert.Equal(t, 1, report.MatchedByName)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Review, 2)
	assert.Equal(t, "malformed identifier", report.Review[0].Reason)
	assert.Equal(t, 5, report.Review[0].Row)
	assert.NotEmpty(t, report.RunID)

	// The insert carries the normalized website and the explicit
	// classification from row 3, which overrides the keyword heuristic.
	rec, err := st.GetByEIN(context.Background(), "123456789")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Community Food Bank", rec.Name)
	require.NotNil(t, rec.Website)
	assert.Equal(t, "https://foodbank.org", *rec.Website)
	require.NotNil(t, rec.PublicFacing)
	assert.False(t, *rec.PublicFacing)
	require.NotNil(t, rec.Contact.City)
	assert.Equal(t, "Springfield", *rec.Contact.City)

	// The name-matched row updated the stored record's website only; the
	// stored name casing is untouched.
	existing, err := st.GetByEIN(context.Background(), "000000001")
	require.NoError(t, err)
	require.NotNil(t, existing.Website)
	assert.Equal(t, "https://new.org", *existing.Website)
	assert.Equal(t, "Existing Trust", existing.Name)
}

func TestPipeline_Run_InsertOnlySkipsDuplicates(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, model.WriteOp{
		Kind:   model.OpInsert,
		EIN:    "000000001",
		Fields: map[string]any{model.FieldName: "Existing Org"},
	})

	rows := []model.CandidateRecord{
		cand("000000001", "Existing Org Renamed", 2),
		cand("000000002", "Brand New Org", 3),
	}

	p := New(st, Options{Policy: model.PolicyInsertOnly})
	report, err := p.Run(context.Background(), &sliceSource{name: "orgs.csv", recs: rows})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedDuplicate)
	assert.Equal(t, 1, report.Inserted)

	rec, err := st.GetByEIN(context.Background(), "000000001")
	require.NoError(t, err)
	assert.Equal(t, "Existing Org", rec.Name)
}

func TestPipeline_Run_UnchangedRerunProducesNoChurn(t *testing.T) {
	st := newTestStore(t)

	rows := []model.CandidateRecord{
		func() model.CandidateRecord {
			c := cand("000000001", "Alpha Museum", 2)
			c.Website = "alpha.org"
			return c
		}(),
	}
	src := &sliceSource{name: "orgs.csv", recs: rows}

	p := New(st, Options{Policy: model.PolicyMerge})
	first, err := p.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := New(st, Options{Policy: model.PolicyMerge}).Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
}

func TestPipeline_Run_ResumeSkipsAppliedRows(t *testing.T) {
	st := newTestStore(t)
	ckPath := filepath.Join(t.TempDir(), "state.json")

	rows := []model.CandidateRecord{
		cand("000000001", "Alpha Org", 2),
		cand("000000002", "Beta Org", 3),
	}
	src := &sliceSource{name: "orgs.csv", recs: rows}

	ck, err := checkpoint.Load(ckPath)
	require.NoError(t, err)
	first, err := New(st, Options{Checkpoint: ck, Batch: batch.Config{BatchSize: 1}}).
		Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 2, first.Batches)

	// A rerun with the saved checkpoint replays the file but applies
	// nothing, and keeps the original run id.
	resumed, err := checkpoint.Load(ckPath)
	require.NoError(t, err)
	second, err := New(st, Options{Checkpoint: resumed}).Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AlreadyApplied)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, first.RunID, second.RunID)
}

func TestClassifyStored(t *testing.T) {
	st := newTestStore(t)
	seed(t, st,
		model.WriteOp{Kind: model.OpInsert, EIN: "000000001",
			Fields: map[string]any{model.FieldName: "Springfield Food Bank"}},
		model.WriteOp{Kind: model.OpInsert, EIN: "000000002",
			Fields: map[string]any{model.FieldName: "Acme Employee Benefit Plan"}},
		model.WriteOp{Kind: model.OpInsert, EIN: "000000003",
			Fields: map[string]any{
				model.FieldName:         "Already Done Org",
				model.FieldPublicFacing: false,
			}},
	)

	report, err := ClassifyStored(context.Background(), st,
		classify.New(classify.DefaultTables()), batch.Config{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Result.Updated)

	foodBank, err := st.GetByEIN(context.Background(), "000000001")
	require.NoError(t, err)
	require.NotNil(t, foodBank.PublicFacing)
	assert.True(t, *foodBank.PublicFacing)

	benefitPlan, err := st.GetByEIN(context.Background(), "000000002")
	require.NoError(t, err)
	require.NotNil(t, benefitPlan.PublicFacing)
	assert.False(t, *benefitPlan.PublicFacing)

	// Explicitly classified records are never revisited.
	done, err := st.GetByEIN(context.Background(), "000000003")
	require.NoError(t, err)
	assert.False(t, *done.PublicFacing)
}

func TestRepairWebsites(t *testing.T) {
	st := newTestStore(t)
	seed(t, st,
		model.WriteOp{Kind: model.OpInsert, EIN: "000000001",
			Fields: map[string]any{
				model.FieldName:    "Alpha Org",
				model.FieldWebsite: "WWW.Alpha.ORG/contact",
			}},
		model.WriteOp{Kind: model.OpInsert, EIN: "000000002",
			Fields: map[string]any{
				model.FieldName:    "Beta Org",
				model.FieldWebsite: "N/A",
			}},
		model.WriteOp{Kind: model.OpInsert, EIN: "000000003",
			Fields: map[string]any{
				model.FieldName:    "Gamma Org",
				model.FieldWebsite: "https://gamma.org",
			}},
	)

	report, err := RepairWebsites(context.Background(), st, batch.Config{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Staged)
	assert.Equal(t, 2, report.Result.Updated)

	alpha, err := st.GetByEIN(context.Background(), "000000001")
	require.NoError(t, err)
	require.NotNil(t, alpha.Website)
	assert.Equal(t, "https://alpha.org", *alpha.Website)

	beta, err := st.GetByEIN(context.Background(), "000000002")
	require.NoError(t, err)
	assert.Nil(t, beta.Website)

	gamma, err := st.GetByEIN(context.Background(), "000000003")
	require.NoError(t, err)
	assert.Equal(t, "https://gamma.org", *gamma.Website)
}

// Registries migrated from older schemas carry website = '' rows that
// predate the non-empty check. The repair pass must null them, not skip
// them.
func TestRepairWebsitesClearsLegacyEmptyStrings(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = legacy.ExecContext(ctx, `
CREATE TABLE nonprofits (
	ein               TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	name_key          TEXT NOT NULL,
	website           TEXT,
	street            TEXT,
	city              TEXT,
	state             TEXT,
	zip               TEXT,
	phone             TEXT,
	annual_revenue    REAL,
	public_facing     BOOLEAN,
	tax_status        TEXT,
	organization_type TEXT,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
)`)
	require.NoError(t, err)
	now := time.Now().UTC()
	_, err = legacy.ExecContext(ctx,
		`INSERT INTO nonprofits (ein, name, name_key, website, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"000000009", "Legacy Org", "legacy org", "", now, now)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	st, err := store.NewSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	report, err := RepairWebsites(ctx, st, batch.Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Staged)
	assert.Equal(t, 1, report.Result.Updated)

	rec, err := st.GetByEIN(ctx, "000000009")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.Website)
}

// interruptingSource cancels the run partway through the file, standing in
// for an operator sending SIGINT mid-load.
type interruptingSource struct {
	sliceSource
	cancel context.CancelFunc
	after  int
}

func (s *interruptingSource) Rows(ctx context.Context, fn func(model.CandidateRecord) error) error {
	for i, rec := range s.recs {
		if i == s.after {
			s.cancel()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func TestRunInterruptPersistsProgressForResume(t *testing.T) {
	st := newTestStore(t)
	ckPath := filepath.Join(t.TempDir(), "orgs.state.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &interruptingSource{
		sliceSource: sliceSource{name: "orgs.csv", recs: []model.CandidateRecord{
			cand("11-1111111", "Alpha Food Bank", 2),
			cand("22-2222222", "Beta Museum", 3),
		}},
		cancel: cancel,
		after:  1,
	}

	p := New(st, Options{
		Batch:      batch.Config{BatchSize: 1},
		Checkpoint: checkpoint.Fresh(ckPath),
	})
	_, err := p.Run(ctx, src)
	require.ErrorIs(t, err, context.Canceled)

	// The batch that finished before the interrupt is committed and
	// checkpointed.
	rec, err := st.GetByEIN(context.Background(), "111111111")
	require.NoError(t, err)
	require.NotNil(t, rec)

	ck, err := checkpoint.Load(ckPath)
	require.NoError(t, err)
	assert.True(t, ck.IsApplied("111111111"))

	report, err := New(st, Options{
		Batch:      batch.Config{BatchSize: 1},
		Checkpoint: ck,
	}).Run(context.Background(), &src.sliceSource)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlreadyApplied)
	assert.Equal(t, 1, report.Inserted)
}

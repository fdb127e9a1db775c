package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charity-atlas/registry-cli/internal/model"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func heuristicTrue(string) bool  { return true }
func heuristicFalse(string) bool { return false }

func TestDecideInsert(t *testing.T) {
	rev := 1200.0
	in := Input{
		Candidate: model.CandidateRecord{
			Name:    "Example Foundation",
			Street:  "1 Main St",
			City:    "Springfield",
			State:   "IL",
			Zip:     "62701-1234",
			Revenue: &rev,
			Source:  model.RowRef{File: "a.csv", Row: 3},
		},
		EIN:       "123456789",
		Website:   "https://example.org",
		Heuristic: heuristicTrue,
	}

	d := Decide(in, ScopeFull(), model.PolicyMerge)
	require.NotNil(t, d.Op)
	assert.Equal(t, model.OpInsert, d.Op.Kind)
	assert.Equal(t, "123456789", d.Op.EIN)
	assert.Equal(t, "Example Foundation", d.Op.Fields[model.FieldName])
	assert.Equal(t, "https://example.org", d.Op.Fields[model.FieldWebsite])
	assert.Equal(t, "62701-1234", d.Op.Fields[model.FieldZip])
	assert.Equal(t, 1200.0, d.Op.Fields[model.FieldRevenue])
	assert.Equal(t, true, d.Op.Fields[model.FieldPublicFacing])
	assert.Equal(t, model.RowRef{File: "a.csv", Row: 3}, d.Op.Source)
}

func TestDecideInsertOmitsAbsentFields(t *testing.T) {
	in := Input{
		Candidate: model.CandidateRecord{Name: "Example Foundation"},
		EIN:       "123456789",
	}
	d := Decide(in, ScopeFull(), model.PolicyMerge)
	require.NotNil(t, d.Op)
	_, hasWebsite := d.Op.Fields[model.FieldWebsite]
	assert.False(t, hasWebsite, "absent website must stay unset, never empty string")
	_, hasStreet := d.Op.Fields[model.FieldStreet]
	assert.False(t, hasStreet)
}

func TestDecideReviewRouting(t *testing.T) {
	tests := []struct {
		name   string
		in     Input
		reason string
	}{
		{
			"no identifier no match",
			Input{Candidate: model.CandidateRecord{Name: "Teamsters Local 100 Trust Fund"}},
			"no usable identifier",
		},
		{
			"identifier but no name",
			Input{Candidate: model.CandidateRecord{}, EIN: "123456789"},
			"missing organization name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.in, ScopeFull(), model.PolicyMerge)
			require.NotNil(t, d.Review)
			assert.Nil(t, d.Op)
			assert.Contains(t, d.Review.Reason, tt.reason)
		})
	}
}

func TestDecideInsertOnlySkipsMatched(t *testing.T) {
	in := Input{
		Candidate: model.CandidateRecord{Name: "Example Foundation"},
		EIN:       "123456789",
		Matched:   &model.CanonicalRecord{EIN: "123456789", Name: "Example Foundation"},
	}
	d := Decide(in, ScopeFull(), model.PolicyInsertOnly)
	assert.True(t, d.SkippedDuplicate)
	assert.Nil(t, d.Op)

	d = Decide(in, ScopeFull(), model.PolicyIgnoreDuplicate)
	assert.True(t, d.SkippedDuplicate)
}

func TestDecideMergeScopesFields(t *testing.T) {
	in := Input{
		Candidate: model.CandidateRecord{
			Name:   "Example Foundation",
			Street: "99 New Ave",
			City:   "Springfield",
		},
		EIN:     "123456789",
		Website: "https://changed.example.org",
		Matched: &model.CanonicalRecord{
			EIN:     "123456789",
			Name:    "Example Foundation",
			Website: strPtr("https://example.org"),
			Contact: model.Contact{City: strPtr("SPRINGFIELD")},
		},
	}

	// Address scope: website must not be touched even though it changed.
	d := Decide(in, ScopeAddress(), model.PolicyMerge)
	require.NotNil(t, d.Op)
	assert.Equal(t, model.OpUpdate, d.Op.Kind)
	assert.Equal(t, "99 New Ave", d.Op.Fields[model.FieldStreet])
	_, hasWebsite := d.Op.Fields[model.FieldWebsite]
	assert.False(t, hasWebsite)

	// City compares equal (case-insensitive), so stored casing is preserved.
	_, hasCity := d.Op.Fields[model.FieldCity]
	assert.False(t, hasCity)
}

func TestDecideMergeUnchanged(t *testing.T) {
	in := Input{
		Candidate: model.CandidateRecord{Name: "Example Foundation", Zip: "62701-1234"},
		EIN:       "123456789",
		Website:   "https://example.org",
		Matched: &model.CanonicalRecord{
			EIN:     "123456789",
			Name:    "EXAMPLE FOUNDATION",
			Website: strPtr("https://example.org"),
			Contact: model.Contact{Zip: strPtr("62701")},
		},
	}
	d := Decide(in, ScopeFull(), model.PolicyMerge)
	assert.True(t, d.Unchanged)
	assert.Nil(t, d.Op)
}

func TestClassificationRules(t *testing.T) {
	t.Run("explicit overrides stored", func(t *testing.T) {
		in := Input{
			Candidate: model.CandidateRecord{Name: "Example Foundation", PublicFacing: model.TriFalse},
			EIN:       "123456789",
			Matched: &model.CanonicalRecord{
				EIN: "123456789", Name: "Example Foundation", PublicFacing: boolPtr(true),
			},
			Heuristic: heuristicTrue,
		}
		d := Decide(in, ScopeClassification(), model.PolicyMerge)
		require.NotNil(t, d.Op)
		assert.Equal(t, false, d.Op.Fields[model.FieldPublicFacing])
	})

	t.Run("heuristic never overwrites stored", func(t *testing.T) {
		in := Input{
			Candidate: model.CandidateRecord{Name: "Example Pension Plan"},
			EIN:       "123456789",
			Matched: &model.CanonicalRecord{
				EIN: "123456789", Name: "Example Pension Plan", PublicFacing: boolPtr(true),
			},
			Heuristic: heuristicFalse,
		}
		d := Decide(in, ScopeClassification(), model.PolicyMerge)
		assert.True(t, d.Unchanged)
	})

	t.Run("heuristic fills stored null", func(t *testing.T) {
		in := Input{
			Candidate: model.CandidateRecord{Name: "Example Pension Plan"},
			EIN:       "123456789",
			Matched:   &model.CanonicalRecord{EIN: "123456789", Name: "Example Pension Plan"},
			Heuristic: heuristicFalse,
		}
		d := Decide(in, ScopeClassification(), model.PolicyMerge)
		require.NotNil(t, d.Op)
		assert.Equal(t, false, d.Op.Fields[model.FieldPublicFacing])
	})
}

func TestParseScope(t *testing.T) {
	for _, name := range []string{"full", "address", "classification", "website"} {
		s, ok := ParseScope(name)
		assert.True(t, ok, name)
		assert.NotEmpty(t, s)
	}
	_, ok := ParseScope("bogus")
	assert.False(t, ok)
}

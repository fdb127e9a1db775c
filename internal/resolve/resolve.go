// Package resolve decides, for a matched or unmatched candidate, which
// fields get written to the registry and under what conflict policy.
package resolve

import (
	"sort"
	"strings"

	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/normalize"
)

// Scope is the explicit allow-list of fields an operation is permitted to
// touch on update. Fields outside the scope are never written, even when the
// candidate carries them: one pass's partial data must not clobber a field
// another source populated. Inserts always carry every provided field.
type Scope map[string]struct{}

func newScope(fields ...string) Scope {
	s := make(Scope, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether a field is inside the scope.
func (s Scope) Has(field string) bool {
	_, ok := s[field]
	return ok
}

// Fields returns the scoped field names in stable order, for building
// column lists.
func (s Scope) Fields() []string {
	fields := make([]string, 0, len(s))
	for f := range s {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ScopeFull covers every mutable field: a general bulk-load run.
func ScopeFull() Scope {
	return newScope(
		model.FieldName, model.FieldWebsite, model.FieldStreet,
		model.FieldCity, model.FieldState, model.FieldZip, model.FieldPhone,
		model.FieldRevenue, model.FieldPublicFacing, model.FieldTaxStatus,
		model.FieldOrganizationType,
	)
}

// ScopeAddress covers only the contact sub-record: an address-fix pass.
func ScopeAddress() Scope {
	return newScope(
		model.FieldStreet, model.FieldCity, model.FieldState,
		model.FieldZip, model.FieldPhone,
	)
}

// ScopeClassification covers the classification pass fields.
func ScopeClassification() Scope {
	return newScope(model.FieldPublicFacing, model.FieldWebsite)
}

// ScopeWebsite covers only the website column: the website repair pass.
func ScopeWebsite() Scope {
	return newScope(model.FieldWebsite)
}

// ParseScope maps a run flag to a named scope.
func ParseScope(name string) (Scope, bool) {
	switch name {
	case "full":
		return ScopeFull(), true
	case "address":
		return ScopeAddress(), true
	case "classification":
		return ScopeClassification(), true
	case "website":
		return ScopeWebsite(), true
	default:
		return nil, false
	}
}

// Input is a candidate after normalization and matching.
type Input struct {
	Candidate model.CandidateRecord
	EIN       string // normalized identifier, "" when absent
	Website   string // normalized website, "" when absent
	Matched   *model.CanonicalRecord

	// Heuristic supplies the keyword classification for names without an
	// explicit flag. Nil disables heuristic classification.
	Heuristic func(name string) bool
}

// Decision is the resolver's verdict for one candidate. Exactly one of Op,
// Review, SkippedDuplicate, or Unchanged describes the outcome.
type Decision struct {
	Op               *model.WriteOp
	Review           *model.ReviewEntry
	SkippedDuplicate bool
	Unchanged        bool
}

// Decide produces the write (or review entry) for a candidate under the
// given scope and policy. updated_at is stamped by the store at write time,
// not here.
func Decide(in Input, scope Scope, policy model.ConflictPolicy) Decision {
	if in.Matched == nil {
		return decideUnmatched(in)
	}

	switch policy {
	case model.PolicyInsertOnly, model.PolicyIgnoreDuplicate:
		// Not an error: neither policy ever updates an existing row. The
		// conflict is surfaced in the skipped-duplicates counter.
		return Decision{SkippedDuplicate: true}
	}

	fields := updateFields(in, scope)
	if len(fields) == 0 {
		return Decision{Unchanged: true}
	}
	return Decision{Op: &model.WriteOp{
		Kind:   model.OpUpdate,
		EIN:    in.Matched.EIN,
		Fields: fields,
		Source: in.Candidate.Source,
	}}
}

func decideUnmatched(in Input) Decision {
	name := strings.TrimSpace(in.Candidate.Name)
	if in.EIN == "" {
		return review(in, "no usable identifier and no matching name")
	}
	if name == "" {
		return review(in, "missing organization name")
	}

	fields := map[string]any{model.FieldName: name}
	if in.Website != "" {
		fields[model.FieldWebsite] = in.Website
	}
	setIfPresent(fields, model.FieldStreet, in.Candidate.Street)
	setIfPresent(fields, model.FieldCity, in.Candidate.City)
	setIfPresent(fields, model.FieldState, in.Candidate.State)
	setIfPresent(fields, model.FieldZip, in.Candidate.Zip)
	setIfPresent(fields, model.FieldPhone, in.Candidate.Phone)
	setIfPresent(fields, model.FieldTaxStatus, in.Candidate.TaxStatus)
	setIfPresent(fields, model.FieldOrganizationType, in.Candidate.OrgType)
	if in.Candidate.Revenue != nil && *in.Candidate.Revenue >= 0 {
		fields[model.FieldRevenue] = *in.Candidate.Revenue
	}
	if v, ok := classification(in, nil); ok {
		fields[model.FieldPublicFacing] = v
	}

	return Decision{Op: &model.WriteOp{
		Kind:   model.OpInsert,
		EIN:    in.EIN,
		Fields: fields,
		Source: in.Candidate.Source,
	}}
}

// updateFields builds the scoped field set for a merge update. Values whose
// comparison form equals the stored one are omitted, so the stored casing is
// preserved and an identical re-run produces no churn.
func updateFields(in Input, scope Scope) map[string]any {
	c := in.Candidate
	m := in.Matched
	fields := map[string]any{}

	if scope.Has(model.FieldName) {
		if name := strings.TrimSpace(c.Name); name != "" && normalize.NameKey(name) != normalize.NameKey(m.Name) {
			fields[model.FieldName] = name
		}
	}
	if scope.Has(model.FieldWebsite) && in.Website != "" && !ptrEquals(m.Website, in.Website) {
		fields[model.FieldWebsite] = in.Website
	}
	if scope.Has(model.FieldStreet) {
		setIfChanged(fields, model.FieldStreet, c.Street, m.Contact.Street, normalize.AddressKey)
	}
	if scope.Has(model.FieldCity) {
		setIfChanged(fields, model.FieldCity, c.City, m.Contact.City, normalize.AddressKey)
	}
	if scope.Has(model.FieldState) {
		setIfChanged(fields, model.FieldState, c.State, m.Contact.State, normalize.AddressKey)
	}
	if scope.Has(model.FieldZip) {
		setIfChanged(fields, model.FieldZip, c.Zip, m.Contact.Zip, normalize.ZipBase)
	}
	if scope.Has(model.FieldPhone) {
		setIfChanged(fields, model.FieldPhone, c.Phone, m.Contact.Phone, normalize.AddressKey)
	}
	if scope.Has(model.FieldTaxStatus) {
		setIfChanged(fields, model.FieldTaxStatus, c.TaxStatus, m.TaxStatus, strings.TrimSpace)
	}
	if scope.Has(model.FieldOrganizationType) {
		setIfChanged(fields, model.FieldOrganizationType, c.OrgType, m.OrganizationType, strings.TrimSpace)
	}
	if scope.Has(model.FieldRevenue) && c.Revenue != nil && *c.Revenue >= 0 {
		if m.AnnualRevenue == nil || *m.AnnualRevenue != *c.Revenue {
			fields[model.FieldRevenue] = *c.Revenue
		}
	}
	if scope.Has(model.FieldPublicFacing) {
		if v, ok := classification(in, m.PublicFacing); ok {
			fields[model.FieldPublicFacing] = v
		}
	}

	return fields
}

// classification returns the public-facing value to write, if any. An
// explicit flag on the candidate always wins. The heuristic only fills a
// gap: it never runs when the stored record already has an authoritative
// value.
func classification(in Input, stored *bool) (bool, bool) {
	switch in.Candidate.PublicFacing {
	case model.TriTrue:
		if stored != nil && *stored {
			return false, false
		}
		return true, true
	case model.TriFalse:
		if stored != nil && !*stored {
			return false, false
		}
		return false, true
	}
	if in.Heuristic == nil || stored != nil {
		return false, false
	}
	return in.Heuristic(in.Candidate.Name), true
}

func review(in Input, reason string) Decision {
	return Decision{Review: &model.ReviewEntry{
		File:   in.Candidate.Source.File,
		Row:    in.Candidate.Source.Row,
		EIN:    in.EIN,
		Name:   strings.TrimSpace(in.Candidate.Name),
		Reason: reason,
	}}
}

func setIfPresent(fields map[string]any, key, val string) {
	if v := strings.TrimSpace(val); v != "" {
		fields[key] = v
	}
}

// setIfChanged writes the candidate value only when its comparison form
// differs from the stored one.
func setIfChanged(fields map[string]any, key, candidate string, stored *string, keyFn func(string) string) {
	v := strings.TrimSpace(candidate)
	if v == "" {
		return
	}
	if stored != nil && keyFn(*stored) == keyFn(v) {
		return
	}
	fields[key] = v
}

func ptrEquals(p *string, v string) bool {
	return p != nil && *p == v
}

package model

import (
	"strings"
	"time"
)

// TriState represents an optional boolean field on a source row: explicitly
// true, explicitly false, or not supplied.
type TriState int

const (
	TriUnknown TriState = iota
	TriTrue
	TriFalse
)

// ParseTriState interprets a raw source value ("true"/"false", any casing).
// Anything else is TriUnknown.
func ParseTriState(s string) TriState {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), "true"):
		return TriTrue
	case strings.EqualFold(strings.TrimSpace(s), "false"):
		return TriFalse
	default:
		return TriUnknown
	}
}

// RowRef identifies where a candidate came from, for failure replay and the
// review list.
type RowRef struct {
	File string `json:"file"`
	Row  int    `json:"row"`
}

// CandidateRecord is one unvalidated row from an external source. It is
// consumed by the reconciliation pipeline and never persisted as-is.
type CandidateRecord struct {
	RawEIN       string
	Name         string
	Website      string
	Street       string
	City         string
	State        string
	Zip          string
	Phone        string
	Revenue      *float64
	PublicFacing TriState
	TaxStatus    string
	OrgType      string

	Source RowRef
}

// Contact is the structured address sub-record on a canonical record.
// All fields are nullable.
type Contact struct {
	Street *string `json:"street,omitempty"`
	City   *string `json:"city,omitempty"`
	State  *string `json:"state,omitempty"`
	Zip    *string `json:"zip,omitempty"`
	Phone  *string `json:"phone,omitempty"`
}

// CanonicalRecord is the authoritative stored representation of a nonprofit,
// keyed by its 9-digit EIN. The EIN is immutable once assigned.
type CanonicalRecord struct {
	EIN              string   `json:"ein"`
	Name             string   `json:"name"`
	Website          *string  `json:"website,omitempty"`
	Contact          Contact  `json:"contact"`
	AnnualRevenue    *float64 `json:"annual_revenue,omitempty"`
	PublicFacing     *bool    `json:"public_facing,omitempty"`
	TaxStatus        *string  `json:"tax_status,omitempty"`
	OrganizationType *string  `json:"organization_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReviewEntry is a candidate that could not be reconciled automatically and
// needs manual resolution. Flat so it encodes directly to the review CSV.
type ReviewEntry struct {
	File   string `json:"file" csv:"file"`
	Row    int    `json:"row" csv:"row"`
	EIN    string `json:"ein,omitempty" csv:"ein"`
	Name   string `json:"name" csv:"name"`
	Reason string `json:"reason" csv:"reason"`
}

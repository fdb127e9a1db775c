// Package source reads candidate records from bulk input files. Readers
// stream rows in file order and are restartable, so a resumed load can
// replay the file and skip already-applied rows.
package source

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/charity-atlas/registry-cli/internal/model"
)

// Source streams candidate rows from one input file.
type Source interface {
	// Name returns the file name used in row references.
	Name() string
	// Rows calls fn for every data row in file order. A non-nil error
	// from fn stops the scan and is returned as-is.
	Rows(ctx context.Context, fn func(model.CandidateRecord) error) error
}

// Open picks a reader by format ("csv", "xlsx") or, when format is empty,
// by file extension.
func Open(path, format string) (Source, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "csv":
		return NewCSV(path), nil
	case "xlsx":
		return NewXLSX(path), nil
	default:
		return nil, eris.Errorf("source: unsupported format %q", format)
	}
}

// columnAliases maps normalized header names to canonical field names.
// Bulk exports name columns inconsistently; anything not listed here is
// carried through unchanged and ignored if unknown.
var columnAliases = map[string]string{
	"ein":               "ein",
	"tax_id":            "ein",
	"employer_id":       "ein",
	"name":              "name",
	"organization_name": "name",
	"org_name":          "name",
	"legal_name":        "name",
	"website":           "website",
	"website_url":       "website",
	"url":               "website",
	"street":            "street",
	"address":           "street",
	"street_address":    "street",
	"address_line_1":    "street",
	"city":              "city",
	"state":             "state",
	"zip":               "zip",
	"zip_code":          "zip",
	"postal_code":       "zip",
	"phone":             "phone",
	"phone_number":      "phone",
	"annual_revenue":    "annual_revenue",
	"revenue":           "annual_revenue",
	"total_revenue":     "annual_revenue",
	"public_facing":     "public_facing",
	"tax_status":        "tax_status",
	"organization_type": "organization_type",
	"org_type":          "organization_type",
	"entity_type":       "organization_type",
}

var headerCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// canonicalColumn normalizes a raw header cell ("ZIP Code", "Public-facing")
// to a canonical field name, or "" when the column is not recognized.
func canonicalColumn(raw string) string {
	key := strings.Trim(headerCleanRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_"), "_")
	return columnAliases[key]
}

// rawRow holds one data row's cells keyed by canonical column.
type rawRow struct {
	EIN          string `csv:"ein"`
	Name         string `csv:"name"`
	Website      string `csv:"website"`
	Street       string `csv:"street"`
	City         string `csv:"city"`
	State        string `csv:"state"`
	Zip          string `csv:"zip"`
	Phone        string `csv:"phone"`
	Revenue      string `csv:"annual_revenue"`
	PublicFacing string `csv:"public_facing"`
	TaxStatus    string `csv:"tax_status"`
	OrgType      string `csv:"organization_type"`
}

func (r rawRow) toCandidate(file string, row int) model.CandidateRecord {
	return model.CandidateRecord{
		RawEIN:       strings.TrimSpace(r.EIN),
		Name:         strings.TrimSpace(r.Name),
		Website:      strings.TrimSpace(r.Website),
		Street:       strings.TrimSpace(r.Street),
		City:         strings.TrimSpace(r.City),
		State:        strings.TrimSpace(r.State),
		Zip:          strings.TrimSpace(r.Zip),
		Phone:        strings.TrimSpace(r.Phone),
		Revenue:      parseRevenue(r.Revenue),
		PublicFacing: model.ParseTriState(r.PublicFacing),
		TaxStatus:    strings.TrimSpace(r.TaxStatus),
		OrgType:      strings.TrimSpace(r.OrgType),
		Source:       model.RowRef{File: file, Row: row},
	}
}

// parseRevenue reads a dollar amount leniently: currency symbols, commas,
// and surrounding space are dropped. Unparseable or negative amounts become
// absent rather than failing the row.
func parseRevenue(raw string) *float64 {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

package source

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/charity-atlas/registry-cli/internal/model"
)

// XLSXSource reads candidate rows from the first sheet of an XLSX workbook.
// Row one is the header.
type XLSXSource struct {
	path string
	// SheetName overrides the default first sheet when set.
	SheetName string
}

func NewXLSX(path string) *XLSXSource {
	return &XLSXSource{path: path}
}

func (s *XLSXSource) Name() string {
	return filepath.Base(s.path)
}

func (s *XLSXSource) Rows(ctx context.Context, fn func(model.CandidateRecord) error) error {
	f, err := xlsx.OpenFile(s.path)
	if err != nil {
		return eris.Wrapf(err, "xlsx: open %s", s.path)
	}

	sheet, err := s.sheet(f)
	if err != nil {
		return err
	}
	if len(sheet.Rows) == 0 {
		return eris.Errorf("xlsx: %s is empty", s.Name())
	}

	canonical := make([]string, len(sheet.Rows[0].Cells))
	recognized := 0
	for i, cell := range sheet.Rows[0].Cells {
		canonical[i] = canonicalColumn(cell.String())
		if canonical[i] != "" {
			recognized++
		}
	}
	if recognized == 0 {
		return eris.Errorf("xlsx: no recognized columns in %s header", s.Name())
	}

	for i, row := range sheet.Rows[1:] {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "xlsx: scan cancelled")
		}

		var raw rawRow
		for j, cell := range row.Cells {
			if j >= len(canonical) {
				break
			}
			setColumn(&raw, canonical[j], cell.String())
		}

		if err := fn(raw.toCandidate(s.Name(), i+2)); err != nil {
			return err
		}
	}
	return nil
}

func (s *XLSXSource) sheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if s.SheetName != "" {
		sheet, ok := f.Sheet[s.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found in %s", s.SheetName, s.Name())
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("xlsx: %s has no sheets", s.Name())
	}
	return f.Sheets[0], nil
}

func setColumn(raw *rawRow, column, value string) {
	switch column {
	case "ein":
		raw.EIN = value
	case "name":
		raw.Name = value
	case "website":
		raw.Website = value
	case "street":
		raw.Street = value
	case "city":
		raw.City = value
	case "state":
		raw.State = value
	case "zip":
		raw.Zip = value
	case "phone":
		raw.Phone = value
	case "annual_revenue":
		raw.Revenue = value
	case "public_facing":
		raw.PublicFacing = value
	case "tax_status":
		raw.TaxStatus = value
	case "organization_type":
		raw.OrgType = value
	}
}

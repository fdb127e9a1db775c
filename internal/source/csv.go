package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/charity-atlas/registry-cli/internal/model"
)

// CSVSource reads candidate rows from a CSV file. The header row is
// canonicalized before decoding so exports with varying column names all
// map onto the same fields.
type CSVSource struct {
	path string
}

func NewCSV(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Name() string {
	return filepath.Base(s.path)
}

func (s *CSVSource) Rows(ctx context.Context, fn func(model.CandidateRecord) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return eris.Wrapf(err, "csv: open %s", s.path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return eris.Errorf("csv: %s is empty", s.Name())
		}
		return eris.Wrapf(err, "csv: read header of %s", s.Name())
	}

	canonical := make([]string, len(header))
	recognized := 0
	for i, h := range header {
		canonical[i] = canonicalColumn(h)
		if canonical[i] != "" {
			recognized++
		}
	}
	if recognized == 0 {
		return eris.Errorf("csv: no recognized columns in %s header", s.Name())
	}

	dec, err := csvutil.NewDecoder(r, canonical...)
	if err != nil {
		return eris.Wrapf(err, "csv: decoder for %s", s.Name())
	}

	// Header is row 1; data starts at row 2.
	row := 1
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: scan cancelled")
		}

		var raw rawRow
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return eris.Wrapf(err, "csv: decode %s row %d", s.Name(), row+1)
		}
		row++

		if err := fn(raw.toCandidate(s.Name(), row)); err != nil {
			return err
		}
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/normalize"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS nonprofits (
	ein               TEXT PRIMARY KEY CHECK (length(ein) = 9),
	name              TEXT NOT NULL,
	name_key          TEXT NOT NULL,
	website           TEXT CHECK (website <> ''),
	street            TEXT,
	city              TEXT,
	state             TEXT,
	zip               TEXT,
	phone             TEXT,
	annual_revenue    REAL CHECK (annual_revenue >= 0),
	public_facing     BOOLEAN,
	tax_status        TEXT,
	organization_type TEXT,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nonprofits_name_key ON nonprofits(name_key);
`

// SQLiteStore implements Store on an embedded database file. It exists for
// local runs and air-gapped imports where a Postgres registry is not
// available.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the registry file. WAL mode keeps
// readers unblocked while a load is in flight.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	dbh, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// modernc's driver is not safe for concurrent writers on one file.
	dbh.SetMaxOpenConns(1)
	if err := dbh.PingContext(ctx); err != nil {
		dbh.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: dbh}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) BulkWrite(ctx context.Context, ops []model.WriteOp, policy model.ConflictPolicy, updateCols []string) ([]RowResult, error) {
	var inserts, updates []model.WriteOp
	for _, op := range ops {
		if op.Kind == model.OpInsert {
			inserts = append(inserts, op)
		} else {
			updates = append(updates, op)
		}
	}

	results := make([]RowResult, 0, len(ops))

	if len(inserts) > 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: begin")
		}
		insertResults, err := s.applyInserts(ctx, tx, inserts, policy, updateCols)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, eris.Wrap(err, "sqlite: commit inserts")
		}
		results = append(results, insertResults...)
	}

	for _, op := range updates {
		results = append(results, s.applyUpdate(ctx, op))
	}

	return results, nil
}

func (s *SQLiteStore) applyInserts(ctx context.Context, tx *sql.Tx, inserts []model.WriteOp, policy model.ConflictPolicy, updateCols []string) ([]RowResult, error) {
	now := time.Now().UTC()
	results := make([]RowResult, 0, len(inserts))

	for _, op := range inserts {
		name, _ := op.Fields[model.FieldName].(string)
		args := []any{
			op.EIN, name, normalize.NameKey(name),
			op.Fields[model.FieldWebsite],
			op.Fields[model.FieldStreet],
			op.Fields[model.FieldCity],
			op.Fields[model.FieldState],
			op.Fields[model.FieldZip],
			op.Fields[model.FieldPhone],
			op.Fields[model.FieldRevenue],
			op.Fields[model.FieldPublicFacing],
			op.Fields[model.FieldTaxStatus],
			op.Fields[model.FieldOrganizationType],
			now, now,
		}

		if policy != model.PolicyMerge {
			res, err := tx.ExecContext(ctx, `
INSERT INTO nonprofits (ein, name, name_key, website, street, city, state, zip,
	phone, annual_revenue, public_facing, tax_status, organization_type,
	created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(ein) DO NOTHING`, args...)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: insert %s", op.EIN)
			}
			n, _ := res.RowsAffected()
			st := RowSkipped
			if n > 0 {
				st = RowInserted
			}
			results = append(results, RowResult{EIN: op.EIN, Status: st})
			continue
		}

		// Merge: attribution needs the pre-image, since an upsert reports
		// one affected row either way.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM nonprofits WHERE ein = ?)`, op.EIN,
		).Scan(&exists); err != nil {
			return nil, eris.Wrapf(err, "sqlite: probe %s", op.EIN)
		}

		var setClauses []string
		for _, c := range mergeUpdateColumns(updateCols) {
			if c == "updated_at" {
				setClauses = append(setClauses, "updated_at = excluded.updated_at")
				continue
			}
			setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(excluded.%s, %s)", c, c, c))
		}

		sqlText := fmt.Sprintf(`
INSERT INTO nonprofits (ein, name, name_key, website, street, city, state, zip,
	phone, annual_revenue, public_facing, tax_status, organization_type,
	created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(ein) DO UPDATE SET %s`, strings.Join(setClauses, ", "))

		if _, err := tx.ExecContext(ctx, sqlText, args...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert %s", op.EIN)
		}
		st := RowInserted
		if exists {
			st = RowUpdated
		}
		results = append(results, RowResult{EIN: op.EIN, Status: st})
	}

	return results, nil
}

func (s *SQLiteStore) applyUpdate(ctx context.Context, op model.WriteOp) RowResult {
	keys := make([]string, 0, len(op.Fields))
	for k := range op.Fields {
		if _, ok := writableColumns[k]; !ok {
			return RowResult{EIN: op.EIN, Status: RowFailed, Err: fmt.Sprintf("unknown column %q", k)}
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return RowResult{EIN: op.EIN, Status: RowSkipped}
	}
	sort.Strings(keys)

	var setClauses []string
	var args []any
	for _, k := range keys {
		setClauses = append(setClauses, k+" = ?")
		args = append(args, op.Fields[k])
		if k == model.FieldName {
			name, _ := op.Fields[k].(string)
			setClauses = append(setClauses, "name_key = ?")
			args = append(args, normalize.NameKey(name))
		}
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), op.EIN)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE nonprofits SET %s WHERE ein = ?`, strings.Join(setClauses, ", ")),
		args...)
	if err != nil {
		return RowResult{EIN: op.EIN, Status: RowFailed, Err: err.Error()}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return RowResult{EIN: op.EIN, Status: RowFailed, Err: "update target missing"}
	}
	return RowResult{EIN: op.EIN, Status: RowUpdated}
}

func (s *SQLiteStore) getRecord(ctx context.Context, where string, arg any) (*model.CanonicalRecord, error) {
	var rec model.CanonicalRecord
	err := s.db.QueryRowContext(ctx, selectRecord+where, arg).Scan(
		&rec.EIN, &rec.Name, &rec.Website,
		&rec.Contact.Street, &rec.Contact.City, &rec.Contact.State,
		&rec.Contact.Zip, &rec.Contact.Phone,
		&rec.AnnualRevenue, &rec.PublicFacing,
		&rec.TaxStatus, &rec.OrganizationType,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) GetByEIN(ctx context.Context, ein string) (*model.CanonicalRecord, error) {
	rec, err := s.getRecord(ctx, ` WHERE ein = ?`, ein)
	return rec, eris.Wrapf(err, "sqlite: get by ein %s", ein)
}

func (s *SQLiteStore) GetByNameKey(ctx context.Context, key string) (*model.CanonicalRecord, error) {
	rec, err := s.getRecord(ctx, ` WHERE name_key = ? LIMIT 1`, key)
	return rec, eris.Wrap(err, "sqlite: get by name key")
}

func (s *SQLiteStore) ListEINs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ein FROM nonprofits`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list eins")
	}
	defer rows.Close()

	var eins []string
	for rows.Next() {
		var ein string
		if err := rows.Scan(&ein); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ein")
		}
		eins = append(eins, ein)
	}
	return eins, eris.Wrap(rows.Err(), "sqlite: list eins")
}

func (s *SQLiteStore) ListNameKeys(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name_key, ein FROM nonprofits`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list name keys")
	}
	defer rows.Close()

	keys := map[string]string{}
	for rows.Next() {
		var key, ein string
		if err := rows.Scan(&key, &ein); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan name key")
		}
		keys[key] = ein
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list name keys")
}

func (s *SQLiteStore) ScanUnclassified(ctx context.Context, fn func(model.CanonicalRecord) error) error {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE public_facing IS NULL ORDER BY ein`)
	if err != nil {
		return eris.Wrap(err, "sqlite: scan unclassified")
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.CanonicalRecord
		if err := rows.Scan(
			&rec.EIN, &rec.Name, &rec.Website,
			&rec.Contact.Street, &rec.Contact.City, &rec.Contact.State,
			&rec.Contact.Zip, &rec.Contact.Phone,
			&rec.AnnualRevenue, &rec.PublicFacing,
			&rec.TaxStatus, &rec.OrganizationType,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: scan unclassified row")
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: scan unclassified")
}

func (s *SQLiteStore) ScanWebsites(ctx context.Context, fn func(ein, website string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT ein, website FROM nonprofits WHERE website IS NOT NULL ORDER BY ein`)
	if err != nil {
		return eris.Wrap(err, "sqlite: scan websites")
	}
	defer rows.Close()

	for rows.Next() {
		var ein, website string
		if err := rows.Scan(&ein, &website); err != nil {
			return eris.Wrap(err, "sqlite: scan website row")
		}
		if err := fn(ein, website); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: scan websites")
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		dst *int64
		sql string
	}{
		{&c.Total, `SELECT count(*) FROM nonprofits`},
		{&c.Classified, `SELECT count(*) FROM nonprofits WHERE public_facing IS NOT NULL`},
		{&c.PublicFacing, `SELECT count(*) FROM nonprofits WHERE public_facing`},
		{&c.WithWebsite, `SELECT count(*) FROM nonprofits WHERE website IS NOT NULL`},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return Counts{}, eris.Wrap(err, "sqlite: counts")
		}
	}
	return c, nil
}

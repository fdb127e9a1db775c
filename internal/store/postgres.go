package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/charity-atlas/registry-cli/internal/db"
	"github.com/charity-atlas/registry-cli/internal/model"
	"github.com/charity-atlas/registry-cli/internal/normalize"
)

const nonprofitsTable = "nonprofits"

// insertColumns is the fixed column list for bulk inserts. created_at is
// omitted so the table default applies on first insert.
var insertColumns = []string{
	"ein", "name", "name_key", "website", "street", "city", "state", "zip",
	"phone", "annual_revenue", "public_facing", "tax_status",
	"organization_type", "updated_at",
}

// writableColumns guards per-row updates: only known registry columns are
// ever used as identifiers in generated SQL. The EIN is immutable and
// therefore absent.
var writableColumns = map[string]struct{}{
	model.FieldName:             {},
	model.FieldWebsite:          {},
	model.FieldStreet:           {},
	model.FieldCity:             {},
	model.FieldState:            {},
	model.FieldZip:              {},
	model.FieldPhone:            {},
	model.FieldRevenue:          {},
	model.FieldPublicFacing:     {},
	model.FieldTaxStatus:        {},
	model.FieldOrganizationType: {},
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS nonprofits (
	ein               TEXT PRIMARY KEY CHECK (ein ~ '^[0-9]{9}$'),
	name              TEXT NOT NULL,
	name_key          TEXT NOT NULL,
	website           TEXT CHECK (website <> ''),
	street            TEXT,
	city              TEXT,
	state             TEXT,
	zip               TEXT,
	phone             TEXT,
	annual_revenue    DOUBLE PRECISION CHECK (annual_revenue >= 0),
	public_facing     BOOLEAN,
	tax_status        TEXT,
	organization_type TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_nonprofits_name_key ON nonprofits(name_key);
CREATE INDEX IF NOT EXISTS idx_nonprofits_public_facing ON nonprofits(public_facing);
`

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects to the registry database and verifies the connection.
// An unreachable store is a fatal configuration error: the caller aborts
// before any batch is attempted.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; tests inject pgxmock here.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// BulkWrite applies inserts as one transactional upsert and updates as
// individually-atomic row statements.
func (s *PostgresStore) BulkWrite(ctx context.Context, ops []model.WriteOp, policy model.ConflictPolicy, updateCols []string) ([]RowResult, error) {
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
		rows := make([][]any, 0, len(inserts))
		now := time.Now().UTC()
		for _, op := range inserts {
			rows = append(rows, insertRow(op, now))
		}

		cfg := db.UpsertConfig{
			Table:     nonprofitsTable,
			Columns:   insertColumns,
			KeyColumn: "ein",
		}
		if policy == model.PolicyMerge {
			cfg.UpdateCols = mergeUpdateColumns(updateCols)
			cfg.Coalesce = true
		}

		res, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: bulk insert")
		}

		status := make(map[string]RowStatus, len(inserts))
		for _, ein := range res.Inserted {
			status[ein] = RowInserted
		}
		for _, ein := range res.Updated {
			status[ein] = RowUpdated
		}
		for _, op := range inserts {
			st, ok := status[op.EIN]
			if !ok {
				st = RowSkipped
			}
			results = append(results, RowResult{EIN: op.EIN, Status: st})
		}
	}

	for _, op := range updates {
		results = append(results, s.applyUpdate(ctx, op))
	}

	return results, nil
}

func insertRow(op model.WriteOp, now time.Time) []any {
	name, _ := op.Fields[model.FieldName].(string)
	row := []any{
		op.EIN,
		name,
		normalize.NameKey(name),
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
		now,
	}
	return row
}

// mergeUpdateColumns bounds what a conflicting insert may rewrite under
// merge: the run's scoped columns plus the bookkeeping ones.
func mergeUpdateColumns(updateCols []string) []string {
	cols := make([]string, 0, len(updateCols)+2)
	hasName := false
	for _, c := range updateCols {
		if _, ok := writableColumns[c]; !ok {
			continue
		}
		cols = append(cols, c)
		if c == model.FieldName {
			hasName = true
		}
	}
	if hasName {
		cols = append(cols, "name_key")
	}
	cols = append(cols, "updated_at")
	return cols
}

// applyUpdate writes one scoped row update. A nil field value writes NULL.
func (s *PostgresStore) applyUpdate(ctx context.Context, op model.WriteOp) RowResult {
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

	setClauses := make([]string, 0, len(keys)+2)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		args = append(args, op.Fields[k])
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), len(args)))
		if k == model.FieldName {
			name, _ := op.Fields[k].(string)
			args = append(args, normalize.NameKey(name))
			setClauses = append(setClauses, fmt.Sprintf(`"name_key" = $%d`, len(args)))
		}
	}
	setClauses = append(setClauses, `"updated_at" = now()`)
	args = append(args, op.EIN)

	sql := fmt.Sprintf(`UPDATE nonprofits SET %s WHERE ein = $%d`,
		strings.Join(setClauses, ", "), len(args))

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return RowResult{EIN: op.EIN, Status: RowFailed, Err: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return RowResult{EIN: op.EIN, Status: RowFailed, Err: "update target missing"}
	}
	return RowResult{EIN: op.EIN, Status: RowUpdated}
}

const selectRecord = `
SELECT ein, name, website, street, city, state, zip, phone, annual_revenue,
       public_facing, tax_status, organization_type, created_at, updated_at
FROM nonprofits`

func scanRecord(row pgx.Row) (*model.CanonicalRecord, error) {
	var rec model.CanonicalRecord
	err := row.Scan(
		&rec.EIN, &rec.Name, &rec.Website,
		&rec.Contact.Street, &rec.Contact.City, &rec.Contact.State,
		&rec.Contact.Zip, &rec.Contact.Phone,
		&rec.AnnualRevenue, &rec.PublicFacing,
		&rec.TaxStatus, &rec.OrganizationType,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) GetByEIN(ctx context.Context, ein string) (*model.CanonicalRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE ein = $1`, ein))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get by ein %s", ein)
	}
	return rec, nil
}

func (s *PostgresStore) GetByNameKey(ctx context.Context, key string) (*model.CanonicalRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE name_key = $1 LIMIT 1`, key))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get by name key")
	}
	return rec, nil
}

func (s *PostgresStore) ListEINs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT ein FROM nonprofits`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list eins")
	}
	defer rows.Close()

	var eins []string
	for rows.Next() {
		var ein string
		if err := rows.Scan(&ein); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ein")
		}
		eins = append(eins, ein)
	}
	return eins, eris.Wrap(rows.Err(), "postgres: list eins")
}

func (s *PostgresStore) ListNameKeys(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name_key, ein FROM nonprofits`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list name keys")
	}
	defer rows.Close()

	keys := map[string]string{}
	for rows.Next() {
		var key, ein string
		if err := rows.Scan(&key, &ein); err != nil {
			return nil, eris.Wrap(err, "postgres: scan name key")
		}
		keys[key] = ein
	}
	return keys, eris.Wrap(rows.Err(), "postgres: list name keys")
}

func (s *PostgresStore) ScanUnclassified(ctx context.Context, fn func(model.CanonicalRecord) error) error {
	rows, err := s.pool.Query(ctx, selectRecord+` WHERE public_facing IS NULL ORDER BY ein`)
	if err != nil {
		return eris.Wrap(err, "postgres: scan unclassified")
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
			return eris.Wrap(err, "postgres: scan unclassified row")
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "postgres: scan unclassified")
}

func (s *PostgresStore) ScanWebsites(ctx context.Context, fn func(ein, website string) error) error {
	rows, err := s.pool.Query(ctx, `SELECT ein, website FROM nonprofits WHERE website IS NOT NULL ORDER BY ein`)
	if err != nil {
		return eris.Wrap(err, "postgres: scan websites")
	}
	defer rows.Close()

	for rows.Next() {
		var ein, website string
		if err := rows.Scan(&ein, &website); err != nil {
			return eris.Wrap(err, "postgres: scan website row")
		}
		if err := fn(ein, website); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "postgres: scan websites")
}

// Counts runs the four summary queries concurrently; they are read-only and
// independent.
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	g, gctx := errgroup.WithContext(ctx)

	count := func(dst *int64, sql string) func() error {
		return func() error {
			return s.pool.QueryRow(gctx, sql).Scan(dst)
		}
	}
	g.Go(count(&c.Total, `SELECT count(*) FROM nonprofits`))
	g.Go(count(&c.Classified, `SELECT count(*) FROM nonprofits WHERE public_facing IS NOT NULL`))
	g.Go(count(&c.PublicFacing, `SELECT count(*) FROM nonprofits WHERE public_facing`))
	g.Go(count(&c.WithWebsite, `SELECT count(*) FROM nonprofits WHERE website IS NOT NULL`))

	if err := g.Wait(); err != nil {
		return Counts{}, eris.Wrap(err, "postgres: counts")
	}
	return c, nil
}

// Package db provides parameterized bulk-write helpers for the Postgres
// registry. Statements are built from sanitized identifiers and bound
// values; untrusted field values are never interpolated into SQL text.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table     string   // target table
	Columns   []string // all columns being inserted
	KeyColumn string   // unique-constraint column
	// UpdateCols lists the columns rewritten on conflict. Nil means the
	// conflict is ignored (ON CONFLICT DO NOTHING).
	UpdateCols []string
	// Coalesce makes conflicting updates keep the stored value when the
	// incoming one is NULL, so a sparse row never erases populated fields.
	Coalesce bool
}

// UpsertResult attributes the outcome per key: keys that produced a new row
// and keys that rewrote an existing one. Keys in neither slice conflicted
// and were dropped (DO NOTHING).
type UpsertResult struct {
	Inserted []string
	Updated  []string
}

// BulkUpsert loads rows through a temp table and applies them atomically:
//
//	CREATE TEMP TABLE ... (LIKE target)
//	COPY rows into the temp table
//	INSERT INTO target SELECT ... ON CONFLICT (key) DO UPDATE/NOTHING
//	RETURNING key [, xmax = 0]
//
// The whole batch commits or rolls back as one transaction.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	var res UpsertResult
	if len(rows) == 0 {
		return res, nil
	}
	if len(cfg.Columns) == 0 {
		return res, eris.New("db: upsert: no columns specified")
	}
	if cfg.KeyColumn == "" {
		return res, eris.New("db: upsert: no key column specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return res, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return res, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	key := pgx.Identifier{cfg.KeyColumn}.Sanitize()

	var sql string
	if len(cfg.UpdateCols) > 0 {
		targetRef := targetName(cfg.Table)
		var setClauses []string
		for _, col := range cfg.UpdateCols {
			c := pgx.Identifier{col}.Sanitize()
			if cfg.Coalesce {
				setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", c, c, targetRef, c))
			} else {
				setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
			}
		}
		sql = fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s, (xmax = 0) AS inserted",
			sanitizeTable(cfg.Table), colList, colList,
			pgx.Identifier{tempTable}.Sanitize(), key,
			strings.Join(setClauses, ", "), key,
		)
	} else {
		sql = fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING RETURNING %s, true AS inserted",
			sanitizeTable(cfg.Table), colList, colList,
			pgx.Identifier{tempTable}.Sanitize(), key, key,
		)
	}

	rowsRes, err := tx.Query(ctx, sql)
	if err != nil {
		return res, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	for rowsRes.Next() {
		var k string
		var inserted bool
		if err := rowsRes.Scan(&k, &inserted); err != nil {
			rowsRes.Close()
			return res, eris.Wrap(err, "db: upsert: scan returning row")
		}
		if inserted {
			res.Inserted = append(res.Inserted, k)
		} else {
			res.Updated = append(res.Updated, k)
		}
	}
	if err := rowsRes.Err(); err != nil {
		return res, eris.Wrap(err, "db: upsert: read returning rows")
	}
	rowsRes.Close()

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrap(err, "db: upsert: commit tx")
	}

	return res, nil
}

// targetName is how the conflict target row is referenced inside DO UPDATE:
// the bare table name, even when the target is schema-qualified.
func targetName(table string) string {
	parts := strings.Split(table, ".")
	return pgx.Identifier{parts[len(parts)-1]}.Sanitize()
}

// sanitizeTable handles schema-qualified table names like "registry.nonprofits".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

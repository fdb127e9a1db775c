// Package store is the persistence boundary of the reconciliation engine.
// The engine only ever talks to the Store interface; whether the registry
// lives in Postgres or an embedded SQLite file is a deployment detail.
package store

import (
	"context"

	"github.com/charity-atlas/registry-cli/internal/model"
)

// RowStatus is the per-row outcome of a bulk write.
type RowStatus string

const (
	RowInserted RowStatus = "inserted"
	RowUpdated  RowStatus = "updated"
	// RowSkipped means the row conflicted under a DO NOTHING policy. It is
	// a normal outcome, never an error.
	RowSkipped RowStatus = "skipped"
	RowFailed  RowStatus = "failed"
)

// RowResult reports what happened to one operation of a batch.
type RowResult struct {
	EIN    string
	Status RowStatus
	Err    string
}

// Counts summarizes the registry for the status command.
type Counts struct {
	Total        int64 `json:"total"`
	Classified   int64 `json:"classified"`
	PublicFacing int64 `json:"public_facing"`
	WithWebsite  int64 `json:"with_website"`
}

// Store defines the registry persistence interface.
type Store interface {
	// BulkWrite applies one batch of operations under a conflict policy.
	// updateCols bounds which columns a conflicting insert may rewrite
	// under the merge policy. Inserts are applied atomically as a group;
	// updates are row-level and individually atomic, so partial success is
	// possible and reported per row.
	BulkWrite(ctx context.Context, ops []model.WriteOp, policy model.ConflictPolicy, updateCols []string) ([]RowResult, error)

	// GetByEIN returns the canonical record, or nil when absent.
	GetByEIN(ctx context.Context, ein string) (*model.CanonicalRecord, error)
	// GetByNameKey returns the record whose folded name key matches
	// exactly, or nil.
	GetByNameKey(ctx context.Context, key string) (*model.CanonicalRecord, error)

	// ListEINs and ListNameKeys feed the matcher's in-memory index.
	ListEINs(ctx context.Context) ([]string, error)
	ListNameKeys(ctx context.Context) (map[string]string, error)

	// ScanUnclassified streams records with a NULL classification.
	ScanUnclassified(ctx context.Context, fn func(model.CanonicalRecord) error) error
	// ScanWebsites streams (ein, website) for records with a non-NULL
	// website, for the repair pass.
	ScanWebsites(ctx context.Context, fn func(ein, website string) error) error

	Counts(ctx context.Context) (Counts, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Package match resolves candidates to at most one canonical registry entry.
package match

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Lookup is the read capability the matcher needs over the canonical
// registry. Implementations may hit the store directly or an in-memory index
// preloaded from it.
type Lookup interface {
	// HasEIN reports whether a canonical record with this EIN exists.
	HasEIN(ctx context.Context, ein string) (bool, error)
	// EINForNameKey returns the EIN of the record whose folded name key
	// matches exactly, or "" if none.
	EINForNameKey(ctx context.Context, key string) (string, error)
}

// Via records which pass of the cascade produced a match.
type Via string

const (
	ViaIdentifier Via = "identifier"
	ViaName       Via = "name"
	ViaNone       Via = ""
)

// Result is the outcome of the matching cascade.
type Result struct {
	EIN string // matched canonical EIN, "" when unmatched
	Via Via
}

// Resolve runs the fallback cascade, stopping at the first hit:
//
//  1. exact identifier match
//  2. if the candidate has no usable identifier, exact folded-name match
//
// There is deliberately no fuzzy name matching: a wrong merge is worse than
// a missed one. Candidates with a usable identifier never fall through to
// name matching, so two differently-named filings with the same EIN still
// reconcile to one record.
func Resolve(ctx context.Context, lk Lookup, ein, nameKey string) (Result, error) {
	if ein != "" {
		ok, err := lk.HasEIN(ctx, ein)
		if err != nil {
			return Result{}, eris.Wrap(err, "match: lookup by identifier")
		}
		if ok {
			zap.L().Debug("match: identifier hit", zap.String("ein", ein))
			return Result{EIN: ein, Via: ViaIdentifier}, nil
		}
		return Result{}, nil
	}

	if nameKey == "" {
		return Result{}, nil
	}
	hit, err := lk.EINForNameKey(ctx, nameKey)
	if err != nil {
		return Result{}, eris.Wrap(err, "match: lookup by name")
	}
	if hit != "" {
		zap.L().Debug("match: name hit", zap.String("ein", hit))
		return Result{EIN: hit, Via: ViaName}, nil
	}
	return Result{}, nil
}

// Index is an in-memory Lookup preloaded from the registry, so matching a
// large source does not issue one query per row. Inserts produced during a
// run are added back so later rows in the same run match them.
type Index struct {
	eins  map[string]struct{}
	names map[string]string
}

// NewIndex builds an index from the full EIN list and name-key mapping.
func NewIndex(eins []string, nameKeys map[string]string) *Index {
	set := make(map[string]struct{}, len(eins))
	for _, e := range eins {
		set[e] = struct{}{}
	}
	if nameKeys == nil {
		nameKeys = map[string]string{}
	}
	return &Index{eins: set, names: nameKeys}
}

// Add registers a record that is about to be inserted.
func (ix *Index) Add(ein, nameKey string) {
	ix.eins[ein] = struct{}{}
	if nameKey != "" {
		ix.names[nameKey] = ein
	}
}

// HasEIN implements Lookup.
func (ix *Index) HasEIN(_ context.Context, ein string) (bool, error) {
	_, ok := ix.eins[ein]
	return ok, nil
}

// EINForNameKey implements Lookup.
func (ix *Index) EINForNameKey(_ context.Context, key string) (string, error) {
	return ix.names[key], nil
}

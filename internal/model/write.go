package model

// ConflictPolicy selects what happens when a write targets an EIN that
// already exists in the registry. Callers pick one per run.
type ConflictPolicy string

const (
	// PolicyInsertOnly skips rows whose EIN already exists. Skips are
	// surfaced as a separate counter, never as errors.
	PolicyInsertOnly ConflictPolicy = "insert-only"

	// PolicyMerge updates existing rows (scoped fields only) and inserts
	// absent ones. Re-running the same input is idempotent.
	PolicyMerge ConflictPolicy = "merge"

	// PolicyIgnoreDuplicate inserts and silently drops conflicts. It never
	// updates an existing row.
	PolicyIgnoreDuplicate ConflictPolicy = "ignore-duplicate"
)

// ParseConflictPolicy validates a policy name from config or flags.
func ParseConflictPolicy(s string) (ConflictPolicy, bool) {
	switch ConflictPolicy(s) {
	case PolicyInsertOnly, PolicyMerge, PolicyIgnoreDuplicate:
		return ConflictPolicy(s), true
	default:
		return "", false
	}
}

// OpKind is the kind of pending write.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
)

// Field keys used in WriteOp.Fields and field scopes. They match the
// registry column names.
const (
	FieldName             = "name"
	FieldWebsite          = "website"
	FieldStreet           = "street"
	FieldCity             = "city"
	FieldState            = "state"
	FieldZip              = "zip"
	FieldPhone            = "phone"
	FieldRevenue          = "annual_revenue"
	FieldPublicFacing     = "public_facing"
	FieldTaxStatus        = "tax_status"
	FieldOrganizationType = "organization_type"
)

// WriteOp is one pending write against the registry. Fields maps column
// names to values; a present key with a nil value writes NULL, an absent key
// leaves the stored value untouched.
type WriteOp struct {
	Kind   OpKind
	EIN    string
	Fields map[string]any
	Source RowRef
}

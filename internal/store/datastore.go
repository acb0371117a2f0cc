package store

// DataStore is the interface for indexing-phase writes. Both Store (direct
// SQLite) and BatchedStore (in-memory buffering for parallel parsing)
// implement it.
type DataStore interface {
	// Inserts return the assigned ID. Parameter values reference the ID
	// their parameter insert returned.
	InsertVariable(v *Variable) (int64, error)
	InsertParameter(p *Parameter) (int64, error)
	InsertParameterValue(pv *ParameterValue) (int64, error)

	// Lookups used while parsing to warn on redefinitions.
	VariableByName(name string) (*Variable, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)

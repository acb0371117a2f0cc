package store

import "sync"

// BatchedStore buffers indexing inserts in memory using fake (negative)
// IDs. It implements DataStore so the rule-set parser can write to it
// without knowing whether it is hitting SQLite or an in-memory buffer.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// VariableByName merges buffered rows with the underlying Store, which is
// safe for concurrent reads.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	Variables       []Variable
	Parameters      []Parameter
	ParameterValues []ParameterValue

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertVariable(v *Variable) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v.DefinitionHash == "" {
		hash, err := ComputeDefinitionHash(v)
		if err != nil {
			return 0, err
		}
		v.DefinitionHash = hash
	}
	fakeID := b.allocFakeID()
	v.ID = fakeID
	b.Variables = append(b.Variables, *v)
	return fakeID, nil
}

func (b *BatchedStore) InsertParameter(p *Parameter) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	p.ID = fakeID
	b.Parameters = append(b.Parameters, *p)
	return fakeID, nil
}

func (b *BatchedStore) InsertParameterValue(pv *ParameterValue) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	pv.ID = fakeID
	b.ParameterValues = append(b.ParameterValues, *pv)
	return fakeID, nil
}

// VariableByName prefers the latest buffered (not yet committed) definition
// and falls back to the database.
func (b *BatchedStore) VariableByName(name string) (*Variable, error) {
	b.mu.Lock()
	for i := len(b.Variables) - 1; i >= 0; i-- {
		if b.Variables[i].Name == name {
			v := b.Variables[i]
			b.mu.Unlock()
			return &v, nil
		}
	}
	b.mu.Unlock()
	return b.store.VariableByName(name)
}

// Len reports how many rows are buffered.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Variables) + len(b.Parameters) + len(b.ParameterValues)
}

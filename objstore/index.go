package objstore

import (
	"bytes"
)

// Index looks records up by the value of one field.
type Index struct {
	store *ObjectStore
	state *indexState
}

func (idx *Index) Name() string     { return idx.state.name }
func (idx *Index) KeyPath() string  { return idx.state.KeyPath }
func (idx *Index) Unique() bool     { return idx.state.Unique }
func (idx *Index) MultiEntry() bool { return idx.state.MultiEntry }

func (idx *Index) bucket() storageBucket {
	return idx.store.indexBucket(idx.state)
}

// primaryKeys calls f with the raw primary key of every record whose index
// value equals value, in primary key order, until f returns false.
func (idx *Index) primaryKeys(value any, f func(pkRaw []byte) bool) error {
	idxKey, err := encodeKey(value)
	if err != nil {
		return storeErrf(idx.store.name, idx.state.name, value, err, "invalid key")
	}
	b := idx.bucket()
	if idx.state.Unique {
		if pkRaw := b.Get(idxKey); pkRaw != nil {
			f(pkRaw)
		}
		return nil
	}
	c := b.Cursor()
	for k, _ := c.Seek(idxKey); k != nil && bytes.HasPrefix(k, idxKey); k, _ = c.Next() {
		if !f(k[len(idxKey):]) {
			break
		}
	}
	return nil
}

// Get returns the first record (in primary key order) whose indexed value
// equals value, or nil if there is none.
func (idx *Index) Get(value any) (Record, error) {
	var found []byte
	err := idx.primaryKeys(value, func(pkRaw []byte) bool {
		found = pkRaw
		return false
	})
	if err != nil || found == nil {
		return nil, err
	}
	return idx.store.getRaw(found)
}

// GetAll returns every record whose indexed value equals value.
func (idx *Index) GetAll(value any) ([]Record, error) {
	var pks [][]byte
	err := idx.primaryKeys(value, func(pkRaw []byte) bool {
		pks = append(pks, pkRaw)
		return true
	})
	if err != nil {
		return nil, err
	}
	var result []Record
	for _, pkRaw := range pks {
		rec, err := idx.store.getRaw(pkRaw)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Count returns the number of records whose indexed value equals value.
func (idx *Index) Count(value any) (int, error) {
	var n int
	err := idx.primaryKeys(value, func([]byte) bool {
		n++
		return true
	})
	return n, err
}

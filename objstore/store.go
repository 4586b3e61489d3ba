package objstore

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"go.uber.org/zap"
)

// ObjectStore is a keyed collection of records within a transaction. Keys
// are always inline: the key of a record is its KeyPath field.
type ObjectStore struct {
	tx    *Tx
	name  string
	state *storeState
}

func (s *ObjectStore) Name() string { return s.name }

func (s *ObjectStore) KeyPath() string { return s.state.KeyPath }

func (s *ObjectStore) AutoIncrement() bool { return s.state.AutoIncrement }

func (s *ObjectStore) IndexNames() []string { return s.state.indexNames() }

func (s *ObjectStore) rootBucket() string { return storeBucketName(s.name) }

func (s *ObjectStore) dataBucket() storageBucket {
	return s.tx.stx.Bucket(s.rootBucket(), dataBucket)
}

func (s *ObjectStore) indexBucket(is *indexState) storageBucket {
	return s.tx.stx.Bucket(s.rootBucket(), is.bucket())
}

// Add inserts a record, failing with ErrConstraint if its key already
// exists. It returns the key, generating one if the store has a key
// generator and the record has no key.
func (s *ObjectStore) Add(rec Record) (any, error) {
	return s.write(rec, false)
}

// Put inserts or replaces a record.
func (s *ObjectStore) Put(rec Record) (any, error) {
	return s.write(rec, true)
}

func (s *ObjectStore) write(rec Record, overwrite bool) (any, error) {
	if !s.tx.writable {
		return nil, storeErrf(s.name, "", nil, ErrReadOnly, "")
	}
	if rec == nil {
		return nil, storeErrf(s.name, "", nil, ErrData, "nil record")
	}
	ss := s.state

	key, hasKey := rec[ss.KeyPath]
	if hasKey && key == nil {
		hasKey = false
	}
	stateDirty := false
	if !hasKey {
		if !ss.AutoIncrement {
			return nil, storeErrf(s.name, "", nil, ErrData, "record has no %q key and the store has no key generator", ss.KeyPath)
		}
		if ss.LastKey == math.MaxInt64 {
			return nil, storeErrf(s.name, "", nil, ErrConstraint, "key generator exhausted")
		}
		ss.LastKey++
		key = ss.LastKey
		stateDirty = true

		clone := make(Record, len(rec)+1)
		for k, v := range rec {
			clone[k] = v
		}
		clone[ss.KeyPath] = key
		rec = clone
	} else if ss.AutoIncrement {
		if n, ok := numericKey(key); ok && n > float64(ss.LastKey) {
			if n >= math.MaxInt64 {
				ss.LastKey = math.MaxInt64
			} else {
				ss.LastKey = int64(math.Floor(n))
			}
			stateDirty = true
		}
	}

	pkRaw, err := encodeKey(key)
	if err != nil {
		return nil, storeErrf(s.name, "", key, err, "invalid key")
	}
	data, err := encodeMsgpack(nil, rec)
	if err != nil {
		return nil, storeErrf(s.name, "", key, ErrData, "%v", err)
	}
	rows := s.indexRowsFor(rec)

	dataB := s.dataBucket()
	oldRaw := dataB.Get(pkRaw)
	if oldRaw != nil && !overwrite {
		return nil, storeErrf(s.name, "", key, ErrConstraint, "key already exists")
	}
	// A record may keep its own unique values, so entries pointing at pkRaw
	// are not conflicts.
	for _, row := range rows {
		is := ss.indexesByOrd[row.IndexOrd]
		if !is.Unique {
			continue
		}
		if existing := s.indexBucket(is).Get(row.KeyRaw); existing != nil && !bytes.Equal(existing, pkRaw) {
			return nil, storeErrf(s.name, is.name, keyString(row.KeyRaw), ErrConstraint, "unique index already has this value")
		}
	}

	var modCount uint64
	if oldRaw != nil {
		var old value
		if err := old.decode(oldRaw); err != nil {
			return nil, storeErrf(s.name, "", key, err, "")
		}
		modCount = old.ModCount
		err := findRemovedIndexKeys(old.Index, rows, func(ord uint64, idxKey []byte) error {
			is := ss.indexesByOrd[ord]
			if is == nil {
				return nil // index has been deleted
			}
			return s.indexBucket(is).Delete(indexEntryKey(is, idxKey, pkRaw))
		})
		if err != nil {
			return nil, storeErrf(s.name, "", key, err, "failed to remove stale index entries")
		}
	}

	for _, row := range rows {
		is := ss.indexesByOrd[row.IndexOrd]
		var err error
		if is.Unique {
			err = s.indexBucket(is).Put(row.KeyRaw, pkRaw)
		} else {
			err = s.indexBucket(is).Put(indexEntryKey(is, row.KeyRaw, pkRaw), []byte{})
		}
		if err != nil {
			return nil, storeErrf(s.name, is.name, key, err, "")
		}
	}

	if err := dataB.Put(pkRaw, encodeValue(modCount+1, data, rows)); err != nil {
		return nil, storeErrf(s.name, "", key, err, "")
	}
	if stateDirty {
		if err := ss.save(s.tx.stx, s.name); err != nil {
			return nil, err
		}
	}
	if s.tx.verbose {
		s.tx.logger.Debug("put", zap.String("db", s.tx.dbName), zap.String("store", s.name), zap.Any("key", key), zap.Bool("overwrite", overwrite), zap.Int("index_rows", len(rows)))
	}
	return key, nil
}

// indexRowsFor computes the index entries a record contributes. Records
// without a valid value for an index's key path are not indexed.
func (s *ObjectStore) indexRowsFor(rec Record) indexRows {
	var rows indexRows
	for _, is := range s.state.sorted {
		v, ok := rec[is.KeyPath]
		if !ok || v == nil {
			continue
		}
		if is.MultiEntry {
			if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
				for i, n := 0, rv.Len(); i < n; i++ {
					if raw, err := encodeKey(rv.Index(i).Interface()); err == nil {
						rows = append(rows, indexRow{is.Ordinal, raw})
					}
				}
				continue
			}
		}
		if raw, err := encodeKey(v); err == nil {
			rows = append(rows, indexRow{is.Ordinal, raw})
		}
	}
	return rows.sort()
}

func indexEntryKey(is *indexState, idxKey, pkRaw []byte) []byte {
	if is.Unique {
		return idxKey
	}
	k := make([]byte, 0, len(idxKey)+len(pkRaw))
	return append(append(k, idxKey...), pkRaw...)
}

// Get returns the record with the given key, or nil if there is none.
func (s *ObjectStore) Get(key any) (Record, error) {
	pkRaw, err := encodeKey(key)
	if err != nil {
		return nil, storeErrf(s.name, "", key, err, "invalid key")
	}
	return s.getRaw(pkRaw)
}

func (s *ObjectStore) getRaw(pkRaw []byte) (Record, error) {
	raw := s.dataBucket().Get(pkRaw)
	if raw == nil {
		return nil, nil
	}
	return s.decodeRaw(pkRaw, raw)
}

func (s *ObjectStore) decodeRaw(pkRaw, raw []byte) (Record, error) {
	var vle value
	if err := vle.decode(raw); err != nil {
		return nil, storeErrf(s.name, "", keyString(pkRaw), err, "")
	}
	rec, err := decodeRecord(vle.Data)
	if err != nil {
		return nil, storeErrf(s.name, "", keyString(pkRaw), err, "")
	}
	return rec, nil
}

// GetAll returns all records in key order.
func (s *ObjectStore) GetAll() ([]Record, error) {
	var result []Record
	c := s.OpenCursor()
	for c.Next() {
		result = append(result, c.Record())
	}
	return result, c.Err()
}

// Delete removes the record with the given key. Deleting a missing key is
// not an error.
func (s *ObjectStore) Delete(key any) error {
	if !s.tx.writable {
		return storeErrf(s.name, "", key, ErrReadOnly, "")
	}
	pkRaw, err := encodeKey(key)
	if err != nil {
		return storeErrf(s.name, "", key, err, "invalid key")
	}
	dataB := s.dataBucket()
	raw := dataB.Get(pkRaw)
	if raw == nil {
		return nil
	}
	var old value
	if err := old.decode(raw); err != nil {
		return storeErrf(s.name, "", key, err, "")
	}
	err = decodeIndexKeys(old.Index, func(ord uint64, idxKey []byte) error {
		is := s.state.indexesByOrd[ord]
		if is == nil {
			return nil
		}
		return s.indexBucket(is).Delete(indexEntryKey(is, idxKey, pkRaw))
	})
	if err != nil {
		return storeErrf(s.name, "", key, err, "failed to remove index entries")
	}
	if err := dataB.Delete(pkRaw); err != nil {
		return storeErrf(s.name, "", key, err, "")
	}
	if s.tx.verbose {
		s.tx.logger.Debug("delete", zap.String("db", s.tx.dbName), zap.String("store", s.name), zap.Any("key", key))
	}
	return nil
}

// Clear removes all records. The key generator is not reset.
func (s *ObjectStore) Clear() error {
	if !s.tx.writable {
		return storeErrf(s.name, "", nil, ErrReadOnly, "")
	}
	for _, sub := range append([]string{dataBucket}, s.indexBucketNames()...) {
		if err := s.tx.stx.DeleteBucket(s.rootBucket(), sub); err != nil && err != errBucketNotFound {
			return storeErrf(s.name, "", nil, err, "")
		}
		if _, err := s.tx.stx.CreateBucket(s.rootBucket(), sub); err != nil {
			return storeErrf(s.name, "", nil, err, "")
		}
	}
	return nil
}

func (s *ObjectStore) indexBucketNames() []string {
	var names []string
	for _, is := range s.state.sorted {
		names = append(names, is.bucket())
	}
	return names
}

func (s *ObjectStore) Count() int {
	return s.dataBucket().Stats().Keys
}

// Index returns the named index of this store.
func (s *ObjectStore) Index(name string) (*Index, error) {
	is := s.state.Indexes[name]
	if is == nil {
		return nil, storeErrf(s.name, name, nil, ErrUnknownIndex, "index does not exist")
	}
	return &Index{store: s, state: is}, nil
}

// Cursor walks records in key order.
type Cursor struct {
	store *ObjectStore
	c     storageCursor
	init  bool
	key   []byte
	raw   []byte
	rec   Record
	err   error
}

func (s *ObjectStore) OpenCursor() *Cursor {
	return &Cursor{store: s, c: s.dataBucket().Cursor()}
}

// Next advances to the next record and decodes it. It returns false at the
// end or on a decoding error, which is then available via Err.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.init {
		c.init = true
		c.key, c.raw = c.c.First()
	} else {
		c.key, c.raw = c.c.Next()
	}
	if c.key == nil {
		c.rec = nil
		return false
	}
	c.rec, c.err = c.store.decodeRaw(c.key, c.raw)
	return c.err == nil
}

func (c *Cursor) Key() any {
	k, err := decodeKey(c.key)
	if err != nil {
		panic(fmt.Errorf("objstore: %s: corrupted key %s: %w", c.store.name, hexstr(c.key), err))
	}
	return k
}

func (c *Cursor) Record() Record { return c.rec }

func (c *Cursor) Err() error { return c.err }

// numericKey reports the value of numeric keys, which bump the key
// generator.
func numericKey(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

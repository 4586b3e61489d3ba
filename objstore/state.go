package objstore

import (
	"cmp"
	"slices"
	"sort"
)

// Bucket layout:
//
//	_meta          catalog document under the "_state" key
//	s:<store>      store root, store state under the "_state" key
//	  data         primary key -> value
//	  i:<index>    unique: index key -> primary key
//	               non-unique: index key || primary key -> empty
const (
	metaBucket      = "_meta"
	storeBucketPref = "s:"
	dataBucket      = "data"
	indexBucketPref = "i:"
)

var stateKey = []byte("_state")

func storeBucketName(store string) string { return storeBucketPref + store }
func indexBucketName(index string) string { return indexBucketPref + index }

// catalog is the per-database document listing the object stores.
type catalog struct {
	Version uint64            `msgpack:"v"`
	Stores  []string          `msgpack:"s"`
	Meta    map[string]string `msgpack:"m,omitempty"`
}

func loadCatalog(stx storageTx) (*catalog, error) {
	cat := new(catalog)
	b := stx.Bucket(metaBucket, "")
	if b == nil {
		return cat, nil
	}
	raw := b.Get(stateKey)
	if raw == nil {
		return cat, nil
	}
	if err := decodeMsgpack(raw, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (cat *catalog) save(stx storageTx) error {
	b, err := stx.CreateBucket(metaBucket, "")
	if err != nil {
		return err
	}
	raw, err := encodeMsgpack(nil, cat)
	if err != nil {
		return err
	}
	return b.Put(stateKey, raw)
}

func (cat *catalog) has(store string) bool {
	return slices.Contains(cat.Stores, store)
}

func (cat *catalog) add(store string) {
	cat.Stores = append(cat.Stores, store)
	sort.Strings(cat.Stores)
}

func (cat *catalog) remove(store string) {
	cat.Stores = slices.DeleteFunc(cat.Stores, func(s string) bool { return s == store })
}

// storeState is persisted in the root bucket of every object store.
type storeState struct {
	KeyPath          string                 `msgpack:"kp"`
	AutoIncrement    bool                   `msgpack:"ai"`
	LastKey          int64                  `msgpack:"lk"`
	LastIndexOrdinal uint64                 `msgpack:"li"`
	Indexes          map[string]*indexState `msgpack:"i"`

	indexesByOrd map[uint64]*indexState `msgpack:"-"`
	sorted       []*indexState          `msgpack:"-"`
}

type indexState struct {
	name       string `msgpack:"-"`
	Ordinal    uint64 `msgpack:"o"`
	KeyPath    string `msgpack:"kp"`
	Unique     bool   `msgpack:"u"`
	MultiEntry bool   `msgpack:"me"`
}

func (is *indexState) bucket() string { return indexBucketName(is.name) }

func loadStoreState(stx storageTx, store string) (*storeState, error) {
	b := stx.Bucket(storeBucketName(store), "")
	if b == nil {
		return nil, storeErrf(store, "", nil, ErrUnknownStore, "object store does not exist")
	}
	ss := new(storeState)
	if raw := b.Get(stateKey); raw != nil {
		if err := decodeMsgpack(raw, ss); err != nil {
			return nil, storeErrf(store, "", nil, err, "failed to decode store state")
		}
	}
	ss.reindex()
	return ss, nil
}

func (ss *storeState) reindex() {
	if ss.Indexes == nil {
		ss.Indexes = make(map[string]*indexState)
	}
	ss.indexesByOrd = make(map[uint64]*indexState, len(ss.Indexes))
	ss.sorted = ss.sorted[:0]
	for name, is := range ss.Indexes {
		is.name = name
		ss.indexesByOrd[is.Ordinal] = is
		ss.sorted = append(ss.sorted, is)
	}
	slices.SortFunc(ss.sorted, func(a, b *indexState) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
}

func (ss *storeState) indexNames() []string {
	names := make([]string, 0, len(ss.Indexes))
	for name := range ss.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ss *storeState) save(stx storageTx, store string) error {
	b := stx.Bucket(storeBucketName(store), "")
	if b == nil {
		return storeErrf(store, "", nil, ErrUnknownStore, "object store does not exist")
	}
	raw, err := encodeMsgpack(nil, ss)
	if err != nil {
		return err
	}
	return b.Put(stateKey, raw)
}

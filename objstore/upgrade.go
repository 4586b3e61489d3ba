package objstore

import (
	"fmt"

	"go.uber.org/zap"
)

// UpgradeTx is the versionchange transaction passed to OpenRequest.Upgrade.
// Only it can create and delete object stores and indexes.
type UpgradeTx struct {
	*Tx
}

type StoreOptions struct {
	KeyPath       string
	AutoIncrement bool
}

type IndexOptions struct {
	Unique     bool
	MultiEntry bool
}

func (utx *UpgradeTx) HasObjectStore(name string) bool {
	return utx.catalog.has(name)
}

// CreateObjectStore creates an empty store. It fails with ErrConstraint if
// the store already exists.
func (utx *UpgradeTx) CreateObjectStore(name string, opt StoreOptions) (*ObjectStore, error) {
	if name == "" {
		return nil, fmt.Errorf("objstore: %w: object store name is empty", ErrData)
	}
	if opt.KeyPath == "" {
		return nil, storeErrf(name, "", nil, ErrData, "key path is required")
	}
	if utx.catalog.has(name) {
		return nil, storeErrf(name, "", nil, ErrConstraint, "object store already exists")
	}
	root := storeBucketName(name)
	if _, err := utx.stx.CreateBucket(root, dataBucket); err != nil {
		return nil, storeErrf(name, "", nil, err, "")
	}
	ss := &storeState{
		KeyPath:       opt.KeyPath,
		AutoIncrement: opt.AutoIncrement,
	}
	ss.reindex()
	if err := ss.save(utx.stx, name); err != nil {
		return nil, err
	}
	utx.catalog.add(name)
	utx.logger.Debug("object store created", zap.String("db", utx.dbName), zap.String("store", name), zap.String("key_path", opt.KeyPath), zap.Bool("auto_increment", opt.AutoIncrement))
	return utx.ObjectStore(name)
}

// DeleteObjectStore removes a store with all of its records and indexes.
func (utx *UpgradeTx) DeleteObjectStore(name string) error {
	if !utx.catalog.has(name) {
		return storeErrf(name, "", nil, ErrUnknownStore, "object store does not exist")
	}
	if err := utx.stx.DeleteBucket(storeBucketName(name), ""); err != nil && err != errBucketNotFound {
		return storeErrf(name, "", nil, err, "")
	}
	utx.catalog.remove(name)
	utx.forget(name)
	utx.logger.Debug("object store deleted", zap.String("db", utx.dbName), zap.String("store", name))
	return nil
}

// PutMeta stores a string value in the database catalog.
func (utx *UpgradeTx) PutMeta(key, value string) {
	if utx.catalog.Meta == nil {
		utx.catalog.Meta = make(map[string]string)
	}
	utx.catalog.Meta[key] = value
}

func (utx *UpgradeTx) Meta(key string) (string, bool) {
	v, ok := utx.catalog.Meta[key]
	return v, ok
}

// CreateIndex adds an index over keyPath and indexes existing records.
// It can only be called within an upgrade transaction.
func (s *ObjectStore) CreateIndex(name, keyPath string, opt IndexOptions) (*Index, error) {
	if !s.tx.upgrade {
		return nil, storeErrf(s.name, name, nil, ErrScope, "indexes can only be created while upgrading")
	}
	if name == "" || keyPath == "" {
		return nil, storeErrf(s.name, name, nil, ErrData, "index name and key path are required")
	}
	ss := s.state
	if ss.Indexes[name] != nil {
		return nil, storeErrf(s.name, name, nil, ErrConstraint, "index already exists")
	}

	existing, err := s.GetAll()
	if err != nil {
		return nil, err
	}

	ss.LastIndexOrdinal++
	is := &indexState{
		Ordinal:    ss.LastIndexOrdinal,
		KeyPath:    keyPath,
		Unique:     opt.Unique,
		MultiEntry: opt.MultiEntry,
	}
	ss.Indexes[name] = is
	ss.reindex()
	if _, err := s.tx.stx.CreateBucket(s.rootBucket(), is.bucket()); err != nil {
		return nil, storeErrf(s.name, name, nil, err, "")
	}
	for _, rec := range existing {
		if _, err := s.Put(rec); err != nil {
			return nil, err
		}
	}
	if err := ss.save(s.tx.stx, s.name); err != nil {
		return nil, err
	}
	s.tx.logger.Debug("index created", zap.String("db", s.tx.dbName), zap.String("store", s.name), zap.String("index", name), zap.Bool("unique", opt.Unique), zap.Bool("multi_entry", opt.MultiEntry), zap.Int("records", len(existing)))
	return &Index{store: s, state: is}, nil
}

// DeleteIndex drops an index. Stale entries in record index key lists are
// skipped on later writes.
func (s *ObjectStore) DeleteIndex(name string) error {
	if !s.tx.upgrade {
		return storeErrf(s.name, name, nil, ErrScope, "indexes can only be deleted while upgrading")
	}
	is := s.state.Indexes[name]
	if is == nil {
		return storeErrf(s.name, name, nil, ErrUnknownIndex, "index does not exist")
	}
	if err := s.tx.stx.DeleteBucket(s.rootBucket(), is.bucket()); err != nil && err != errBucketNotFound {
		return storeErrf(s.name, name, nil, err, "")
	}
	delete(s.state.Indexes, name)
	s.state.reindex()
	return s.state.save(s.tx.stx, s.name)
}

package objstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
)

const boltFileExt = ".db"

// errLocked means another process holds the database file.
var errLocked = errors.New("database file is locked by another process")

// boltBackend stores every database in its own file under dir.
type boltBackend struct {
	dir  string
	opt  Options
	mu   sync.Mutex
	open map[string]*bbolt.DB
}

func newBoltBackend(dir string, opt Options) *boltBackend {
	return &boltBackend{dir: dir, opt: opt, open: make(map[string]*bbolt.DB)}
}

func (be *boltBackend) path(name string) string {
	return filepath.Join(be.dir, fileNameFor(name)+boltFileExt)
}

func (be *boltBackend) boltOptions() *bbolt.Options {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = be.opt.LockTimeout
	if bopt.Timeout == 0 {
		bopt.Timeout = time.Second
	}
	bopt.NoSync = be.opt.NoSync
	bopt.NoFreelistSync = be.opt.NoSync
	bopt.FreelistType = bbolt.FreelistMapType
	bopt.InitialMmapSize = be.opt.MmapSize
	return &bopt
}

func (be *boltBackend) acquire(name string) (storage, error) {
	if err := os.MkdirAll(be.dir, 0o755); err != nil {
		return nil, err
	}
	bdb, err := bbolt.Open(be.path(name), 0o644, be.boltOptions())
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, errLocked
	} else if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}
	be.mu.Lock()
	be.open[name] = bdb
	be.mu.Unlock()
	return boltStorage{bdb}, nil
}

func (be *boltBackend) release(name string, s storage) error {
	be.mu.Lock()
	delete(be.open, name)
	be.mu.Unlock()
	return s.Close()
}

func (be *boltBackend) remove(name string) error {
	if err := os.Remove(be.path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (be *boltBackend) close() error {
	be.mu.Lock()
	defer be.mu.Unlock()
	var err error
	for name, bdb := range be.open {
		err = multierr.Append(err, bdb.Close())
		delete(be.open, name)
	}
	return err
}

type boltStorage struct {
	bdb *bbolt.DB
}

func (s boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return boltTx{btx}, nil
}

func (s boltStorage) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx boltTx) Writable() bool { return tx.btx.Writable() }

func (tx boltTx) root(name string) *bbolt.Bucket {
	return tx.btx.Bucket(unsafeBytesFromString(name))
}

func (tx boltTx) Bucket(name, sub string) storageBucket {
	b := tx.root(name)
	if b != nil && sub != "" {
		b = b.Bucket(unsafeBytesFromString(sub))
	}
	if b == nil {
		return nil
	}
	return boltBucket{b}
}

func (tx boltTx) CreateBucket(name, sub string) (storageBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err == nil && sub != "" {
		b, err = b.CreateBucketIfNotExists([]byte(sub))
	}
	if err != nil {
		return nil, err
	}
	return boltBucket{b}, nil
}

func (tx boltTx) DeleteBucket(name, sub string) error {
	var err error
	if sub == "" {
		err = tx.btx.DeleteBucket(unsafeBytesFromString(name))
	} else if root := tx.root(name); root != nil {
		err = root.DeleteBucket(unsafeBytesFromString(sub))
	} else {
		err = bbolt.ErrBucketNotFound
	}
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return errBucketNotFound
	}
	return err
}

func (tx boltTx) Commit() error { return tx.btx.Commit() }

func (tx boltTx) Rollback() error {
	if err := tx.btx.Rollback(); !errors.Is(err, bbolt.ErrTxClosed) {
		return err
	}
	return nil
}

func (tx boltTx) Size() int64 { return tx.btx.Size() }

// boltBucket satisfies storageBucket directly, except for the cursor
// and stats adapters.
type boltBucket struct {
	*bbolt.Bucket
}

func (b boltBucket) Cursor() storageCursor { return b.Bucket.Cursor() }

func (b boltBucket) Stats() bucketStats {
	s := b.Bucket.Stats()
	return bucketStats{
		Keys:      s.KeyN,
		Used:      int64(s.LeafInuse),
		Allocated: int64(s.LeafAlloc + s.BranchAlloc),
	}
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

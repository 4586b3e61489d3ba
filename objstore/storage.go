package objstore

import "errors"

var errBucketNotFound = errors.New("bucket not found")

// storage is one database: a Bolt file or a map held by the memory
// backend. Each object store lives in a root bucket with one nested bucket
// for records and one per index.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil when the bucket is missing. An empty sub names the
	// root bucket itself.
	Bucket(name, sub string) storageBucket

	// CreateBucket is idempotent and creates the root bucket as needed.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket with an empty sub drops the root and everything nested
	// under it.
	DeleteBucket(name, sub string) error

	Commit() error

	// Rollback is a no-op after Commit or a previous Rollback.
	Rollback() error

	Size() int64
}

type storageBucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor
	Stats() bucketStats
}

// bucketStats describes space usage. Allocated may equal Used for backends
// without page accounting.
type bucketStats struct {
	Keys      int
	Used      int64
	Allocated int64
}

// storageCursor walks keys in byte order. Both methods return a nil key
// once the bucket is exhausted.
type storageCursor interface {
	First() (key, value []byte)
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}

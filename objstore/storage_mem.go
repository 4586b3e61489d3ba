package objstore

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"sync"
)

var (
	errMemClosed   = errors.New("in-memory database closed")
	errMemReadOnly = errors.New("read-only transaction")
)

// memBackend keeps databases alive across connections for the lifetime of
// the factory.
type memBackend struct {
	mu  sync.Mutex
	dbs map[string]*memStorage
}

func newMemBackend() *memBackend {
	return &memBackend{dbs: make(map[string]*memStorage)}
}

func (be *memBackend) acquire(name string) (storage, error) {
	be.mu.Lock()
	defer be.mu.Unlock()
	s := be.dbs[name]
	if s == nil {
		s = newMemStorage()
		be.dbs[name] = s
	}
	return s, nil
}

func (be *memBackend) release(name string, s storage) error {
	return nil
}

func (be *memBackend) remove(name string) error {
	be.mu.Lock()
	s := be.dbs[name]
	delete(be.dbs, name)
	be.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (be *memBackend) close() error {
	be.mu.Lock()
	dbs := be.dbs
	be.dbs = make(map[string]*memStorage)
	be.mu.Unlock()
	for _, s := range dbs {
		s.Close()
	}
	return nil
}

// memPath addresses a bucket; sub is empty for root buckets.
type memPath struct {
	name, sub string
}

// memStorage serializes writers with a one-slot semaphore. Committed
// buckets are never mutated: a write transaction copies a bucket the first
// time it touches it, so readers keep a consistent view without locking.
type memStorage struct {
	writer chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	committed map[memPath]*memBucket
	closeOnce sync.Once
}

func newMemStorage() *memStorage {
	return &memStorage{
		writer:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		committed: make(map[memPath]*memBucket),
	}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		select {
		case s.writer <- struct{}{}:
		case <-s.done:
			return nil, errMemClosed
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		if writable {
			<-s.writer
		}
		return nil, errMemClosed
	}
	tx := &memTx{s: s, writable: writable, buckets: s.committed}
	if writable {
		tx.buckets = maps.Clone(s.committed)
		tx.owned = make(map[*memBucket]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.committed = nil
		s.mu.Unlock()
	})
	return nil
}

type memTx struct {
	s        *memStorage
	writable bool
	done     bool
	buckets  map[memPath]*memBucket
	owned    map[*memBucket]bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) check() {
	if tx.done {
		panic("objstore: transaction already finished")
	}
}

// own returns a bucket this transaction may modify, copying the committed
// one on first use.
func (tx *memTx) own(p memPath) *memBucket {
	b := tx.buckets[p]
	if b == nil || tx.owned[b] {
		return b
	}
	b = b.clone()
	tx.buckets[p] = b
	tx.owned[b] = true
	return b
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	tx.check()
	p := memPath{name, sub}
	if tx.buckets[p] == nil {
		return nil
	}
	return &memBucketRef{tx: tx, path: p}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	tx.check()
	if !tx.writable {
		return nil, errMemReadOnly
	}
	for _, p := range []memPath{{name, ""}, {name, sub}} {
		if tx.buckets[p] == nil {
			b := &memBucket{values: make(map[string][]byte)}
			tx.buckets[p] = b
			tx.owned[b] = true
		}
	}
	return &memBucketRef{tx: tx, path: memPath{name, sub}}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	tx.check()
	if !tx.writable {
		return errMemReadOnly
	}
	if tx.buckets[memPath{name, sub}] == nil {
		return errBucketNotFound
	}
	if sub != "" {
		delete(tx.buckets, memPath{name, sub})
		return nil
	}
	maps.DeleteFunc(tx.buckets, func(p memPath, _ *memBucket) bool {
		return p.name == name
	})
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	if !tx.writable {
		return errMemReadOnly
	}
	tx.done = true
	defer func() { <-tx.s.writer }()

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.s.committed == nil {
		return errMemClosed
	}
	tx.s.committed = tx.buckets
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.writable {
		<-tx.s.writer
	}
	return nil
}

func (tx *memTx) Size() int64 {
	var n int64
	for _, b := range tx.buckets {
		n += b.used
	}
	return n
}

// memBucket keeps keys sorted next to a value map keyed by the same bytes.
type memBucket struct {
	keys   [][]byte
	values map[string][]byte
	used   int64
}

func (b *memBucket) clone() *memBucket {
	// keys and values are never modified in place, so sharing them is safe
	return &memBucket{
		keys:   slices.Clone(b.keys),
		values: maps.Clone(b.values),
		used:   b.used,
	}
}

// after returns the position of the first key >= k, or > k when strict.
func (b *memBucket) after(k []byte, strict bool) int {
	i, found := slices.BinarySearchFunc(b.keys, k, bytes.Compare)
	if found && strict {
		i++
	}
	return i
}

func (b *memBucket) entry(i int) ([]byte, []byte) {
	if i >= len(b.keys) {
		return nil, nil
	}
	k := b.keys[i]
	return k, b.values[string(k)]
}

// memBucketRef resolves its bucket on every call because a write
// transaction swaps in a private copy on the first modification.
type memBucketRef struct {
	tx   *memTx
	path memPath
}

func (r *memBucketRef) read() *memBucket {
	r.tx.check()
	if b := r.tx.buckets[r.path]; b != nil {
		return b
	}
	return &memBucket{}
}

func (r *memBucketRef) write() (*memBucket, error) {
	r.tx.check()
	if !r.tx.writable {
		return nil, errMemReadOnly
	}
	b := r.tx.own(r.path)
	if b == nil {
		return nil, errBucketNotFound
	}
	return b, nil
}

func (r *memBucketRef) Get(key []byte) []byte {
	return r.read().values[string(key)]
}

func (r *memBucketRef) Put(key, value []byte) error {
	b, err := r.write()
	if err != nil {
		return err
	}
	k := string(key)
	if old, ok := b.values[k]; ok {
		b.used -= int64(len(old))
	} else {
		i := b.after(key, false)
		b.keys = slices.Insert(b.keys, i, []byte(k))
		b.used += int64(len(k))
	}
	v := append([]byte{}, value...)
	b.values[k] = v
	b.used += int64(len(v))
	return nil
}

func (r *memBucketRef) Delete(key []byte) error {
	b, err := r.write()
	if err != nil {
		return err
	}
	k := string(key)
	old, ok := b.values[k]
	if !ok {
		return nil
	}
	delete(b.values, k)
	i := b.after(key, false)
	b.keys = slices.Delete(b.keys, i, i+1)
	b.used -= int64(len(k) + len(old))
	return nil
}

func (r *memBucketRef) Cursor() storageCursor {
	return &memCursor{ref: r}
}

func (r *memBucketRef) Stats() bucketStats {
	b := r.read()
	return bucketStats{Keys: len(b.keys), Used: b.used, Allocated: b.used}
}

// memCursor remembers the last key it returned rather than a position, so
// it stays valid when the bucket changes underneath it.
type memCursor struct {
	ref  *memBucketRef
	last []byte
	end  bool
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	k, v := c.ref.read().entry(i)
	c.last, c.end = k, k == nil
	return k, v
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.at(0)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.at(c.ref.read().after(seek, false))
}

func (c *memCursor) Next() ([]byte, []byte) {
	switch {
	case c.end:
		return nil, nil
	case c.last == nil:
		return c.First()
	default:
		return c.at(c.ref.read().after(c.last, true))
	}
}

package objstore

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is an open connection to one version of a database. A connection
// stays valid until closed, either explicitly or by its version change
// handler.
type Conn struct {
	f             *Factory
	h             *dbHandle
	id            uuid.UUID
	version       uint64
	versionChange func(c *Conn, oldVersion, newVersion uint64)

	mu      sync.Mutex
	closing bool
	active  int
	done    chan struct{}

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

func newConn(f *Factory, h *dbHandle, version uint64, versionChange func(c *Conn, oldVersion, newVersion uint64)) *Conn {
	return &Conn{
		f:             f,
		h:             h,
		id:            uuid.New(),
		version:       version,
		versionChange: versionChange,
		done:          make(chan struct{}),
	}
}

func (c *Conn) Name() string { return c.h.name }

func (c *Conn) Version() uint64 { return c.version }

// InstanceID uniquely identifies this connection, for logging.
func (c *Conn) InstanceID() uuid.UUID { return c.id }

// Close closes the connection. Transactions already running complete
// first; new ones fail with ErrClosed. Close is idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	finished := c.active == 0
	c.mu.Unlock()
	if finished {
		c.finish()
	}
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Done is closed once the connection is closed and its last transaction
// has finished.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) finish() {
	close(c.done)
	c.f.connClosed(c)
	if c.f.verbose {
		c.f.logger.Debug("connection closed", zap.String("db", c.h.name), zap.Stringer("conn", c.id))
	}
}

func (c *Conn) enter() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return fmt.Errorf("objstore: %s: %w", c.h.name, ErrClosed)
	}
	c.active++
	return nil
}

func (c *Conn) leave() {
	c.mu.Lock()
	c.active--
	finished := c.closing && c.active == 0
	c.mu.Unlock()
	if finished {
		c.finish()
	}
}

func (c *Conn) fireVersionChange(oldVersion, newVersion uint64) {
	if c.Closed() || c.versionChange == nil {
		return
	}
	c.versionChange(c, oldVersion, newVersion)
}

type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Tx runs f in a transaction scoped to the given object stores. A read-write
// transaction commits if f returns nil and rolls back otherwise, so a failed
// transaction never leaves partial changes. Panics in f are returned as
// errors.
//
// The context is only checked before the transaction starts; once started,
// a transaction runs to completion.
func (c *Conn) Tx(ctx context.Context, mode Mode, stores []string, f func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	writable := (mode == ReadWrite)
	if writable {
		c.WriteCount.Add(1)
	} else {
		c.ReadCount.Add(1)
	}

	stx, err := c.h.st.BeginTx(writable)
	if err != nil {
		return fmt.Errorf("objstore: %s: begin %v transaction: %w", c.h.name, mode, err)
	}
	defer stx.Rollback()

	cat, err := loadCatalog(stx)
	if err != nil {
		return err
	}
	scope := make(map[string]bool, len(stores))
	for _, name := range stores {
		if !cat.has(name) {
			return storeErrf(name, "", nil, ErrUnknownStore, "object store does not exist")
		}
		scope[name] = true
	}

	tx := &Tx{
		conn:     c,
		stx:      stx,
		dbName:   c.h.name,
		writable: writable,
		scope:    scope,
		catalog:  cat,
		logger:   c.f.logger,
		verbose:  c.f.verbose,
	}
	err = safelyCall(func() error { return f(tx) })
	if err != nil {
		return err
	}
	if writable {
		return stx.Commit()
	}
	return nil
}

func (c *Conn) View(ctx context.Context, stores []string, f func(tx *Tx) error) error {
	return c.Tx(ctx, ReadOnly, stores, f)
}

func (c *Conn) Update(ctx context.Context, stores []string, f func(tx *Tx) error) error {
	return c.Tx(ctx, ReadWrite, stores, f)
}

// ObjectStoreNames returns the sorted names of existing object stores.
func (c *Conn) ObjectStoreNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.View(ctx, nil, func(tx *Tx) error {
		names = tx.ObjectStoreNames()
		return nil
	})
	return names, err
}

// Meta returns a value stored with UpgradeTx.PutMeta.
func (c *Conn) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	var ok bool
	err := c.View(ctx, nil, func(tx *Tx) error {
		v, ok = tx.catalog.Meta[key]
		return nil
	})
	return v, ok, err
}

// Tx is a transaction over a set of object stores.
type Tx struct {
	conn     *Conn
	stx      storageTx
	dbName   string
	writable bool
	upgrade  bool
	scope    map[string]bool
	catalog  *catalog
	stores   map[string]*ObjectStore
	logger   *zap.Logger
	verbose  bool
}

func (tx *Tx) Writable() bool { return tx.writable }

func (tx *Tx) ObjectStoreNames() []string {
	names := append([]string(nil), tx.catalog.Stores...)
	sort.Strings(names)
	return names
}

// ObjectStore returns the named store, which must be in the transaction's
// scope.
func (tx *Tx) ObjectStore(name string) (*ObjectStore, error) {
	if store := tx.stores[name]; store != nil {
		return store, nil
	}
	if !tx.upgrade && !tx.scope[name] {
		return nil, storeErrf(name, "", nil, ErrScope, "")
	}
	if !tx.catalog.has(name) {
		return nil, storeErrf(name, "", nil, ErrUnknownStore, "object store does not exist")
	}
	ss, err := loadStoreState(tx.stx, name)
	if err != nil {
		return nil, err
	}
	store := &ObjectStore{tx: tx, name: name, state: ss}
	if tx.stores == nil {
		tx.stores = make(map[string]*ObjectStore)
	}
	tx.stores[name] = store
	return store, nil
}

func (tx *Tx) forget(name string) {
	delete(tx.stores, name)
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn()
}

package objstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultBlockedTimeout = time.Second

type Options struct {
	Logger  *zap.Logger
	Verbose bool

	// BlockedTimeout is how long an open or delete request waits for other
	// connections to close after notifying them of the version change.
	BlockedTimeout time.Duration

	// LockTimeout bounds waiting for a database file locked by another
	// process. Bolt factories only.
	LockTimeout time.Duration
	NoSync      bool
	MmapSize    int
}

type backend interface {
	acquire(name string) (storage, error)
	release(name string, s storage) error
	remove(name string) error
	close() error
}

// Factory opens and deletes named, versioned databases. Connections to the
// same name within one factory share the underlying storage.
type Factory struct {
	be             backend
	logger         *zap.Logger
	verbose        bool
	blockedTimeout time.Duration

	mu        sync.Mutex
	dbs       map[string]*dbHandle
	acquiring map[string]chan struct{}
	closed    bool
}

// NewBoltFactory returns a factory keeping one Bolt file per database in dir.
func NewBoltFactory(dir string, opt Options) *Factory {
	return newFactory(newBoltBackend(dir, opt), opt)
}

// NewMemFactory returns a factory keeping databases in memory. Databases
// survive closing their connections, and are lost when the factory closes.
func NewMemFactory(opt Options) *Factory {
	return newFactory(newMemBackend(), opt)
}

func newFactory(be backend, opt Options) *Factory {
	f := &Factory{
		be:             be,
		logger:         opt.Logger,
		verbose:        opt.Verbose,
		blockedTimeout: opt.BlockedTimeout,
		dbs:            make(map[string]*dbHandle),
		acquiring:      make(map[string]chan struct{}),
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.blockedTimeout == 0 {
		f.blockedTimeout = defaultBlockedTimeout
	}
	return f
}

// dbHandle is the shared state of every connection to one database.
type dbHandle struct {
	name string
	st   storage

	// gate serializes open and delete requests, like a per-database
	// request queue.
	gate chan struct{}

	conns   map[*Conn]struct{}
	pending int
	dead    bool
}

// OpenRequest describes how to open a database.
type OpenRequest struct {
	// Version must be positive.
	Version uint64

	// NeedsUpgrade lets the caller request an upgrade transaction even when
	// the version is unchanged, given the names of the existing stores.
	NeedsUpgrade func(storeNames []string) bool

	// Upgrade runs inside a single versionchange transaction. Returning an
	// error aborts the open and rolls back all changes, including the
	// version bump.
	Upgrade func(tx *UpgradeTx, oldVersion, newVersion uint64) error

	// Blocked is called when other connections stay open past the blocked
	// timeout; the request is then abandoned with ErrBlocked.
	Blocked func(oldVersion, newVersion uint64)

	// VersionChange is called on the resulting connection when another
	// request wants to upgrade or delete the database. A well-behaved
	// handler closes the connection. newVersion is 0 for deletion.
	VersionChange func(c *Conn, oldVersion, newVersion uint64)
}

func (f *Factory) Open(ctx context.Context, name string, req OpenRequest) (*Conn, error) {
	if req.Version == 0 {
		return nil, fmt.Errorf("objstore: open %q: version must be positive", name)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := f.enter(name)
		if err != nil {
			if errors.Is(err, errLocked) {
				if req.Blocked != nil {
					req.Blocked(0, req.Version)
				}
				return nil, fmt.Errorf("objstore: open %q: %w: %w", name, ErrBlocked, err)
			}
			return nil, err
		}

		c, retry, err := f.openLocked(ctx, h, req)
		if retry {
			continue
		}
		return c, err
	}
}

// enter returns the handle for name with a pending reference held. The
// storage is acquired outside f.mu since Bolt may wait for a file lock;
// concurrent callers for the same name wait for the first one.
func (f *Factory) enter(name string) (*dbHandle, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, ErrClosed
		}
		if h := f.dbs[name]; h != nil {
			h.pending++
			f.mu.Unlock()
			return h, nil
		}
		if wait := f.acquiring[name]; wait != nil {
			f.mu.Unlock()
			<-wait
			continue
		}
		done := make(chan struct{})
		f.acquiring[name] = done
		f.mu.Unlock()

		st, err := f.be.acquire(name)

		f.mu.Lock()
		delete(f.acquiring, name)
		close(done)
		if err != nil {
			f.mu.Unlock()
			return nil, err
		}
		if f.closed {
			f.mu.Unlock()
			f.be.release(name, st)
			return nil, ErrClosed
		}
		h := &dbHandle{
			name:    name,
			st:      st,
			gate:    make(chan struct{}, 1),
			conns:   make(map[*Conn]struct{}),
			pending: 1,
		}
		f.dbs[name] = h
		f.mu.Unlock()
		return h, nil
	}
}

// leave drops a pending reference and releases the storage once nothing
// refers to it.
func (f *Factory) leave(h *dbHandle) {
	f.mu.Lock()
	h.pending--
	unused := h.pending == 0 && len(h.conns) == 0
	if unused && f.dbs[h.name] == h {
		delete(f.dbs, h.name)
	}
	dead := h.dead
	f.mu.Unlock()

	if unused && !dead {
		if err := f.be.release(h.name, h.st); err != nil {
			f.logger.Error("failed to release database", zap.String("db", h.name), zap.Error(err))
		}
	}
}

func (f *Factory) acquireGate(ctx context.Context, h *dbHandle) error {
	select {
	case h.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *dbHandle) releaseGate() {
	<-h.gate
}

func (f *Factory) openLocked(ctx context.Context, h *dbHandle, req OpenRequest) (c *Conn, retry bool, err error) {
	defer f.leave(h)
	if err := f.acquireGate(ctx, h); err != nil {
		return nil, false, err
	}
	defer h.releaseGate()
	if h.dead {
		return nil, true, nil
	}

	var cat *catalog
	err = f.view(h, func(stx storageTx) error {
		cat, err = loadCatalog(stx)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("objstore: open %q: %w", h.name, err)
	}

	oldVersion := cat.Version
	if req.Version < oldVersion {
		return nil, false, fmt.Errorf("objstore: open %q at version %d: %w (%d)", h.name, req.Version, ErrVersion, oldVersion)
	}

	needsUpgrade := req.Version > oldVersion
	if !needsUpgrade && req.NeedsUpgrade != nil {
		needsUpgrade = req.NeedsUpgrade(append([]string(nil), cat.Stores...))
	}

	if needsUpgrade {
		if err := f.waitForOthers(ctx, h, oldVersion, req.Version, req.Blocked); err != nil {
			return nil, false, fmt.Errorf("objstore: open %q: %w", h.name, err)
		}
		if err := f.runUpgrade(h, oldVersion, req); err != nil {
			return nil, false, fmt.Errorf("objstore: upgrading %q from version %d to %d: %w", h.name, oldVersion, req.Version, err)
		}
		f.logger.Info("database upgraded", zap.String("db", h.name), zap.Uint64("old_version", oldVersion), zap.Uint64("new_version", req.Version))
	}

	c = newConn(f, h, req.Version, req.VersionChange)
	f.mu.Lock()
	h.conns[c] = struct{}{}
	f.mu.Unlock()
	if f.verbose {
		f.logger.Debug("connection opened", zap.String("db", h.name), zap.Uint64("version", req.Version), zap.Stringer("conn", c.id))
	}
	return c, false, nil
}

func (f *Factory) view(h *dbHandle, fn func(stx storageTx) error) error {
	stx, err := h.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer stx.Rollback()
	return fn(stx)
}

func (f *Factory) runUpgrade(h *dbHandle, oldVersion uint64, req OpenRequest) error {
	stx, err := h.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer stx.Rollback()

	cat, err := loadCatalog(stx)
	if err != nil {
		return err
	}
	cat.Version = req.Version

	tx := &Tx{
		stx:      stx,
		dbName:   h.name,
		writable: true,
		upgrade:  true,
		catalog:  cat,
		logger:   f.logger,
		verbose:  f.verbose,
	}
	utx := &UpgradeTx{Tx: tx}
	if req.Upgrade != nil {
		err = safelyCall(func() error {
			return req.Upgrade(utx, oldVersion, req.Version)
		})
		if err != nil {
			return err
		}
	}
	if err := cat.save(stx); err != nil {
		return err
	}
	return stx.Commit()
}

// waitForOthers notifies every other connection of the version change and
// waits for them to close.
func (f *Factory) waitForOthers(ctx context.Context, h *dbHandle, oldVersion, newVersion uint64, blocked func(oldVersion, newVersion uint64)) error {
	f.mu.Lock()
	others := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		others = append(others, c)
	}
	f.mu.Unlock()

	for _, c := range others {
		c.fireVersionChange(oldVersion, newVersion)
	}

	timer := time.NewTimer(f.blockedTimeout)
	defer timer.Stop()
	for _, c := range others {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			f.logger.Warn("request blocked by open connections", zap.String("db", h.name), zap.Uint64("old_version", oldVersion), zap.Uint64("new_version", newVersion))
			if blocked != nil {
				blocked(oldVersion, newVersion)
			}
			return ErrBlocked
		}
	}
	return nil
}

// DeleteDatabase deletes the named database. Open connections are notified
// with a version change to 0 and must close; if they don't, blocked is
// called and ErrBlocked returned, as happens when another process holds
// the database file. Deleting a database that does not exist is not an
// error.
func (f *Factory) DeleteDatabase(ctx context.Context, name string, blocked func(oldVersion, newVersion uint64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := f.enter(name)
	if errors.Is(err, errLocked) {
		f.logger.Warn("delete blocked by another process", zap.String("db", name))
		if blocked != nil {
			blocked(0, 0)
		}
		return fmt.Errorf("objstore: delete %q: %w: %w", name, ErrBlocked, err)
	} else if err != nil {
		return fmt.Errorf("objstore: delete %q: %w", name, err)
	}

	defer f.leave(h)
	if err := f.acquireGate(ctx, h); err != nil {
		return err
	}
	defer h.releaseGate()
	if h.dead {
		return nil
	}

	var oldVersion uint64
	err = f.view(h, func(stx storageTx) error {
		cat, err := loadCatalog(stx)
		if err == nil {
			oldVersion = cat.Version
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("objstore: delete %q: %w", name, err)
	}
	if err := f.waitForOthers(ctx, h, oldVersion, 0, blocked); err != nil {
		return fmt.Errorf("objstore: delete %q: %w", name, err)
	}

	f.mu.Lock()
	h.dead = true
	if f.dbs[name] == h {
		delete(f.dbs, name)
	}
	f.mu.Unlock()

	err = multierr.Append(f.be.release(name, h.st), f.be.remove(name))
	if err != nil {
		return fmt.Errorf("objstore: delete %q: %w", name, err)
	}
	f.logger.Info("database deleted", zap.String("db", name), zap.Uint64("old_version", oldVersion))
	return nil
}

// Close closes every open connection and releases all databases. For
// in-memory factories this discards the data.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	var conns []*Conn
	for _, h := range f.dbs {
		for c := range h.conns {
			conns = append(conns, c)
		}
	}
	f.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return f.be.close()
}

func (f *Factory) connClosed(c *Conn) {
	h := c.h
	f.mu.Lock()
	delete(h.conns, c)
	unused := h.pending == 0 && len(h.conns) == 0
	if unused && f.dbs[h.name] == h {
		delete(f.dbs, h.name)
	}
	dead := h.dead
	f.mu.Unlock()

	if unused && !dead {
		if err := f.be.release(h.name, h.st); err != nil {
			f.logger.Error("failed to release database", zap.String("db", h.name), zap.Error(err))
		}
	}
}

package tabledb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/andreyvit/tabledb/objstore"
	"github.com/andreyvit/tabledb/schema"
)

type Options struct {
	// Factory opens the underlying object store. Without one, every
	// operation fails with ErrUnsupportedEnvironment.
	Factory *objstore.Factory

	Logger  *zap.Logger
	Verbose bool

	// Now returns the time used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Database binds a compiled schema to a storage factory and owns the single
// connection shared by all of its models.
type Database struct {
	schema      *schema.Database
	factory     *objstore.Factory
	logger      *zap.Logger
	verbose     bool
	now         func() time.Time
	fingerprint string
	models      map[string]*Model

	opening singleflight.Group

	mu     sync.Mutex
	conn   *objstore.Conn
	closed bool
}

// New compiles scm and returns a Database that connects on first use.
// A malformed schema yields a *ConfigError.
func New(scm *schema.Database, opt Options) (*Database, error) {
	compiled, err := schema.Compile(scm)
	if err != nil {
		return nil, err
	}
	db := &Database{
		schema:      compiled,
		factory:     opt.Factory,
		logger:      opt.Logger,
		verbose:     opt.Verbose,
		now:         opt.Now,
		fingerprint: fmt.Sprintf("%016x", compiled.Fingerprint()),
		models:      make(map[string]*Model, len(compiled.Tables)),
	}
	if db.logger == nil {
		db.logger = zap.NewNop()
	}
	db.logger = db.logger.With(zap.String("db", compiled.Name))
	if db.now == nil {
		db.now = time.Now
	}
	for _, t := range compiled.Tables {
		db.models[t.Name] = &Model{db: db, table: t}
	}
	return db, nil
}

func (db *Database) Name() string { return db.schema.Name }

func (db *Database) Version() uint64 { return db.schema.Version }

// Schema returns the compiled schema. Callers must not modify it.
func (db *Database) Schema() *schema.Database { return db.schema }

// Model returns the query interface of the named table.
func (db *Database) Model(table string) (*Model, error) {
	m := db.models[table]
	if m == nil {
		return nil, fmt.Errorf("%s: table [%s]: %w", db.schema.Name, table, ErrUnknownTable)
	}
	return m, nil
}

// Connection returns the open connection, opening (and if needed,
// migrating) the database on first use. Concurrent first callers share one
// open request.
//
// Once another request upgrades or deletes the database, the connection is
// closed and Connection fails with ErrClosed.
func (db *Database) Connection(ctx context.Context) (*objstore.Conn, error) {
	if db.factory == nil {
		return nil, ErrUnsupportedEnvironment
	}
	if c, err := db.current(); c != nil || err != nil {
		return c, err
	}
	v, err, _ := db.opening.Do("open", func() (any, error) {
		if c, err := db.current(); c != nil || err != nil {
			return c, err
		}
		return db.open(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*objstore.Conn), nil
}

func (db *Database) current() (*objstore.Conn, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, fmt.Errorf("%s: %w", db.schema.Name, ErrClosed)
	}
	if db.conn != nil && db.conn.Closed() {
		return nil, fmt.Errorf("%s: connection closed after a version change: %w", db.schema.Name, ErrClosed)
	}
	return db.conn, nil
}

func (db *Database) open(ctx context.Context) (*objstore.Conn, error) {
	start := time.Now()
	c, err := db.factory.Open(ctx, db.schema.Name, objstore.OpenRequest{
		Version:       db.schema.Version,
		NeedsUpgrade:  db.needsUpgrade,
		Upgrade:       db.upgrade,
		Blocked:       db.blocked,
		VersionChange: db.versionChange,
	})
	if err != nil {
		return nil, err
	}

	if stored, ok, err := c.Meta(ctx, fingerprintMetaKey); err != nil {
		c.Close()
		return nil, err
	} else if ok && stored != db.fingerprint {
		db.logger.Warn("schema changed without a version bump; existing tables keep their old layout",
			zap.Uint64("version", db.schema.Version),
			zap.String("stored_fingerprint", stored),
			zap.String("fingerprint", db.fingerprint))
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		c.Close()
		return nil, fmt.Errorf("%s: %w", db.schema.Name, ErrClosed)
	}
	db.conn = c
	if db.verbose {
		db.logger.Debug("connection opened",
			zap.Stringer("conn", c.InstanceID()),
			zap.Uint64("version", c.Version()),
			zap.Duration("elapsed", time.Since(start)))
	}
	return c, nil
}

func (db *Database) blocked(oldVersion, newVersion uint64) {
	db.logger.Warn("couldn't open the database due to the operation being blocked",
		zap.Uint64("old_version", oldVersion),
		zap.Uint64("new_version", newVersion))
}

func (db *Database) versionChange(c *objstore.Conn, oldVersion, newVersion uint64) {
	db.logger.Info("database version changed elsewhere, closing connection",
		zap.Stringer("conn", c.InstanceID()),
		zap.Uint64("old_version", oldVersion),
		zap.Uint64("new_version", newVersion))
	c.Close()
}

// Remove closes the connection, if any, and deletes the database with all
// of its tables. The Database stays usable: the next operation creates the
// database anew.
func (db *Database) Remove(ctx context.Context) error {
	if db.factory == nil {
		return ErrUnsupportedEnvironment
	}
	db.mu.Lock()
	c := db.conn
	db.conn = nil
	db.mu.Unlock()
	if c != nil {
		c.Close()
	}
	return RemoveDatabase(ctx, db.factory, db.schema.Name, db.logger)
}

// RemoveDatabase deletes the named database. Connections that stay open
// past the factory's blocked timeout make it fail with ErrBlocked.
func RemoveDatabase(ctx context.Context, factory *objstore.Factory, name string, logger *zap.Logger) error {
	if factory == nil {
		return ErrUnsupportedEnvironment
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	err := factory.DeleteDatabase(ctx, name, func(oldVersion, newVersion uint64) {
		logger.Warn("couldn't delete the database due to the operation being blocked",
			zap.String("name", name),
			zap.Uint64("version", oldVersion))
	})
	if err != nil {
		return fmt.Errorf("%s: remove: %w", name, err)
	}
	logger.Info("database removed", zap.String("name", name))
	return nil
}

// Close closes the connection. Later operations fail with ErrClosed.
func (db *Database) Close() {
	db.mu.Lock()
	c := db.conn
	db.conn = nil
	db.closed = true
	db.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Dump renders the stored tables for debugging and tests.
func (db *Database) Dump(ctx context.Context, f objstore.DumpFlags) (string, error) {
	c, err := db.Connection(ctx)
	if err != nil {
		return "", err
	}
	return c.Dump(ctx, f)
}

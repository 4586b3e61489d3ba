package tabledb

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/andreyvit/tabledb/objstore"
	"github.com/andreyvit/tabledb/schema"
)

// Model runs queries against one table. Every method runs in its own
// transaction, opening the database first if needed.
type Model struct {
	db    *Database
	table *schema.Table
}

func (m *Model) Name() string { return m.table.Name }

func (m *Model) Table() *schema.Table { return m.table }

func (m *Model) Database() *Database { return m.db }

func (m *Model) tx(ctx context.Context, mode objstore.Mode, f func(store *objstore.ObjectStore) error) error {
	c, err := m.db.Connection(ctx)
	if err != nil {
		return err
	}
	return c.Tx(ctx, mode, []string{m.table.Name}, func(tx *objstore.Tx) error {
		store, err := tx.ObjectStore(m.table.Name)
		if err != nil {
			return err
		}
		return f(store)
	})
}

func (m *Model) view(ctx context.Context, f func(store *objstore.ObjectStore) error) error {
	return m.tx(ctx, objstore.ReadOnly, f)
}

func (m *Model) update(ctx context.Context, f func(store *objstore.ObjectStore) error) error {
	return m.tx(ctx, objstore.ReadWrite, f)
}

func (m *Model) trace(op string, fields ...zap.Field) {
	if m.db.verbose {
		m.db.logger.Debug(op, append([]zap.Field{zap.String("table", m.table.Name)}, fields...)...)
	}
}

// Insert adds rec and returns it as submitted. Timestamps are stamped on the
// stored copy only. Inserting a row without its primary key into a table
// with no key generator fails with a *ConfigError before touching the
// store.
func (m *Model) Insert(ctx context.Context, rec Record) (Record, error) {
	if _, err := m.Add(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Add is Insert that returns the primary key of the new record, including
// generated ones.
func (m *Model) Add(ctx context.Context, rec Record) (any, error) {
	if err := schema.VerifyRow(m.table, rec); err != nil {
		return nil, err
	}
	stored := stamp(m.table, maps.Clone(rec), m.db.now().UnixMilli(), true)
	if stored == nil {
		stored = make(Record)
	}
	var key any
	err := m.update(ctx, func(store *objstore.ObjectStore) error {
		var err error
		key, err = store.Add(stored)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.trace("insert", zap.Any("key", key))
	return key, nil
}

// SelectByPrimaryKey returns the record with the given key, or nil.
func (m *Model) SelectByPrimaryKey(ctx context.Context, key any) (Record, error) {
	var rec Record
	err := m.view(ctx, func(store *objstore.ObjectStore) error {
		var err error
		rec, err = store.Get(key)
		return err
	})
	return rec, err
}

// SelectByIndex returns the record with the lowest primary key among those
// whose indexed field matches value, or nil. An undeclared index fails with
// ErrUnknownIndex.
func (m *Model) SelectByIndex(ctx context.Context, index string, value any) (Record, error) {
	var rec Record
	err := m.view(ctx, func(store *objstore.ObjectStore) error {
		idx, err := store.Index(index)
		if err != nil {
			return err
		}
		rec, err = idx.Get(value)
		return err
	})
	return rec, err
}

// SelectAllByIndex returns every record whose indexed field matches value,
// in primary key order.
func (m *Model) SelectAllByIndex(ctx context.Context, index string, value any) ([]Record, error) {
	var recs []Record
	err := m.view(ctx, func(store *objstore.ObjectStore) error {
		idx, err := store.Index(index)
		if err != nil {
			return err
		}
		recs, err = idx.GetAll(value)
		return err
	})
	if recs == nil && err == nil {
		recs = []Record{}
	}
	return recs, err
}

// SelectAll returns every record in primary key order.
func (m *Model) SelectAll(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := m.view(ctx, func(store *objstore.ObjectStore) error {
		var err error
		recs, err = store.GetAll()
		return err
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []Record{}
	}
	m.trace("select all", zap.Int("records", len(recs)))
	return recs, nil
}

// Each calls f for every record in primary key order, within a single read
// transaction. An error returned by f stops the walk and is returned.
func (m *Model) Each(ctx context.Context, f func(key any, rec Record) error) error {
	return m.view(ctx, func(store *objstore.ObjectStore) error {
		c := store.OpenCursor()
		for c.Next() {
			if err := f(c.Key(), c.Record()); err != nil {
				return err
			}
		}
		return c.Err()
	})
}

func (m *Model) Count(ctx context.Context) (int, error) {
	var n int
	err := m.view(ctx, func(store *objstore.ObjectStore) error {
		n = store.Count()
		return nil
	})
	return n, err
}

// UpdateByPrimaryKey merges the fields of partial into the stored record
// and returns the merged record. The read and the write happen in a single
// transaction. A missing record fails with ErrNotFound; a partial that
// changes the primary key fails with a *ConfigError.
func (m *Model) UpdateByPrimaryKey(ctx context.Context, key any, partial Record) (Record, error) {
	pk := m.table.KeyPath()
	if v, ok := partial[pk]; ok && !sameValue(v, key) {
		return nil, configErrorf(pk, "primary key %q cannot be changed by an update", pk)
	}
	now := m.db.now().UnixMilli()
	var merged Record
	err := m.update(ctx, func(store *objstore.ObjectStore) error {
		rec, err := store.Get(key)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%s/%v: record %w", m.table.Name, key, ErrNotFound)
		}
		maps.Copy(rec, partial)
		rec = stamp(m.table, rec, now, false)
		if _, err := store.Put(rec); err != nil {
			return err
		}
		merged = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.trace("update", zap.Any("key", key), zap.Int("fields", len(partial)))
	return merged, nil
}

// DeleteByPrimaryKey removes the record with the given key and returns the
// key. Deleting a missing record succeeds.
func (m *Model) DeleteByPrimaryKey(ctx context.Context, key any) (any, error) {
	err := m.update(ctx, func(store *objstore.ObjectStore) error {
		return store.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	m.trace("delete", zap.Any("key", key))
	return key, nil
}

// Clear removes every record of the table.
func (m *Model) Clear(ctx context.Context) error {
	return m.update(ctx, func(store *objstore.ObjectStore) error {
		return store.Clear()
	})
}

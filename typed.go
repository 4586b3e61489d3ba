package tabledb

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/tabledb/objstore"
	"github.com/andreyvit/tabledb/schema"
)

// TypedModel maps the records of a table to and from values of T, using
// the field names of the tabledb struct tags (see schema.TagName).
type TypedModel[T any] struct {
	m *Model
}

// Typed returns a typed view of the given model.
func Typed[T any](m *Model) *TypedModel[T] {
	return &TypedModel[T]{m}
}

// NewTypedModel is Typed for a table looked up by name.
func NewTypedModel[T any](db *Database, table string) (*TypedModel[T], error) {
	m, err := db.Model(table)
	if err != nil {
		return nil, err
	}
	return Typed[T](m), nil
}

func (tm *TypedModel[T]) Model() *Model { return tm.m }

// Insert adds row and then reloads it, so generated keys and timestamps
// become visible in row.
func (tm *TypedModel[T]) Insert(ctx context.Context, row *T) error {
	rec, err := tm.toRecord(row)
	if err != nil {
		return err
	}
	key, err := tm.m.Add(ctx, rec)
	if err != nil {
		return err
	}
	stored, err := tm.m.SelectByPrimaryKey(ctx, key)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("%s/%v: inserted record %w", tm.m.Name(), key, ErrNotFound)
	}
	return fromRecord(stored, row)
}

// Get returns the row with the given primary key, or nil.
func (tm *TypedModel[T]) Get(ctx context.Context, key any) (*T, error) {
	return tm.one(tm.m.SelectByPrimaryKey(ctx, key))
}

// GetByIndex returns the first row whose indexed field matches value, or
// nil.
func (tm *TypedModel[T]) GetByIndex(ctx context.Context, index string, value any) (*T, error) {
	return tm.one(tm.m.SelectByIndex(ctx, index, value))
}

func (tm *TypedModel[T]) All(ctx context.Context) ([]*T, error) {
	return tm.many(tm.m.SelectAll(ctx))
}

func (tm *TypedModel[T]) Select(ctx context.Context, opt SelectOptions) ([]*T, error) {
	return tm.many(tm.m.Select(ctx, opt))
}

// Update merges partial into the stored record and returns the result.
func (tm *TypedModel[T]) Update(ctx context.Context, key any, partial Record) (*T, error) {
	return tm.one(tm.m.UpdateByPrimaryKey(ctx, key, partial))
}

func (tm *TypedModel[T]) Delete(ctx context.Context, key any) error {
	_, err := tm.m.DeleteByPrimaryKey(ctx, key)
	return err
}

func (tm *TypedModel[T]) one(rec Record, err error) (*T, error) {
	if err != nil || rec == nil {
		return nil, err
	}
	row := new(T)
	if err := fromRecord(rec, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (tm *TypedModel[T]) many(recs []Record, err error) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	rows := make([]*T, len(recs))
	for i, rec := range recs {
		rows[i] = new(T)
		if err := fromRecord(rec, rows[i]); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// toRecord converts row into a record. A zero primary key is dropped when
// the table generates keys.
func (tm *TypedModel[T]) toRecord(row *T) (Record, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(schema.TagName)
	enc.UseCompactInts(true)
	if err := enc.Encode(row); err != nil {
		return nil, fmt.Errorf("%s: encoding %T: %w", tm.m.Name(), row, err)
	}

	dec := msgpack.NewDecoder(&buf)
	dec.SetCustomStructTag(schema.TagName)
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%s: decoding %T: %w", tm.m.Name(), row, err)
	}
	if rec == nil {
		rec = make(Record)
	}
	objstore.NormalizeRecord(rec)

	if pk := tm.m.table.PrimaryKey; pk.AutoIncrement {
		if v, ok := rec[pk.Name]; ok && (v == nil || reflect.ValueOf(v).IsZero()) {
			delete(rec, pk.Name)
		}
	}
	return rec, nil
}

func fromRecord[T any](rec Record, row *T) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	dec := msgpack.NewDecoder(&buf)
	dec.SetCustomStructTag(schema.TagName)
	if err := dec.Decode(row); err != nil {
		return fmt.Errorf("decoding %T: %w", row, err)
	}
	return nil
}

// Package schema describes tabledb databases: tables, their primary keys,
// secondary indexes, timestamps and seed rows.
//
// A schema can be written as a Go literal and passed to Compile, decoded from
// a configuration document with Decode or ParseJSON, or assembled from
// annotations collected in a Registry (optionally read from struct tags).
// All of these produce the same canonical *Database.
package schema

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is a single row. Fields not mentioned by the schema are stored as
// opaque payload.
type Record = map[string]any

type PrimaryKey struct {
	Name          string `json:"name" msgpack:"name" mapstructure:"name"`
	AutoIncrement bool   `json:"autoIncrement" msgpack:"autoIncrement" mapstructure:"autoIncrement"`
	Unique        bool   `json:"unique" msgpack:"unique" mapstructure:"unique"`
}

type Index struct {
	Unique     bool `json:"unique" msgpack:"unique" mapstructure:"unique"`
	MultiEntry bool `json:"multiEntry" msgpack:"multiEntry" mapstructure:"multiEntry"`
}

// Table describes one object store. Index names are the indexed field names.
type Table struct {
	Name        string           `json:"name" msgpack:"name" mapstructure:"name"`
	PrimaryKey  *PrimaryKey      `json:"primaryKey" msgpack:"primaryKey" mapstructure:"primaryKey"`
	Indexes     map[string]Index `json:"indexes" msgpack:"indexes" mapstructure:"indexes"`
	Timestamps  bool             `json:"timestamps" msgpack:"timestamps" mapstructure:"timestamps"`
	InitialRows []Record         `json:"initialRows" msgpack:"initialRows" mapstructure:"initialRows"`
}

type Database struct {
	Name    string   `json:"name" msgpack:"name" mapstructure:"name"`
	Version uint64   `json:"version" msgpack:"version" mapstructure:"version"`
	Tables  []*Table `json:"tables" msgpack:"tables" mapstructure:"tables"`
}

// Table returns the named table, or nil.
func (db *Database) Table(name string) *Table {
	for _, t := range db.Tables {
		if t != nil && t.Name == name {
			return t
		}
	}
	return nil
}

// TableNames returns table names in declaration order.
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.Tables))
	for _, t := range db.Tables {
		if t != nil {
			names = append(names, t.Name)
		}
	}
	return names
}

// IndexNames returns the index names of the table in sorted order.
func (t *Table) IndexNames() []string {
	return slices.Sorted(maps.Keys(t.Indexes))
}

// KeyPath is the record field holding the primary key.
func (t *Table) KeyPath() string {
	if t.PrimaryKey == nil {
		return ""
	}
	return t.PrimaryKey.Name
}

// Fingerprint hashes the canonical encoding of the schema. Two schemas
// with the same fingerprint create identical stores.
func (db *Database) Fingerprint() uint64 {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(db); err != nil {
		panic(fmt.Errorf("schema: fingerprint of %q: %w", db.Name, err))
	}
	return xxhash.Sum64(buf.Bytes())
}

func (db *Database) clone() *Database {
	result := &Database{
		Name:    db.Name,
		Version: db.Version,
		Tables:  make([]*Table, len(db.Tables)),
	}
	for i, t := range db.Tables {
		result.Tables[i] = t.clone()
	}
	return result
}

// clone returns a canonical copy: Indexes and InitialRows are never nil.
func (t *Table) clone() *Table {
	if t == nil {
		return nil
	}
	result := &Table{
		Name:        t.Name,
		Indexes:     make(map[string]Index, len(t.Indexes)),
		Timestamps:  t.Timestamps,
		InitialRows: make([]Record, 0, len(t.InitialRows)),
	}
	if t.PrimaryKey != nil {
		pk := *t.PrimaryKey
		result.PrimaryKey = &pk
	}
	maps.Copy(result.Indexes, t.Indexes)
	for _, row := range t.InitialRows {
		result.InitialRows = append(result.InitialRows, maps.Clone(row))
	}
	return result
}

// Compile validates a schema literal and returns its canonical copy. The
// caller's value is not retained.
func Compile(db *Database) (*Database, error) {
	if db == nil {
		return nil, &ConfigError{Details: Compose("Config has to be an Object")}
	}
	result := db.clone()
	if err := Validate(result); err != nil {
		return nil, err
	}
	return result, nil
}

package schema

import (
	"fmt"
)

// Registry collects table annotations for record types and compiles them
// into a schema. Registries are independent of each other; nothing is
// stored globally.
type Registry struct {
	types  []*TypeDescriptor
	byName map[string]*TypeDescriptor
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*TypeDescriptor),
	}
}

// Type returns the descriptor of the named record type, creating it on
// first use.
func (reg *Registry) Type(name string) *TypeDescriptor {
	if td := reg.byName[name]; td != nil {
		return td
	}
	td := &TypeDescriptor{
		name:   name,
		table:  tableMeta{name: name},
		fields: make(map[string]*fieldMeta),
	}
	reg.types = append(reg.types, td)
	reg.byName[name] = td
	return td
}

// TypeNames returns registered type names in registration order.
func (reg *Registry) TypeNames() []string {
	names := make([]string, len(reg.types))
	for i, td := range reg.types {
		names[i] = td.name
	}
	return names
}

// Compile builds a database schema with one table per type, in the given
// order, or in registration order when no type names are given.
func (reg *Registry) Compile(name string, version uint64, typeNames ...string) (*Database, error) {
	var p problems
	types := reg.types
	if len(typeNames) > 0 {
		types = make([]*TypeDescriptor, 0, len(typeNames))
		for i, tn := range typeNames {
			td := reg.byName[tn]
			if td == nil {
				p.add("any.unknown", quoted(tn)+" is not a registered type", "types", itoa(i))
				continue
			}
			types = append(types, td)
		}
	}

	db := &Database{
		Name:    name,
		Version: version,
	}
	for _, td := range types {
		db.Tables = append(db.Tables, td.build(&p))
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	return Compile(db)
}

// TypeDescriptor holds the annotations of one record type. Applying an
// annotation again to the same field (or to the type) replaces the previous
// one entirely; options are never merged.
type TypeDescriptor struct {
	name     string
	table    tableMeta
	fields   map[string]*fieldMeta
	order    []string
	seeds    []Record
	problems problems
}

type tableMeta struct {
	name       string
	timestamps bool
}

type fieldMeta struct {
	primaryKey *PrimaryKey
	index      *Index
}

func (td *TypeDescriptor) Name() string { return td.name }

// Table sets the table-level annotation. The table name defaults to the
// type name, timestamps default to off.
func (td *TypeDescriptor) Table(opts ...Option) *TypeDescriptor {
	tm := tableMeta{name: td.name}
	td.apply(annotation{kind: "table", table: &tm}, "", opts)
	td.table = tm
	return td
}

// PrimaryKey marks field as the primary key. Defaults: autoIncrement and
// unique.
func (td *TypeDescriptor) PrimaryKey(field string, opts ...Option) *TypeDescriptor {
	pk := &PrimaryKey{Name: field, AutoIncrement: true, Unique: true}
	if fm := td.field(field); fm != nil {
		td.apply(annotation{kind: "primary key", pk: pk}, field, opts)
		fm.primaryKey = pk
	}
	return td
}

// Indexed adds a secondary index on field. Defaults: not unique,
// multiEntry.
func (td *TypeDescriptor) Indexed(field string, opts ...Option) *TypeDescriptor {
	idx := &Index{MultiEntry: true}
	if fm := td.field(field); fm != nil {
		td.apply(annotation{kind: "index", index: idx}, field, opts)
		fm.index = idx
	}
	return td
}

// Seed appends rows inserted when the table is created.
func (td *TypeDescriptor) Seed(rows ...Record) *TypeDescriptor {
	td.seeds = append(td.seeds, rows...)
	return td
}

func (td *TypeDescriptor) field(name string) *fieldMeta {
	if name == "" {
		td.problems.add("any.required", "field name is required", td.name)
		return nil
	}
	fm := td.fields[name]
	if fm == nil {
		fm = new(fieldMeta)
		td.fields[name] = fm
		td.order = append(td.order, name)
	}
	return fm
}

func (td *TypeDescriptor) apply(a annotation, field string, opts []Option) {
	for _, opt := range opts {
		if !opt.apply(&a) {
			path := []string{td.name}
			if field != "" {
				path = append(path, field)
			}
			td.problems.add("annotation.option", fmt.Sprintf("option %q does not apply to %s", opt.name, a.kind), path...)
		}
	}
}

func (td *TypeDescriptor) build(p *problems) *Table {
	p.details = append(p.details, td.problems.details...)
	t := &Table{
		Name:        td.table.name,
		Indexes:     make(map[string]Index),
		Timestamps:  td.table.timestamps,
		InitialRows: td.seeds,
	}
	for _, name := range td.order {
		fm := td.fields[name]
		if fm.primaryKey != nil {
			if t.PrimaryKey != nil {
				p.add("annotation.primaryKey", fmt.Sprintf("%s has more than one primary key: %s and %s", td.name, t.PrimaryKey.Name, name), td.name, name)
			} else {
				t.PrimaryKey = fm.primaryKey
			}
		}
		if fm.index != nil {
			t.Indexes[name] = *fm.index
		}
	}
	return t
}

// Option tunes an annotation. Options that do not apply to the annotation
// they are passed to are reported when the registry is compiled.
type Option struct {
	name  string
	apply func(a *annotation) bool
}

type annotation struct {
	kind  string
	table *tableMeta
	pk    *PrimaryKey
	index *Index
}

// Named sets the table name.
func Named(name string) Option {
	return Option{"name", func(a *annotation) bool {
		if a.table == nil {
			return false
		}
		a.table.name = name
		return true
	}}
}

func Timestamps(on bool) Option {
	return Option{"timestamps", func(a *annotation) bool {
		if a.table == nil {
			return false
		}
		a.table.timestamps = on
		return true
	}}
}

func AutoIncrement(on bool) Option {
	return Option{"autoIncrement", func(a *annotation) bool {
		if a.pk == nil {
			return false
		}
		a.pk.AutoIncrement = on
		return true
	}}
}

// Unique applies to both primary keys and indexes.
func Unique(on bool) Option {
	return Option{"unique", func(a *annotation) bool {
		switch {
		case a.pk != nil:
			a.pk.Unique = on
		case a.index != nil:
			a.index.Unique = on
		default:
			return false
		}
		return true
	}}
}

func MultiEntry(on bool) Option {
	return Option{"multiEntry", func(a *annotation) bool {
		if a.index == nil {
			return false
		}
		a.index.MultiEntry = on
		return true
	}}
}

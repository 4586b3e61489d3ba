package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// TagName is the struct tag read by Register. The first tag element is
// the record field name, as in msgpack and json tags:
//
//	type User struct {
//		_     struct{} `tabledb:"table=users,timestamps"`
//		ID    int64    `tabledb:"id,pk"`
//		Email string   `tabledb:"email,index,unique,multientry=false"`
//		Name  string   `tabledb:"name"`
//	}
//
// Primary key options: autoincrement, unique. Index options: unique,
// multientry. Boolean options take an optional =true or =false.
const TagName = "tabledb"

// Register reads the tabledb tags of T into the registry, keyed by the Go
// type name.
func Register[T any](reg *Registry) *TypeDescriptor {
	return reg.StructType(reflect.TypeFor[T]())
}

// Struct is Register for a sample value.
func (reg *Registry) Struct(sample any) *TypeDescriptor {
	return reg.StructType(reflect.TypeOf(sample))
}

func (reg *Registry) StructType(rt reflect.Type) *TypeDescriptor {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		panic(fmt.Errorf("schema: %v is not a struct", rt))
	}
	td := reg.Type(rt.Name())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag, ok := f.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}
		if f.Name == "_" {
			td.tableTag(tag)
		} else if f.IsExported() {
			td.fieldTag(f, tag)
		}
	}
	return td
}

func (td *TypeDescriptor) tableTag(tag string) {
	var opts []Option
	for _, part := range strings.Split(tag, ",") {
		key, val, hasVal := strings.Cut(strings.TrimSpace(part), "=")
		switch key {
		case "":
		case "table", "name":
			opts = append(opts, Named(val))
		case "timestamps":
			if on, ok := td.tagBool(key, val, hasVal); ok {
				opts = append(opts, Timestamps(on))
			}
		default:
			td.problems.add("annotation.tag", fmt.Sprintf("unknown table tag option %q", key), td.name)
		}
	}
	td.Table(opts...)
}

func (td *TypeDescriptor) fieldTag(f reflect.StructField, tag string) {
	parts := strings.Split(tag, ",")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		name = f.Name
	}

	var isPK, isIndex, hasAutoInc, hasUnique, hasMulti bool
	var pkOpts, idxOpts []Option
	for _, part := range parts[1:] {
		key, val, hasVal := strings.Cut(strings.TrimSpace(part), "=")
		switch strings.ToLower(key) {
		case "pk", "primarykey":
			isPK = true
		case "index", "indexed":
			isIndex = true
		case "autoincrement":
			if on, ok := td.tagBool(key, val, hasVal); ok {
				hasAutoInc = true
				pkOpts = append(pkOpts, AutoIncrement(on))
			}
		case "unique":
			if on, ok := td.tagBool(key, val, hasVal); ok {
				hasUnique = true
				pkOpts = append(pkOpts, Unique(on))
				idxOpts = append(idxOpts, Unique(on))
			}
		case "multientry":
			if on, ok := td.tagBool(key, val, hasVal); ok {
				hasMulti = true
				idxOpts = append(idxOpts, MultiEntry(on))
			}
		case "omitempty", "":
		default:
			td.problems.add("annotation.tag", fmt.Sprintf("unknown tag option %q", key), td.name, name)
		}
	}

	switch {
	case hasAutoInc && !isPK:
		td.problems.add("annotation.tag", "autoincrement requires pk", td.name, name)
	case hasMulti && !isIndex:
		td.problems.add("annotation.tag", "multientry requires index", td.name, name)
	case hasUnique && !isPK && !isIndex:
		td.problems.add("annotation.tag", "unique requires pk or index", td.name, name)
	}
	if isPK {
		td.PrimaryKey(name, pkOpts...)
	}
	if isIndex {
		td.Indexed(name, idxOpts...)
	}
}

func (td *TypeDescriptor) tagBool(key, val string, hasVal bool) (bool, bool) {
	if !hasVal {
		return true, true
	}
	on, err := strconv.ParseBool(val)
	if err != nil {
		td.problems.add("annotation.tag", fmt.Sprintf("invalid value %q for %s", val, key), td.name)
		return false, false
	}
	return on, true
}

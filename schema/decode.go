package schema

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"slices"

	"github.com/go-viper/mapstructure/v2"
)

// ParseJSON decodes a JSON schema document. Integral numbers in seed rows
// become int64.
func ParseJSON(data []byte) (*Database, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Details: []Detail{{Message: err.Error(), Path: []string{"unknown"}, Type: "json.syntax"}}}
	}
	m, ok := fromJSON(doc).(map[string]any)
	if !ok {
		return nil, newConfigError("Config has to be an Object")
	}
	return Decode(m)
}

// Decode builds a schema from a configuration document such as one read
// from JSON or YAML. Missing required keys, wrongly typed values and unknown
// keys are all reported in one *ConfigError.
//
// Per table, initData is accepted as an alias of initialRows.
func Decode(doc map[string]any) (*Database, error) {
	if doc == nil {
		return nil, newConfigError("Config has to be an Object")
	}
	var p problems
	doc = checkDocument(&p, doc)
	if err := p.err(); err != nil {
		return nil, err
	}

	var db Database
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: &md,
		Result:   &db,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, &ConfigError{Details: []Detail{{Message: err.Error(), Path: []string{"unknown"}, Type: "any.invalid"}}}
	}
	slices.Sort(md.Unused)
	for _, key := range md.Unused {
		path := parsePath(key)
		p.add("object.unknown", quoted(path[len(path)-1])+" is not allowed", path...)
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	return Compile(&db)
}

// checkDocument verifies required keys and value types, and returns the
// document with aliases resolved.
func checkDocument(p *problems, doc map[string]any) map[string]any {
	requireString(p, doc, "Database name", "name")
	if v, ok := require(p, doc, "Database version", "version"); ok {
		if f, isNum := toFloat(v); !isNum {
			p.add("number.base", quoted("Database version")+" must be a number", "version")
		} else if f <= 0 {
			p.add("number.positive", quoted("Database version")+" must be a positive number", "version")
		} else if f != math.Trunc(f) {
			p.add("number.integer", quoted("Database version")+" must be an integer", "version")
		}
	}

	v, ok := require(p, doc, "Tables", "tables")
	if !ok {
		return doc
	}
	tables, ok := v.([]any)
	if !ok {
		p.add("array.base", quoted("Tables")+" must be an array", "tables")
		return doc
	}

	resolved := make([]any, len(tables))
	for i, raw := range tables {
		ti := itoa(i)
		t, ok := raw.(map[string]any)
		if !ok {
			p.add("object.base", quoted("tables["+ti+"]")+" must be of type object", "tables", ti)
			resolved[i] = raw
			continue
		}
		resolved[i] = checkTable(p, t, "tables", ti)
	}
	result := maps.Clone(doc)
	result["tables"] = resolved
	return result
}

func checkTable(p *problems, t map[string]any, path ...string) map[string]any {
	requireString(p, t, "Table name", append(path, "name")...)

	if v, ok := t["primaryKey"]; ok && v != nil {
		pk, ok := v.(map[string]any)
		if !ok {
			p.add("object.base", quoted("primaryKey")+" must be of type object", append(path, "primaryKey")...)
		} else {
			pkPath := append(path[:len(path):len(path)], "primaryKey")
			requireString(p, pk, "Primary key name", append(pkPath, "name")...)
			requireBool(p, pk, "Auto increment", append(pkPath, "autoIncrement")...)
			requireBool(p, pk, "Unique", append(pkPath, "unique")...)
		}
	}

	if v, ok := require(p, t, "Indexes", append(path, "indexes")...); ok {
		indexes, ok := v.(map[string]any)
		if !ok {
			p.add("object.base", quoted("Indexes")+" must be of type object", append(path, "indexes")...)
		} else {
			for _, name := range slices.Sorted(maps.Keys(indexes)) {
				raw := indexes[name]
				idxPath := append(path[:len(path):len(path)], "indexes", name)
				idx, ok := raw.(map[string]any)
				if !ok {
					p.add("object.base", quoted(name)+" must be of type object", idxPath...)
					continue
				}
				requireBool(p, idx, "Unique", append(idxPath, "unique")...)
				requireBool(p, idx, "Multi entry", append(idxPath, "multiEntry")...)
			}
		}
	}

	if v, ok := t["timestamps"]; ok && v != nil {
		if _, ok := v.(bool); !ok {
			p.add("boolean.base", quoted("Timestamps")+" must be a boolean", append(path, "timestamps")...)
		}
	}

	result := t
	if rows, ok := t["initData"]; ok {
		result = maps.Clone(t)
		delete(result, "initData")
		if _, both := t["initialRows"]; !both {
			result["initialRows"] = rows
		}
	}
	if v, ok := result["initialRows"]; ok && v != nil {
		rows, ok := v.([]any)
		if !ok {
			p.add("array.base", quoted("Initial data")+" must be an array", append(path, "initialRows")...)
		} else {
			for j, row := range rows {
				if _, ok := row.(map[string]any); !ok {
					p.add("object.base", quoted("initialRows["+itoa(j)+"]")+" must be of type object", append(path, "initialRows", itoa(j))...)
				}
			}
		}
	}
	return result
}

func require(p *problems, m map[string]any, label string, path ...string) (any, bool) {
	v, ok := m[path[len(path)-1]]
	if !ok || v == nil {
		p.add("any.required", quoted(label)+" is required", path...)
		return nil, false
	}
	return v, true
}

func requireString(p *problems, m map[string]any, label string, path ...string) {
	if v, ok := require(p, m, label, path...); ok {
		if _, ok := v.(string); !ok {
			p.add("string.base", quoted(label)+" must be a string", path...)
		}
	}
}

func requireBool(p *problems, m map[string]any, label string, path ...string) {
	if v, ok := require(p, m, label, path...); ok {
		if _, ok := v.(bool); !ok {
			p.add("boolean.base", quoted(label)+" must be a boolean", path...)
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

// fromJSON replaces json.Number values with int64 or float64.
func fromJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = fromJSON(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = fromJSON(e)
		}
		return v
	default:
		return v
	}
}

package schema

const (
	msgMissingPrimaryKey = "Either include primary key as well or set {autoincrement: true}."
	msgNoTable           = "Tables should not be empty/undefined"
)

// Validate checks the structural invariants of a schema and reports every
// violation in one *ConfigError.
func Validate(db *Database) error {
	var p problems
	if db == nil {
		return newConfigError("Config has to be an Object")
	}
	if db.Name == "" {
		p.add("any.required", quoted("Database name")+" is required", "name")
	}
	if db.Version == 0 {
		p.add("number.positive", quoted("Database version")+" must be a positive number", "version")
	}
	if len(db.Tables) == 0 {
		p.add("array.min", quoted("Tables")+" must contain at least 1 items", "tables")
	}

	seen := make(map[string]int, len(db.Tables))
	for i, t := range db.Tables {
		ti := itoa(i)
		if t == nil {
			p.add("object.base", quoted("tables["+ti+"]")+" must be of type object", "tables", ti)
			continue
		}
		if t.Name == "" {
			p.add("any.required", quoted("Table name")+" is required", "tables", ti, "name")
		} else if prev, dup := seen[t.Name]; dup {
			p.add("array.unique", quoted("tables["+ti+"]")+" contains a duplicate value of tables["+itoa(prev)+"]", "tables", ti, "name")
		} else {
			seen[t.Name] = i
		}

		if t.PrimaryKey == nil {
			p.add("any.required", quoted("Primary key")+" is required", "tables", ti, "primaryKey")
		} else if t.PrimaryKey.Name == "" {
			p.add("any.required", quoted("Primary key name")+" is required", "tables", ti, "primaryKey", "name")
		}

		for name := range t.Indexes {
			if name == "" {
				p.add("object.pattern.match", quoted("Indexes")+" must not contain an empty index name", "tables", ti, "indexes")
			}
		}

		if t.PrimaryKey == nil {
			continue
		}
		for j, row := range t.InitialRows {
			if err := VerifyRow(t, row); err != nil {
				p.add("any.custom", err.Error(), "tables", ti, "initialRows", itoa(j))
			}
		}
	}
	return p.err()
}

// VerifyRow checks a row about to be written to t: a table without a key
// generator requires the row to carry its primary key.
func VerifyRow(t *Table, row Record) error {
	if t == nil {
		return newConfigError(msgNoTable)
	}
	pk := t.PrimaryKey
	if pk == nil || pk.AutoIncrement {
		return nil
	}
	if v, ok := row[pk.Name]; !ok || v == nil {
		return newConfigError(msgMissingPrimaryKey)
	}
	return nil
}

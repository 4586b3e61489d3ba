package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpStoreHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndexes
	DumpIndexEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the stores visible to the transaction in a human-readable
// form, for debugging and tests.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s v%d\n", tx.dbName, tx.catalog.Version)
	for _, name := range tx.ObjectStoreNames() {
		if !tx.upgrade && len(tx.scope) > 0 && !tx.scope[name] {
			continue
		}
		tx.dumpStore(&buf, f, name)
	}
	return buf.String()
}

func (tx *Tx) dumpStore(w *strings.Builder, f DumpFlags, name string) {
	ss, err := loadStoreState(tx.stx, name)
	if err != nil {
		fmt.Fprintf(w, "%s ** ERROR: %v\n", name, err)
		return
	}
	s := &ObjectStore{tx: tx, name: name, state: ss}
	st := s.Stats()

	if f.Contains(DumpStoreHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records, key %q, auto_increment = %v, last_key = %d)\n", name, st.Records, ss.KeyPath, ss.AutoIncrement, ss.LastKey)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_entries = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", name, st.IndexEntries, st.DataSize, st.DataAlloc, st.IndexSize, st.IndexAlloc, st.TotalAlloc())
	}

	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		c := s.dataBucket().Cursor()
		var pos int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pos++
			var vle value
			if err := vle.decode(v); err != nil {
				fmt.Fprintf(w, "%s.%d = ** ERROR: %v\n", name, pos, err)
				continue
			}
			rec, err := decodeRecord(vle.Data)
			if err != nil {
				fmt.Fprintf(w, "%s.%d = (m%d) ** ERROR: %v\n", name, pos, vle.ModCount, err)
				continue
			}
			fmt.Fprintf(w, "%s.%d = (m%d) %s %s\n", name, pos, vle.ModCount, keyString(k), must(json.Marshal(rec)))
		}
	}

	if f.Contains(DumpIndexes) {
		for _, is := range ss.sorted {
			tx.dumpIndex(w, f, s, is)
		}
	}
}

func (tx *Tx) dumpIndex(w *strings.Builder, f DumpFlags, s *ObjectStore, is *indexState) {
	fmt.Fprintln(w, dumpSep2)
	prefix := s.name + ".i." + is.name
	fmt.Fprintf(w, "%s (0x%x) key_path = %q, unique = %v, multi_entry = %v\n", prefix, is.Ordinal, is.KeyPath, is.Unique, is.MultiEntry)

	if !f.Contains(DumpIndexEntries) {
		return
	}
	c := s.indexBucket(is).Cursor()
	var pos int
	for k, v := c.First(); k != nil; k, v = c.Next() {
		pos++
		idxKey, pkRaw := k, v
		if !is.Unique {
			n, err := splitKey(k)
			if err != nil {
				fmt.Fprintf(w, "%s.%d: ** ERROR: %v\n", prefix, pos, err)
				continue
			}
			idxKey, pkRaw = k[:n], k[n:]
		}
		fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, keyString(idxKey), keyString(pkRaw))
	}
}

// Dump renders every object store of the database.
func (c *Conn) Dump(ctx context.Context, f DumpFlags) (string, error) {
	var s string
	err := c.View(ctx, nil, func(tx *Tx) error {
		s = tx.Dump(f)
		return nil
	})
	return s, err
}

package tabledb

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/andreyvit/tabledb/objstore"
	"github.com/andreyvit/tabledb/schema"
)

const fingerprintMetaKey = "tabledb.fingerprint"

// needsUpgrade asks for an upgrade at an unchanged version when a declared
// table has no object store.
func (db *Database) needsUpgrade(storeNames []string) bool {
	for _, t := range db.schema.Tables {
		if !slices.Contains(storeNames, t.Name) {
			db.logger.Info("table is missing, upgrading", zap.String("table", t.Name))
			return true
		}
	}
	return false
}

func (db *Database) upgrade(utx *objstore.UpgradeTx, oldVersion, newVersion uint64) error {
	db.logger.Info("upgrading database",
		zap.Uint64("old_version", oldVersion),
		zap.Uint64("new_version", newVersion))

	now := db.now()
	for _, t := range db.schema.Tables {
		exists := utx.HasObjectStore(t.Name)
		if exists && oldVersion > 0 && oldVersion < newVersion {
			db.logger.Info("removing table for the fresh start", zap.String("table", t.Name))
			if err := utx.DeleteObjectStore(t.Name); err != nil {
				return err
			}
			exists = false
		}
		if exists {
			continue
		}
		if err := db.createTable(utx, t, now.UnixMilli()); err != nil {
			return err
		}
	}
	utx.PutMeta(fingerprintMetaKey, db.fingerprint)
	return nil
}

func (db *Database) createTable(utx *objstore.UpgradeTx, t *schema.Table, now int64) error {
	store, err := utx.CreateObjectStore(t.Name, objstore.StoreOptions{
		KeyPath:       t.KeyPath(),
		AutoIncrement: t.PrimaryKey.AutoIncrement,
	})
	if err != nil {
		return err
	}
	for _, name := range t.IndexNames() {
		idx := t.Indexes[name]
		_, err := store.CreateIndex(name, name, objstore.IndexOptions{
			Unique:     idx.Unique,
			MultiEntry: idx.MultiEntry,
		})
		if err != nil {
			return err
		}
	}
	for i, row := range t.InitialRows {
		if err := schema.VerifyRow(t, row); err != nil {
			return fmt.Errorf("%s: initial row %d: %w", t.Name, i, err)
		}
		if _, err := store.Add(stamp(t, maps.Clone(row), now, true)); err != nil {
			return fmt.Errorf("%s: initial row %d: %w", t.Name, i, err)
		}
	}
	db.logger.Info("table created",
		zap.String("table", t.Name),
		zap.Strings("indexes", t.IndexNames()),
		zap.Int("initial_rows", len(t.InitialRows)))
	return nil
}

const (
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
)

// stamp sets the timestamp fields of rec, a private copy, when the table
// keeps timestamps.
func stamp(t *schema.Table, rec Record, now int64, created bool) Record {
	if !t.Timestamps {
		return rec
	}
	if rec == nil {
		rec = make(Record)
	}
	if created {
		rec[CreatedAtField] = now
	}
	rec[UpdatedAtField] = now
	return rec
}

package objstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAddGeneratesKeys(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)

	keys := addUsers(t, c, Record{"email": "a@example.com"}, Record{"email": "b@example.com"})
	deepEqual(t, keys, []any{int64(1), int64(2)})

	keys = addUsers(t, c, Record{"id": 10, "email": "c@example.com"}, Record{"email": "d@example.com"})
	deepEqual(t, keys, []any{10, int64(11)})

	keys = addUsers(t, c, Record{"id": 5, "email": "e@example.com"}, Record{"email": "f@example.com"})
	deepEqual(t, keys, []any{5, int64(12)})
}

func TestAddDoesNotModifyRecord(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	rec := Record{"email": "a@example.com"}
	addUsers(t, c, rec)
	deepEqual(t, rec, Record{"email": "a@example.com"})
}

func TestAddDuplicateKey(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c, Record{"id": 1, "email": "a@example.com"})

	err := c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		users := must(tx.ObjectStore("users"))
		if _, err := users.Add(Record{"email": "b@example.com"}); err != nil {
			return err
		}
		_, err := users.Add(Record{"id": 1, "email": "c@example.com"})
		return err
	})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("** Add = %v, wanted ErrConstraint", err)
	}

	// the whole transaction is rolled back
	deepEqual(t, dump(t, c, DumpRecords), strings.Join([]string{
		`users.1 = (m1) 1 {"email":"a@example.com","id":1}`,
	}, "\n")+"\n")
}

func TestPutReplaces(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c, Record{"email": "a@example.com", "name": "Alice"})

	err := c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		users := must(tx.ObjectStore("users"))
		_, err := users.Put(Record{"id": 1, "email": "alice@example.com", "name": "Alice"})
		return err
	})
	ensure(err)

	err = c.View(context.Background(), []string{"users"}, func(tx *Tx) error {
		users := must(tx.ObjectStore("users"))
		byEmail := must(users.Index("email"))
		deepEqual(t, must(byEmail.Get("a@example.com")), Record(nil))
		deepEqual(t, must(byEmail.Get("alice@example.com"))["id"], any(int64(1)))
		deepEqual(t, users.Count(), 1)
		return nil
	})
	ensure(err)

	deepEqual(t, dump(t, c, DumpRecords|DumpIndexes|DumpIndexEntries), strings.Join([]string{
		`users.1 = (m2) 1 {"email":"alice@example.com","id":1,"name":"Alice"}`,
		`------------------------------------------------------------`,
		`users.i.email (0x1) key_path = "email", unique = true, multi_entry = false`,
		`users.i.email.1: "alice@example.com" => 1`,
		`------------------------------------------------------------`,
		`users.i.name (0x2) key_path = "name", unique = false, multi_entry = false`,
		`users.i.name.1: "Alice" => 1`,
		`------------------------------------------------------------`,
		`users.i.tags (0x3) key_path = "tags", unique = false, multi_entry = true`,
	}, "\n")+"\n")
}

func TestUniqueIndexConstraint(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c, Record{"email": "a@example.com"}, Record{"email": "b@example.com"})

	err := c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		users := must(tx.ObjectStore("users"))
		_, err := users.Put(Record{"id": 2, "email": "a@example.com"})
		return err
	})
	var se *StoreError
	if !errors.As(err, &se) || !errors.Is(err, ErrConstraint) {
		t.Fatalf("** Put = %v, wanted a unique constraint StoreError", err)
	}
	deepEqual(t, se.Index, "email")

	// keeping your own unique value is fine
	err = c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		users := must(tx.ObjectStore("users"))
		_, err := users.Put(Record{"id": 2, "email": "b@example.com", "name": "Bob"})
		return err
	})
	ensure(err)
}

func TestNonUniqueIndex(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c,
		Record{"id": 3, "email": "a@example.com", "name": "Sam"},
		Record{"id": 1, "email": "b@example.com", "name": "Sam"},
		Record{"id": 2, "email": "c@example.com", "name": "Max"},
		Record{"id": 4, "email": "d@example.com"},
	)

	err := c.View(context.Background(), []string{"users"}, func(tx *Tx) error {
		byName := must(must(tx.ObjectStore("users")).Index("name"))
		deepEqual(t, must(byName.Get("Sam"))["id"], any(int64(1)))
		deepEqual(t, ids(must(byName.GetAll("Sam"))), []any{int64(1), int64(3)})
		deepEqual(t, must(byName.Count("Max")), 1)
		deepEqual(t, must(byName.Count("Nobody")), 0)
		deepEqual(t, must(byName.Get("Nobody")), Record(nil))
		return nil
	})
	ensure(err)
}

func TestMultiEntryIndex(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c,
		Record{"email": "a@example.com", "tags": []any{"admin", "dev", "dev"}},
		Record{"email": "b@example.com", "tags": []string{"dev"}},
		Record{"email": "c@example.com", "tags": "ops"},
	)

	err := c.View(context.Background(), []string{"users"}, func(tx *Tx) error {
		byTag := must(must(tx.ObjectStore("users")).Index("tags"))
		deepEqual(t, ids(must(byTag.GetAll("dev"))), []any{int64(1), int64(2)})
		deepEqual(t, ids(must(byTag.GetAll("admin"))), []any{int64(1)})
		deepEqual(t, ids(must(byTag.GetAll("ops"))), []any{int64(3)})
		return nil
	})
	ensure(err)
}

func TestDelete(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c, Record{"email": "a@example.com", "name": "Alice", "tags": []any{"x"}})

	for range 2 {
		err := c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
			return must(tx.ObjectStore("users")).Delete(1)
		})
		ensure(err)
	}

	deepEqual(t, dump(t, c, DumpStoreHeaders|DumpStats), strings.Join([]string{
		`================================================================================`,
		`users (0 records, key "id", auto_increment = true, last_key = 1)`,
		`users.stats: index_entries = 0, data_size = 0, data_alloc = 0, index_size = 0, index_alloc = 0, total_alloc = 0`,
	}, "\n")+"\n")
}

func TestClear(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c, Record{"email": "a@example.com"}, Record{"email": "b@example.com"})

	err := c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		return must(tx.ObjectStore("users")).Clear()
	})
	ensure(err)

	keys := addUsers(t, c, Record{"email": "a@example.com"})
	deepEqual(t, keys, []any{int64(3)})
}

func TestReadOnlyTransaction(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)

	err := c.View(context.Background(), []string{"users"}, func(tx *Tx) error {
		_, err := must(tx.ObjectStore("users")).Add(Record{"email": "a@example.com"})
		return err
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("** Add in View = %v, wanted ErrReadOnly", err)
	}
}

func TestTransactionScope(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, func(utx *UpgradeTx, oldVersion, newVersion uint64) error {
		ensure(createUsers(utx))
		_, err := utx.CreateObjectStore("posts", StoreOptions{KeyPath: "slug"})
		return err
	})
	ctx := context.Background()

	err := c.View(ctx, []string{"users"}, func(tx *Tx) error {
		_, err := tx.ObjectStore("posts")
		return err
	})
	if !errors.Is(err, ErrScope) {
		t.Fatalf("** out of scope ObjectStore = %v, wanted ErrScope", err)
	}

	err = c.View(ctx, []string{"missing"}, func(tx *Tx) error { return nil })
	if !errors.Is(err, ErrUnknownStore) {
		t.Fatalf("** View(missing) = %v, wanted ErrUnknownStore", err)
	}

	err = c.Update(ctx, []string{"posts"}, func(tx *Tx) error {
		_, err := must(tx.ObjectStore("posts")).Add(Record{"title": "Hello"})
		return err
	})
	if !errors.Is(err, ErrData) {
		t.Fatalf("** Add without key = %v, wanted ErrData", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)

	err := c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		_, err := must(tx.ObjectStore("users")).Add(Record{"id": true})
		return err
	})
	if !errors.Is(err, ErrData) {
		t.Fatalf("** Add(id: true) = %v, wanted ErrData", err)
	}

	// values that aren't valid keys are simply not indexed
	addUsers(t, c, Record{"email": map[string]any{"x": 1}, "name": false})
	err = c.View(context.Background(), []string{"users"}, func(tx *Tx) error {
		deepEqual(t, must(tx.ObjectStore("users")).Stats().IndexEntries, 0)
		return nil
	})
	ensure(err)
}

func TestRecordValuesRoundTrip(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	when := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)
	addUsers(t, c, Record{
		"email":   "a@example.com",
		"age":     uint8(42),
		"score":   float32(1.5),
		"when":    when,
		"profile": map[string]any{"likes": []any{1, "two"}},
		"none":    nil,
	})

	err := c.View(context.Background(), []string{"users"}, func(tx *Tx) error {
		deepEqual(t, must(must(tx.ObjectStore("users")).Get(1)), Record{
			"id":      int64(1),
			"email":   "a@example.com",
			"age":     int64(42),
			"score":   1.5,
			"when":    when,
			"profile": map[string]any{"likes": []any{int64(1), "two"}},
			"none":    nil,
		})
		return nil
	})
	ensure(err)
}

func TestCreateIndexOnExistingRecords(t *testing.T) {
	f := setupMem(t)
	ctx := context.Background()
	c := openConn(t, f, "app", 1, func(utx *UpgradeTx, oldVersion, newVersion uint64) error {
		_, err := utx.CreateObjectStore("users", StoreOptions{KeyPath: "id", AutoIncrement: true})
		return err
	})
	addUsers(t, c, Record{"email": "a@example.com"}, Record{"email": "a@example.com"})
	c.Close()

	_, err := f.Open(ctx, "app", OpenRequest{
		Version: 2,
		Upgrade: func(utx *UpgradeTx, oldVersion, newVersion uint64) error {
			_, err := must(utx.ObjectStore("users")).CreateIndex("email", "email", IndexOptions{Unique: true})
			return err
		},
	})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("** CreateIndex over duplicates = %v, wanted ErrConstraint", err)
	}

	c = openConn(t, f, "app", 2, func(utx *UpgradeTx, oldVersion, newVersion uint64) error {
		users := must(utx.ObjectStore("users"))
		_, err := users.CreateIndex("email", "email", IndexOptions{})
		return err
	})
	err = c.View(ctx, []string{"users"}, func(tx *Tx) error {
		users := must(tx.ObjectStore("users"))
		deepEqual(t, users.IndexNames(), []string{"email"})
		deepEqual(t, must(must(users.Index("email")).Count("a@example.com")), 2)
		return nil
	})
	ensure(err)

	err = c.View(ctx, []string{"users"}, func(tx *Tx) error {
		_, err := must(tx.ObjectStore("users")).CreateIndex("name", "name", IndexOptions{})
		return err
	})
	if !errors.Is(err, ErrScope) {
		t.Fatalf("** CreateIndex outside upgrade = %v, wanted ErrScope", err)
	}
}

func TestDeleteObjectStoreAndIndex(t *testing.T) {
	f := setupMem(t)
	ctx := context.Background()
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c, Record{"email": "a@example.com", "name": "Alice"})
	c.Close()

	c = openConn(t, f, "app", 2, func(utx *UpgradeTx, oldVersion, newVersion uint64) error {
		ensure(must(utx.ObjectStore("users")).DeleteIndex("name"))
		utx.PutMeta("fingerprint", "abc")
		return nil
	})
	addUsers(t, c, Record{"email": "c@example.com", "name": "Bob"})
	err := c.View(ctx, []string{"users"}, func(tx *Tx) error {
		users := must(tx.ObjectStore("users"))
		deepEqual(t, users.IndexNames(), []string{"email", "tags"})
		if _, err := users.Index("name"); !errors.Is(err, ErrUnknownIndex) {
			t.Errorf("** Index(name) = %v, wanted ErrUnknownIndex", err)
		}
		return nil
	})
	ensure(err)
	v, ok, err := c.Meta(ctx, "fingerprint")
	ensure(err)
	deepEqual(t, v, "abc")
	deepEqual(t, ok, true)
	c.Close()

	c = openConn(t, f, "app", 3, func(utx *UpgradeTx, oldVersion, newVersion uint64) error {
		ensure(utx.DeleteObjectStore("users"))
		deepEqual(t, utx.HasObjectStore("users"), false)
		return createUsers(utx)
	})
	keys := addUsers(t, c, Record{"email": "a@example.com"})
	deepEqual(t, keys, []any{int64(1)})
}

func TestCursor(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	addUsers(t, c, Record{"id": 20}, Record{"id": 3}, Record{"id": 100})

	err := c.View(context.Background(), []string{"users"}, func(tx *Tx) error {
		var keys []any
		cur := must(tx.ObjectStore("users")).OpenCursor()
		for cur.Next() {
			keys = append(keys, cur.Key())
			deepEqual(t, cur.Record()["id"], cur.Key())
		}
		ensure(cur.Err())
		deepEqual(t, keys, []any{int64(3), int64(20), int64(100)})
		return nil
	})
	ensure(err)
}

func TestPanicInTransaction(t *testing.T) {
	f := setupMem(t)
	c := openConn(t, f, "app", 1, createUsersUpgrade)
	err := c.Update(context.Background(), []string{"users"}, func(tx *Tx) error {
		must(tx.ObjectStore("users")).Add(Record{"email": "a@example.com"})
		panic("oops")
	})
	if err == nil || !strings.Contains(err.Error(), "oops") {
		t.Fatalf("** Update = %v, wanted panic error", err)
	}
	deepEqual(t, dump(t, c, DumpRecords), "")
}

func dump(t testing.TB, c *Conn, f DumpFlags) string {
	t.Helper()
	s := must(c.Dump(context.Background(), f))
	// drop the database header line
	_, s, _ = strings.Cut(s, "\n")
	return s
}

func ids(recs []Record) []any {
	var result []any
	for _, rec := range recs {
		result = append(result, rec["id"])
	}
	return result
}

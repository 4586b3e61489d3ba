package tabledb

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInsertAndSelect(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	rec := Record{"email": "bob@example.com", "name": "Bob"}
	got := must(users.Insert(ctx, rec))
	deepEqual(t, got, Record{"email": "bob@example.com", "name": "Bob"})
	deepEqual(t, rec, Record{"email": "bob@example.com", "name": "Bob"})

	deepEqual(t, must(users.SelectByPrimaryKey(ctx, 2)), Record{
		"id":        int64(2),
		"email":     "bob@example.com",
		"name":      "Bob",
		"createdAt": int64(startMillis),
		"updatedAt": int64(startMillis),
	})
	deepEqual(t, must(users.SelectByPrimaryKey(ctx, 42)), Record(nil))
}

func TestAddReturnsGeneratedKey(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	deepEqual(t, must(users.Add(ctx, Record{"email": "a@example.com"})), any(int64(2)))
	deepEqual(t, must(users.Add(ctx, Record{"id": 10, "email": "b@example.com"})), any(10))
	deepEqual(t, must(users.Add(ctx, Record{"email": "c@example.com"})), any(int64(11)))
}

func TestInsertWithoutKeyIsRejected(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	settings := must(db.Model("settings"))
	ctx := context.Background()

	_, err := settings.Insert(ctx, Record{"value": "dark"})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("** Insert = %v, wanted ConfigError", err)
	}
	deepEqual(t, err.Error(), "Either include primary key as well or set {autoincrement: true}.")
	deepEqual(t, must(settings.Count(ctx)), 0)

	// no transaction was attempted
	deepEqual(t, must(db.Connection(ctx)).WriteCount.Load(), uint64(0))

	must(settings.Insert(ctx, Record{"key": "theme", "value": "dark"}))
	deepEqual(t, must(settings.SelectByPrimaryKey(ctx, "theme")), Record{"key": "theme", "value": "dark"})
}

func TestInsertDuplicateRollsBack(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	_, err := users.Insert(ctx, Record{"email": "admin@example.com", "name": "Impostor"})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("** Insert = %v, wanted ErrConstraint", err)
	}
	deepEqual(t, must(users.Count(ctx)), 1)
	deepEqual(t, must(users.SelectByIndex(ctx, "name", "Impostor")), Record(nil))

	_, err = users.Insert(ctx, Record{"id": 1, "email": "other@example.com"})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("** Insert = %v, wanted ErrConstraint", err)
	}
	deepEqual(t, must(users.Count(ctx)), 1)
}

func TestSelectByIndex(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	must(users.Insert(ctx, Record{"email": "bob1@example.com", "name": "Bob"}))
	must(users.Insert(ctx, Record{"email": "bob2@example.com", "name": "Bob"}))

	deepEqual(t, must(users.SelectByIndex(ctx, "email", "bob2@example.com"))["id"], any(int64(3)))
	deepEqual(t, must(users.SelectByIndex(ctx, "name", "Bob"))["email"], any("bob1@example.com"))
	deepEqual(t, must(users.SelectByIndex(ctx, "name", "Carol")), Record(nil))
	deepEqual(t, ids(must(users.SelectAllByIndex(ctx, "name", "Bob"))), []any{int64(2), int64(3)})
	isempty(t, must(users.SelectAllByIndex(ctx, "name", "Carol")))

	_, err := users.SelectByIndex(ctx, "age", 30)
	if !errors.Is(err, ErrUnknownIndex) || errors.Is(err, ErrNotFound) {
		t.Fatalf("** SelectByIndex(age) = %v, wanted ErrUnknownIndex", err)
	}
}

func TestUpdateByPrimaryKey(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	must(users.Insert(ctx, Record{"email": "bob@example.com", "name": "Bob"}))
	fx.clock.advance(time.Second)

	merged := must(users.UpdateByPrimaryKey(ctx, 2, Record{"name": "Robert", "age": 30}))
	expected := Record{
		"id":        int64(2),
		"email":     "bob@example.com",
		"name":      "Robert",
		"age":       30,
		"createdAt": int64(startMillis),
		"updatedAt": int64(startMillis + 1000),
	}
	deepEqual(t, merged, expected)

	expected["age"] = int64(30)
	deepEqual(t, must(users.SelectByPrimaryKey(ctx, 2)), expected)
	deepEqual(t, must(users.SelectByIndex(ctx, "name", "Bob")), Record(nil))
	deepEqual(t, must(users.SelectByIndex(ctx, "name", "Robert"))["id"], any(int64(2)))

	// repeating the key in the partial is fine
	must(users.UpdateByPrimaryKey(ctx, 2, Record{"id": int64(2), "age": 31}))
}

func TestUpdateMissingRecord(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	_, err := users.UpdateByPrimaryKey(ctx, 42, Record{"name": "Nobody"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("** UpdateByPrimaryKey = %v, wanted ErrNotFound", err)
	}
	deepEqual(t, must(users.Count(ctx)), 1)
}

func TestUpdateCannotChangeKey(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))

	_, err := users.UpdateByPrimaryKey(context.Background(), 1, Record{"id": 2})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("** UpdateByPrimaryKey = %v, wanted ConfigError", err)
	}
	deepEqual(t, ce.Paths(), []string{"id"})
}

func TestUpdateUniqueViolation(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	must(users.Insert(ctx, Record{"email": "bob@example.com", "name": "Bob"}))
	_, err := users.UpdateByPrimaryKey(ctx, 2, Record{"email": "admin@example.com", "name": "Robert"})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("** UpdateByPrimaryKey = %v, wanted ErrConstraint", err)
	}
	deepEqual(t, must(users.SelectByPrimaryKey(ctx, 2))["name"], any("Bob"))
}

func TestDeleteByPrimaryKey(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	must(users.Insert(ctx, Record{"email": "bob@example.com", "name": "Bob"}))
	deepEqual(t, must(users.DeleteByPrimaryKey(ctx, 2)), any(2))
	deepEqual(t, must(users.SelectByPrimaryKey(ctx, 2)), Record(nil))
	deepEqual(t, must(users.SelectByIndex(ctx, "email", "bob@example.com")), Record(nil))

	deepEqual(t, must(users.DeleteByPrimaryKey(ctx, 2)), any(2))
	deepEqual(t, must(users.Count(ctx)), 1)

	_, err := users.DeleteByPrimaryKey(ctx, true)
	if !errors.Is(err, ErrData) {
		t.Fatalf("** DeleteByPrimaryKey(true) = %v, wanted ErrData", err)
	}
}

func TestEach(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	must(users.Insert(ctx, Record{"email": "bob@example.com", "name": "Bob"}))
	must(users.Insert(ctx, Record{"email": "carol@example.com", "name": "Carol"}))

	var keys []any
	var names []any
	ensure(users.Each(ctx, func(key any, rec Record) error {
		keys = append(keys, key)
		names = append(names, rec["name"])
		return nil
	}))
	deepEqual(t, keys, []any{int64(1), int64(2), int64(3)})
	deepEqual(t, names, []any{"Admin", "Bob", "Carol"})

	stop := errors.New("stop")
	var n int
	err := users.Each(ctx, func(key any, rec Record) error {
		n++
		return stop
	})
	deepEqual(t, err, stop)
	deepEqual(t, n, 1)
}

func TestClear(t *testing.T) {
	fx := setup(t)
	db := fx.open(t, appSchema(1))
	users := must(db.Model("users"))
	ctx := context.Background()

	ensure(users.Clear(ctx))
	deepEqual(t, must(users.Count(ctx)), 0)
	deepEqual(t, must(users.Add(ctx, Record{"email": "bob@example.com"})), any(int64(2)))
}

func ids(recs []Record) []any {
	result := make([]any, len(recs))
	for i, rec := range recs {
		result[i] = rec["id"]
	}
	return result
}

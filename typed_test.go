package tabledb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andreyvit/tabledb/schema"
)

type Person struct {
	_         struct{} `tabledb:"table=people,timestamps"`
	ID        int64    `tabledb:"id,pk"`
	Email     string   `tabledb:"email,index,unique,multientry=false"`
	Name      string   `tabledb:"name,index"`
	Tags      []string `tabledb:"tags,index,omitempty"`
	Age       int      `tabledb:"age,omitempty"`
	CreatedAt int64    `tabledb:"createdAt,omitempty"`
	UpdatedAt int64    `tabledb:"updatedAt,omitempty"`
}

type Preference struct {
	_     struct{} `tabledb:"table=prefs"`
	Key   string   `tabledb:"key,pk,autoincrement=false"`
	Value string   `tabledb:"value"`
}

func setupTyped(t testing.TB) (*fixture, *Database) {
	t.Helper()
	reg := schema.NewRegistry()
	schema.Register[Person](reg)
	schema.Register[Preference](reg)
	scm, err := reg.Compile("typed", 1)
	if err != nil {
		t.Fatalf("** Compile failed: %v", err)
	}
	fx := setup(t)
	return fx, fx.open(t, scm)
}

func TestTypedInsertAndGet(t *testing.T) {
	fx, db := setupTyped(t)
	people := must(NewTypedModel[Person](db, "people"))
	ctx := context.Background()

	bob := &Person{Email: "bob@example.com", Name: "Bob", Tags: []string{"admin", "ops"}}
	ensure(people.Insert(ctx, bob))
	deepEqual(t, bob.ID, int64(1))
	deepEqual(t, bob.CreatedAt, int64(startMillis))

	deepEqual(t, must(people.Get(ctx, 1)), &Person{
		ID:        1,
		Email:     "bob@example.com",
		Name:      "Bob",
		Tags:      []string{"admin", "ops"},
		CreatedAt: startMillis,
		UpdatedAt: startMillis,
	})
	deepEqual(t, must(people.Get(ctx, 2)), (*Person)(nil))
	deepEqual(t, must(people.GetByIndex(ctx, "tags", "ops")).ID, int64(1))
	deepEqual(t, must(people.GetByIndex(ctx, "email", "bob@example.com")).Name, "Bob")

	fx.clock.advance(time.Second)
	updated := must(people.Update(ctx, int64(1), Record{"age": 33}))
	deepEqual(t, updated.Age, 33)
	deepEqual(t, updated.UpdatedAt, int64(startMillis+1000))
	deepEqual(t, updated.CreatedAt, int64(startMillis))
}

func TestTypedSelect(t *testing.T) {
	_, db := setupTyped(t)
	people := must(NewTypedModel[Person](db, "people"))
	ctx := context.Background()

	for _, p := range []*Person{
		{Email: "c@example.com", Name: "Carol", Age: 25},
		{Email: "a@example.com", Name: "alice", Age: 31},
		{Email: "b@example.com", Name: "Bob", Age: 40},
	} {
		ensure(people.Insert(ctx, p))
	}

	var got []string
	for _, p := range must(people.Select(ctx, SelectOptions{SortBy: []string{"name"}})) {
		got = append(got, p.Name)
	}
	deepEqual(t, got, []string{"alice", "Bob", "Carol"})

	deepEqual(t, len(must(people.All(ctx))), 3)

	ensure(people.Delete(ctx, int64(2)))
	deepEqual(t, len(must(people.All(ctx))), 2)
}

func TestTypedExplicitKeys(t *testing.T) {
	_, db := setupTyped(t)
	prefs := Typed[Preference](must(db.Model("prefs")))
	ctx := context.Background()

	ensure(prefs.Insert(ctx, &Preference{Key: "theme", Value: "dark"}))
	deepEqual(t, must(prefs.Get(ctx, "theme")), &Preference{Key: "theme", Value: "dark"})

	err := prefs.Insert(ctx, &Preference{Key: "theme", Value: "light"})
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("** Insert = %v, wanted ErrConstraint", err)
	}

	// a zero key is a real key when the table has no key generator
	ensure(prefs.Insert(ctx, &Preference{Value: "empty"}))
	deepEqual(t, must(prefs.Get(ctx, "")).Value, "empty")
}

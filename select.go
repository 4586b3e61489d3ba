package tabledb

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/andreyvit/tabledb/objstore"
	"github.com/andreyvit/tabledb/sorter"
)

// SelectOptions describe the stages of Select. Zero values skip a stage.
type SelectOptions struct {
	Where Where

	// SortBy lists record fields to order by, the first being the primary
	// criterion. See sorter.Compare for how values are compared.
	SortBy []string

	// OrderByDescending reverses the sorted result. It has no effect without
	// SortBy.
	OrderByDescending bool

	// Limit caps the number of records returned; 0 means no limit.
	Limit int
}

// Where narrows the record set of Select. It is one of Match, Filter or
// Predicate.
type Where interface {
	apply(recs []Record) []Record
}

// Match keeps records where at least one of the listed fields equals the
// given value. Numbers compare by value regardless of their Go type. An
// empty Match keeps everything.
type Match map[string]any

// Filter transforms the complete record set.
type Filter func(recs []Record) []Record

// Predicate keeps the records it returns true for.
type Predicate func(rec Record) bool

func (w Match) apply(recs []Record) []Record {
	if len(w) == 0 {
		return recs
	}
	result := make([]Record, 0, len(recs))
	for _, rec := range recs {
		for field, want := range w {
			if v, ok := rec[field]; ok && sameValue(v, want) {
				result = append(result, rec)
				break
			}
		}
	}
	return result
}

func (w Filter) apply(recs []Record) []Record {
	if w == nil {
		return recs
	}
	return w(recs)
}

func (w Predicate) apply(recs []Record) []Record {
	if w == nil {
		return recs
	}
	result := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if w(rec) {
			result = append(result, rec)
		}
	}
	return result
}

// sameValue compares keys the way the store does, so that int 1 equals the
// stored int64(1); other values must be deeply equal.
func sameValue(a, b any) bool {
	if c, err := objstore.CompareKeys(a, b); err == nil {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// Select loads all records, then applies opt.Where, sorts by opt.SortBy and
// truncates to opt.Limit.
func (m *Model) Select(ctx context.Context, opt SelectOptions) ([]Record, error) {
	if opt.Limit < 0 {
		return nil, configErrorf("limit", `"limit" must be greater than or equal to 0`)
	}
	recs, err := m.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	if opt.Where != nil {
		recs = opt.Where.apply(recs)
		if recs == nil {
			recs = []Record{}
		}
	}
	if len(opt.SortBy) > 0 {
		sorter.SortBy(recs, opt.SortBy, opt.OrderByDescending)
	}
	if opt.Limit > 0 && len(recs) > opt.Limit {
		recs = recs[:opt.Limit]
	}
	m.trace("select", zap.Int("records", len(recs)))
	return recs, nil
}

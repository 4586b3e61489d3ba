package sorter

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type row = map[string]any

func TestSortValues(t *testing.T) {
	tests := []struct {
		input    []any
		expected []any
	}{
		{[]any{}, []any{}},
		{[]any{1}, []any{1}},
		{[]any{1, 3, 2}, []any{1, 2, 3}},
		{[]any{nil, 3, 2}, []any{nil, 2, 3}},
		{[]any{"2", "1", "110", "101"}, []any{"1", "2", "101", "110"}},
		{[]any{"2", "1", "120", "101", "12"}, []any{"1", "2", "12", "101", "120"}},
		{[]any{"2", "1", 100, "101", "12"}, []any{"1", "2", "12", 100, "101"}},
		{[]any{"v", "b", "c", "a", "a"}, []any{"a", "a", "b", "c", "v"}},
		{[]any{"b", "A", "a", "B"}, []any{"A", "a", "b", "B"}},
		{[]any{int64(3), 2.5, uint8(1), "-1"}, []any{"-1", uint8(1), 2.5, int64(3)}},
	}
	for _, tt := range tests {
		actual := append([]any{}, tt.input...)
		Sort(actual, false)
		assert.DeepEqual(t, actual, tt.expected)
	}
}

func TestSortValuesDescending(t *testing.T) {
	values := []any{"2", "1", "12"}
	Sort(values, true)
	assert.DeepEqual(t, values, []any{"12", "2", "1"})
}

func TestSortByKey(t *testing.T) {
	rows := []row{
		{"val": 10, "key": 3},
		{"val": 10, "key": 1},
		{"val": 10, "key": -1},
	}
	SortBy(rows, []string{"key"}, false)
	assert.DeepEqual(t, rows, []row{
		{"val": 10, "key": -1},
		{"val": 10, "key": 1},
		{"val": 10, "key": 3},
	})

	SortBy(rows, []string{"key"}, true)
	assert.DeepEqual(t, rows, []row{
		{"val": 10, "key": 3},
		{"val": 10, "key": 1},
		{"val": 10, "key": -1},
	})
}

func TestSortByIsStable(t *testing.T) {
	rows := []row{
		{"id": 1, "val": 10},
		{"id": 2, "val": 10},
		{"id": 3, "val": 5},
	}
	SortBy(rows, []string{"val"}, false)
	assert.DeepEqual(t, ids(rows), []any{3, 1, 2})

	// descending reverses the final order, ties included
	SortBy(rows, []string{"val"}, true)
	assert.DeepEqual(t, ids(rows), []any{2, 1, 3})
}

func TestSortByText(t *testing.T) {
	rows := []row{
		{"val": 12, "key": "abc"},
		{"val": 100, "key": "cde"},
		{"val": 10, "key": "BCD"},
	}
	SortBy(rows, []string{"key"}, false)
	assert.DeepEqual(t, column(rows, "key"), []any{"abc", "BCD", "cde"})

	rows = []row{{"key": "a"}, {"key": "a"}, {"key": "b"}}
	SortBy(rows, []string{"key"}, true)
	assert.DeepEqual(t, column(rows, "key"), []any{"b", "a", "a"})
}

func TestSortByDate(t *testing.T) {
	rows := []row{
		{"val": 12, "date": "2021-12-07T14:10:53.231Z"},
		{"val": 10, "date": "2021-11-07T14:10:53.231Z"},
		{"val": 1, "date": "2020-11-07T14:10:53.231Z"},
	}
	SortBy(rows, []string{"date"}, false)
	assert.DeepEqual(t, column(rows, "val"), []any{1, 10, 12})

	SortBy(rows, []string{"date"}, true)
	assert.DeepEqual(t, column(rows, "val"), []any{12, 10, 1})
}

func TestSortByFirstKeyDominates(t *testing.T) {
	rows := []row{
		{"val": 12, "date": "2021-12-07T14:10:53.231Z"},
		{"val": 10, "date": "2021-11-07T14:10:53.231Z"},
		{"val": 100, "date": "2020-11-07T14:10:53.231Z"},
		{"val": 1, "date": "2020-11-07T14:10:53.231Z"},
	}
	SortBy(rows, []string{"date", "val"}, false)
	assert.DeepEqual(t, column(rows, "val"), []any{1, 100, 10, 12})

	SortBy(rows, []string{"val", "date"}, false)
	assert.DeepEqual(t, column(rows, "val"), []any{1, 10, 12, 100})
}

func TestSortByNoKeys(t *testing.T) {
	rows := []row{{"id": 1}, {"id": 2}}
	SortBy(rows, nil, false)
	assert.DeepEqual(t, ids(rows), []any{1, 2})
	SortBy(rows, nil, true)
	assert.DeepEqual(t, ids(rows), []any{2, 1})
}

func TestCompare(t *testing.T) {
	t0 := time.Date(2021, 11, 7, 14, 10, 53, 0, time.UTC)
	tests := []struct {
		a, b     any
		expected int
	}{
		{1, 2, -1},
		{2.0, int64(2), 0},
		{"10", 9, 1},
		{" 7 ", "7", 0},
		{true, false, 1},
		{"", "0", -1},
		{"NaN", "Inf", 1},
		{t0, t0.Add(time.Second), -1},
		{"2021-11-07", t0, -1},
		{"2021-11-08", t0, 1},
		{"not a date", t0, 1},
		{"not a number", 42, 1},
		{"   ", 0, -1},
		{(*time.Time)(nil), 0, -1},
		{t0.UnixMilli(), t0, 0},
		{nil, "a", -1},
		{"Apple", "apple", 0},
		{"apple", "Banana", -1},
	}
	for _, tt := range tests {
		assert.Check(t, is.Equal(Compare(tt.a, tt.b), tt.expected), "Compare(%v, %v)", tt.a, tt.b)
		assert.Check(t, is.Equal(Compare(tt.b, tt.a), -tt.expected), "Compare(%v, %v)", tt.b, tt.a)
	}
}

func TestCompareMixedValuesIsTransitive(t *testing.T) {
	d := "1970-01-01T00:00:00.005Z"
	values := []any{"abc", d, "9", nil, 3, time.UnixMilli(7), "Zed", ""}
	for _, a := range values {
		for _, b := range values {
			for _, c := range values {
				if Compare(a, b) < 0 && Compare(b, c) < 0 {
					assert.Check(t, is.Equal(Compare(a, c), -1), "%v < %v < %v", a, b, c)
				}
			}
		}
	}

	Sort(values, false)
	assert.DeepEqual(t, values, []any{nil, "", 3, d, time.UnixMilli(7), "9", "abc", "Zed"})
}

func ids(rows []row) []any {
	return column(rows, "id")
}

func column(rows []row, key string) []any {
	result := make([]any, 0, len(rows))
	for _, r := range rows {
		result = append(result, r[key])
	}
	return result
}

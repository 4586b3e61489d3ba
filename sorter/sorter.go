// Package sorter orders query results by loosely typed field values.
//
// Every value falls into one of three ranks, ordered as listed:
//
//  1. nil and blank strings;
//  2. numbers and dates on a single Unix-millisecond axis (numeric strings,
//     booleans as 0 and 1, time.Time and date strings);
//  3. everything else, as case-insensitive text.
//
// Values are compared by rank first and within their rank second, so "2"
// sorts before "12", "Bob" sorts after "alice", and any mix of values has a
// consistent order.
package sorter

import (
	"cmp"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are the string forms recognized as dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

const (
	rankEmpty = iota
	rankNumeric
	rankText
)

// sortKey is the comparable form of a value.
type sortKey struct {
	rank int
	num  float64
	text string
}

func keyOf(v any) sortKey {
	if s, ok := v.(string); v == nil || ok && strings.TrimSpace(s) == "" {
		return sortKey{rank: rankEmpty}
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return sortKey{rank: rankEmpty}
	}
	if f, ok := number(v); ok {
		return sortKey{rank: rankNumeric, num: f}
	}
	if t, ok := date(v); ok {
		return sortKey{rank: rankNumeric, num: float64(t.UnixMilli()) + float64(t.Nanosecond()%1e6)/1e6}
	}
	return sortKey{rank: rankText, text: text(v)}
}

// Compare returns -1 if a sorts before b, 1 if after, and 0 if they are
// equivalent.
func Compare(a, b any) int {
	ka, kb := keyOf(a), keyOf(b)
	if c := cmp.Compare(ka.rank, kb.rank); c != 0 {
		return c
	}
	if c := cmp.Compare(ka.num, kb.num); c != 0 {
		return c
	}
	return strings.Compare(ka.text, kb.text)
}

// SortBy sorts rows in place by the given field names. The first key is the
// primary criterion, later keys break ties. Equal rows keep their relative
// order. With desc the final order is reversed.
func SortBy[M ~map[string]any](rows []M, keys []string, desc bool) {
	if len(keys) == 0 {
		if desc {
			slices.Reverse(rows)
		}
		return
	}
	slices.SortStableFunc(rows, func(a, b M) int {
		for _, k := range keys {
			if c := Compare(a[k], b[k]); c != 0 {
				return c
			}
		}
		return 0
	})
	if desc {
		slices.Reverse(rows)
	}
}

// Sort sorts plain values in place.
func Sort(values []any, desc bool) {
	slices.SortStableFunc(values, Compare)
	if desc {
		slices.Reverse(values)
	}
}

// number reports the numeric value of v. Booleans count as 1 and 0. Strings
// are numeric when they parse as finite numbers; blank strings are not.
func number(v any) (float64, bool) {
	switch v := v.(type) {
	case nil:
		return 0, false
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func date(v any) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func text(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(v)
	case []byte:
		return strings.ToLower(string(v))
	case interface{ String() string }:
		return strings.ToLower(v.String())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	default:
		return ""
	}
}

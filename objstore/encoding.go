package objstore

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is a single stored object. Field values are primitives, slices,
// nested maps and time.Time.
type Record = map[string]any

func encodeMsgpack(buf []byte, v any) ([]byte, error) {
	w := appendWriter(buf)
	enc := msgpack.GetEncoder()
	enc.Reset(&w)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("msgpack: encoding %T: %w", v, err)
	}
	return []byte(w), nil
}

func decodeMsgpack(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec map[string]any
	if err := decodeMsgpack(data, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = make(Record)
	}
	return NormalizeRecord(rec), nil
}

// NormalizeRecord converts values to the canonical forms that records have
// after a round trip through the store: integers become int64 (or uint64
// when they don't fit), float32 becomes float64, and times are in UTC.
// Nested maps and slices are normalized recursively. The record is modified
// in place and returned.
func NormalizeRecord(rec Record) Record {
	for k, v := range rec {
		rec[k] = Normalize(v)
	}
	return rec
}

// Normalize is NormalizeRecord for a single value.
func Normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return uintValue(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return uintValue(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.UTC()
	case map[string]any:
		return NormalizeRecord(v)
	case []any:
		for i, e := range v {
			v[i] = Normalize(e)
		}
		return v
	default:
		return v
	}
}

func uintValue(v uint64) any {
	if v <= math.MaxInt64 {
		return int64(v)
	}
	return v
}

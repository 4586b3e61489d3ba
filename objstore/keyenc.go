package objstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Keys are encoded so that bytes.Compare orders them the way the store
// orders keys: numbers, then dates, then strings, then binary, then arrays.
// Every encoding is self-delimiting, so no encoded key is a prefix of
// another one; non-unique index entries rely on that.
const (
	keyTagArrayEnd = 0x00
	keyTagNumber   = 0x10
	keyTagDate     = 0x20
	keyTagString   = 0x30
	keyTagBinary   = 0x40
	keyTagArray    = 0x50

	keyBytesEnd    = 0x01
	keyBytesEscape = 0xFF

	maxKeyDepth = 32
)

var timeType = reflect.TypeOf(time.Time{})

func encodeKey(key any) ([]byte, error) {
	return appendKey(nil, key, 0)
}

// ValidKey reports whether v can be used as a primary or index key.
func ValidKey(v any) bool {
	_, err := encodeKey(v)
	return err == nil
}

// CompareKeys orders two keys the way an object store does.
func CompareKeys(a, b any) (int, error) {
	ra, err := encodeKey(a)
	if err != nil {
		return 0, err
	}
	rb, err := encodeKey(b)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(ra, rb), nil
}

func appendKey(buf []byte, key any, depth int) ([]byte, error) {
	if depth > maxKeyDepth {
		return nil, fmt.Errorf("%w: key nested too deeply", ErrData)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: nil is not a valid key", ErrData)
	}
	if t, ok := key.(time.Time); ok {
		buf = append(buf, keyTagDate)
		return appendFloatKey(buf, float64(t.UnixMilli())), nil
	}

	rv := reflect.ValueOf(key)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf = append(buf, keyTagNumber)
		return appendFloatKey(buf, float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf = append(buf, keyTagNumber)
		return appendFloatKey(buf, float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return nil, fmt.Errorf("%w: NaN is not a valid key", ErrData)
		}
		buf = append(buf, keyTagNumber)
		return appendFloatKey(buf, f), nil
	case reflect.String:
		buf = append(buf, keyTagString)
		return appendEscapedKey(buf, rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			buf = append(buf, keyTagBinary)
			return appendEscapedKey(buf, string(rv.Bytes())), nil
		}
		buf = append(buf, keyTagArray)
		n := rv.Len()
		for i := 0; i < n; i++ {
			var err error
			buf, err = appendKey(buf, rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, keyTagArrayEnd), nil
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return appendKey(buf, rv.Convert(timeType).Interface(), depth)
		}
	}
	return nil, fmt.Errorf("%w: %T is not a valid key", ErrData, key)
}

func appendFloatKey(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // -0 == +0
	}
	u := math.Float64bits(f)
	if u&(1<<63) != 0 {
		u = ^u
	} else {
		u |= 1 << 63
	}
	return binary.BigEndian.AppendUint64(buf, u)
}

func decodeFloatKey(b []byte) float64 {
	u := binary.BigEndian.Uint64(b)
	if u&(1<<63) != 0 {
		u &^= 1 << 63
	} else {
		u = ^u
	}
	return math.Float64frombits(u)
}

func appendEscapedKey(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		buf = append(buf, c)
		if c == 0 {
			buf = append(buf, keyBytesEscape)
		}
	}
	return append(buf, 0, keyBytesEnd)
}

func decodeKey(raw []byte) (any, error) {
	v, rest, err := decodeKeyPart(raw)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, dataErrf(raw, len(raw)-len(rest), nil, "trailing bytes after key")
	}
	return v, nil
}

// splitKey returns the length of the first encoded key in raw.
func splitKey(raw []byte) (int, error) {
	_, rest, err := decodeKeyPart(raw)
	if err != nil {
		return 0, err
	}
	return len(raw) - len(rest), nil
}

func decodeKeyPart(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, dataErrf(b, 0, nil, "empty key")
	}
	switch tag, body := b[0], b[1:]; tag {
	case keyTagNumber, keyTagDate:
		if len(body) < 8 {
			return nil, nil, dataErrf(b, 1, nil, "truncated number key")
		}
		f := decodeFloatKey(body)
		if tag == keyTagDate {
			return time.UnixMilli(int64(f)).UTC(), body[8:], nil
		}
		return numberFromKey(f), body[8:], nil
	case keyTagString, keyTagBinary:
		v, rest, err := unescapeKey(body)
		if err != nil {
			return nil, nil, err
		}
		if tag == keyTagString {
			return string(v), rest, nil
		}
		return v, rest, nil
	case keyTagArray:
		arr := []any{}
		for {
			if len(body) == 0 {
				return nil, nil, dataErrf(b, len(b), nil, "unterminated array key")
			}
			if body[0] == keyTagArrayEnd {
				return arr, body[1:], nil
			}
			var elem any
			var err error
			elem, body, err = decodeKeyPart(body)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, elem)
		}
	default:
		return nil, nil, dataErrf(b, 0, nil, "unknown key tag 0x%02x", tag)
	}
}

func unescapeKey(b []byte) ([]byte, []byte, error) {
	out := []byte{}
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != 0 {
			out = append(out, c)
			continue
		}
		if i+1 >= len(b) {
			break
		}
		switch b[i+1] {
		case keyBytesEscape:
			out = append(out, 0)
			i++
		case keyBytesEnd:
			return out, b[i+2:], nil
		default:
			return nil, nil, dataErrf(b, i, nil, "invalid escape in key")
		}
	}
	return nil, nil, dataErrf(b, len(b), nil, "unterminated key")
}

// numberFromKey returns integral numbers as int64 so that they compare equal
// to the integers found in decoded records.
func numberFromKey(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

func keyString(raw []byte) string {
	v, err := decodeKey(raw)
	if err != nil {
		return hexstr(raw)
	}
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

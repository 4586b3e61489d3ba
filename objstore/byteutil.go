package objstore

import (
	"encoding/binary"
	"math"
)

// appendWriter lets msgpack encode straight into a byte slice.
type appendWriter []byte

func (w *appendWriter) Write(b []byte) (int, error) {
	*w = append(*w, b...)
	return len(b), nil
}

func (w *appendWriter) WriteByte(v byte) error {
	*w = append(*w, v)
	return nil
}

func appendVarBytes(buf, v []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

// frameReader consumes uvarint-framed fields of a stored value. Errors
// report the offset within the whole value.
type frameReader struct {
	whole []byte
	rest  []byte
}

func newFrameReader(data []byte) *frameReader {
	return &frameReader{data, data}
}

func (r *frameReader) offset() int {
	return len(r.whole) - len(r.rest)
}

func (r *frameReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.rest)
	if n <= 0 {
		return 0, dataErrf(r.whole, r.offset(), nil, "invalid uvarint")
	}
	r.rest = r.rest[n:]
	return v, nil
}

func (r *frameReader) length() (int, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, dataErrf(r.whole, r.offset(), nil, "length too large: %d", v)
	}
	return int(v), nil
}

func (r *frameReader) bytes(n int) ([]byte, error) {
	if len(r.rest) < n {
		return nil, dataErrf(r.whole, r.offset(), nil, "not enough data: %d bytes remaining, %d wanted", len(r.rest), n)
	}
	v := r.rest[:n:n]
	r.rest = r.rest[n:]
	return v, nil
}

func (r *frameReader) varBytes() ([]byte, error) {
	n, err := r.length()
	if err != nil {
		return nil, err
	}
	return r.bytes(n)
}

package objstore

import (
	"bytes"
	"encoding/binary"
	"slices"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize       = 4
	maxValueHeaderSize = binary.MaxVarintLen64 * 4
)

// value is the stored form of a record:
//
//  1. Flags (uvarint).
//  2. Modification count (uvarint).
//  3. Data size (uvarint).
//  4. Index size (uvarint).
//  5. Data: msgpack of the record.
//  6. Index key records: the index entries contributed by this record, so that
//     they can be removed when the record is overwritten or deleted.
type value struct {
	Flags    valueFlags
	ModCount uint64
	Data     []byte
	Index    []byte
}

func encodeValue(modCount uint64, data []byte, rows indexRows) []byte {
	idx := appendIndexKeys(nil, rows)
	buf := make([]byte, 0, maxValueHeaderSize+len(data)+len(idx))
	buf = binary.AppendUvarint(buf, uint64(vfDefault))
	buf = binary.AppendUvarint(buf, modCount)
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	buf = binary.AppendUvarint(buf, uint64(len(idx)))
	buf = append(buf, data...)
	return append(buf, idx...)
}

func (vle *value) decode(data []byte) error {
	if len(data) < minValueSize {
		return dataErrf(data, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	r := newFrameReader(data)

	flags, err := r.uvarint()
	if err != nil {
		return err
	}
	if (flags & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(data, r.offset(), nil, "invalid value: unsupported flags %x", flags)
	}
	vle.Flags = valueFlags(flags)

	if vle.ModCount, err = r.uvarint(); err != nil {
		return err
	}
	dataSize, err := r.length()
	if err != nil {
		return err
	}
	indexSize, err := r.length()
	if err != nil {
		return err
	}
	if len(r.rest) != dataSize+indexSize {
		return dataErrf(data, r.offset(), nil, "invalid value: got %d bytes for data+index, expected %d bytes", len(r.rest), dataSize+indexSize)
	}
	vle.Data = must(r.bytes(dataSize))
	vle.Index = must(r.bytes(indexSize))
	return nil
}

type indexRow struct {
	IndexOrd uint64
	KeyRaw   []byte
}

type indexRows []indexRow

func (rows indexRows) sort() indexRows {
	slices.SortFunc(rows, func(a, b indexRow) int {
		if a.IndexOrd != b.IndexOrd {
			if a.IndexOrd < b.IndexOrd {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.KeyRaw, b.KeyRaw)
	})
	return slices.CompactFunc(rows, func(a, b indexRow) bool {
		return a.IndexOrd == b.IndexOrd && bytes.Equal(a.KeyRaw, b.KeyRaw)
	})
}

func appendIndexKeys(buf []byte, rows indexRows) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(rows)))
	for _, row := range rows {
		buf = binary.AppendUvarint(buf, row.IndexOrd)
		buf = appendVarBytes(buf, row.KeyRaw)
	}
	return buf
}

func decodeIndexKeys(data []byte, f func(ord uint64, key []byte) error) error {
	r := newFrameReader(data)
	n, err := r.length()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ord, err := r.uvarint()
		if err != nil {
			return err
		}
		key, err := r.varBytes()
		if err != nil {
			return err
		}
		if err := f(ord, key); err != nil {
			return err
		}
	}
	return nil
}

type indexDiffer struct {
	newRows indexRows
}

func (d *indexDiffer) checkOldKey(oldOrd uint64, oldKey []byte) bool {
	// Look for a new row that's >= old row.
	for len(d.newRows) > 0 {
		newOrd := d.newRows[0].IndexOrd
		if oldOrd < newOrd {
			return false
		} else if oldOrd == newOrd {
			c := bytes.Compare(oldKey, d.newRows[0].KeyRaw)
			if c < 0 {
				return false
			} else if c == 0 {
				return true
			}
		}
		d.newRows = d.newRows[1:]
	}
	return false
}

// findRemovedIndexKeys calls removed for every old index key that is not among
// newRows. Both lists must be sorted.
func findRemovedIndexKeys(oldData []byte, newRows indexRows, removed func(ord uint64, key []byte) error) error {
	d := indexDiffer{newRows}
	return decodeIndexKeys(oldData, func(ord uint64, key []byte) error {
		if !d.checkOldKey(ord, key) {
			return removed(ord, key)
		}
		return nil
	})
}

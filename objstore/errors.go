package objstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConstraint is returned when a write would violate a key or unique
	// index constraint. The transaction that hit it is rolled back.
	ErrConstraint = errors.New("constraint violation")

	// ErrData is returned for values that cannot be used as keys, and for
	// records missing their key when the store has no key generator.
	ErrData = errors.New("invalid data")

	// ErrNotFound is returned when a record being updated does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownStore and ErrUnknownIndex mean the caller named an object
	// store or index the database doesn't have.
	ErrUnknownStore = errors.New("unknown object store")
	ErrUnknownIndex = errors.New("unknown index")

	ErrReadOnly = errors.New("transaction is read-only")
	ErrScope    = errors.New("object store is not in transaction scope")
	ErrClosed   = errors.New("connection is closed")

	// ErrBlocked means other connections kept the database open while this
	// request needed exclusive access, and the request has been abandoned.
	ErrBlocked = errors.New("blocked by other connections")

	// ErrVersion is returned when opening with a version lower than the
	// stored one.
	ErrVersion = errors.New("requested version is less than the existing version")
)

// DataError reports a stored value or key that failed to decode.
type DataError struct {
	Data   []byte
	Offset int
	Msg    string
	Err    error
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{Data: data, Offset: off, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s at offset %d of %d bytes [%s]", msg, e.Offset, len(e.Data), hexstr(e.Data))
}

// StoreError describes a failure on a particular object store, index or key.
// It unwraps to one of the sentinel errors of this package.
type StoreError struct {
	Store string
	Index string
	Key   any
	Msg   string
	Err   error
}

func storeErrf(store, index string, key any, err error, format string, args ...any) error {
	return &StoreError{store, index, key, fmt.Sprintf(format, args...), err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Store)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		fmt.Fprintf(&buf, "/%v", e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

package tabledb

import (
	"errors"
	"fmt"

	"github.com/andreyvit/tabledb/objstore"
	"github.com/andreyvit/tabledb/schema"
)

type (
	Record      = schema.Record
	ConfigError = schema.ConfigError
)

var (
	// ErrUnsupportedEnvironment is returned when a Database has no storage
	// factory to open connections with.
	ErrUnsupportedEnvironment = errors.New("no object store factory available")

	ErrUnknownTable = errors.New("table does not exist")

	ErrConstraint   = objstore.ErrConstraint
	ErrData         = objstore.ErrData
	ErrNotFound     = objstore.ErrNotFound
	ErrUnknownIndex = objstore.ErrUnknownIndex
	ErrBlocked      = objstore.ErrBlocked
	ErrClosed       = objstore.ErrClosed
	ErrVersion      = objstore.ErrVersion
)

func configErrorf(path string, format string, args ...any) error {
	return &schema.ConfigError{Details: []schema.Detail{
		{Message: fmt.Sprintf(format, args...), Path: []string{path}, Type: "any.invalid"},
	}}
}

package schema

import (
	"slices"
	"strconv"
	"strings"
)

// ConfigError reports a malformed or incomplete schema, or a row that
// violates its table's primary key rule.
type ConfigError struct {
	Details []Detail
}

// Detail is one violation. Path locates the offending value within the
// schema document.
type Detail struct {
	Message string   `json:"message"`
	Path    []string `json:"path"`
	Type    string   `json:"type"`
}

// Compose wraps a message into a single detail with an unknown path.
func Compose(msg string) []Detail {
	return []Detail{{Message: msg, Path: []string{"unknown"}, Type: "string"}}
}

func newConfigError(msg string) *ConfigError {
	return &ConfigError{Details: Compose(msg)}
}

func (e *ConfigError) Error() string {
	switch len(e.Details) {
	case 0:
		return "invalid configuration"
	case 1:
		return e.Details[0].Message
	}
	msgs := make([]string, len(e.Details))
	for i, d := range e.Details {
		msgs[i] = d.Message
	}
	return strings.Join(msgs, "; ")
}

// Paths returns the dotted paths of all details, for tests and logging.
func (e *ConfigError) Paths() []string {
	result := make([]string, len(e.Details))
	for i, d := range e.Details {
		result[i] = strings.Join(d.Path, ".")
	}
	return result
}

type problems struct {
	details []Detail
}

func (p *problems) add(typ, msg string, path ...string) {
	p.details = append(p.details, Detail{Message: msg, Path: slices.Clone(path), Type: typ})
}

func (p *problems) err() error {
	if len(p.details) == 0 {
		return nil
	}
	return &ConfigError{Details: p.details}
}

func quoted(label string) string {
	return strconv.Quote(label)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// parsePath splits a decoder key like tables[0].indexes[email].x into
// path elements.
func parsePath(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '[' || r == ']'
	})
}
